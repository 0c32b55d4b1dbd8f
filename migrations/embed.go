// Package migrations embeds SQL migration files into the binary.
//
// The edge client runs its session store migrations without needing the SQL
// files on the device filesystem; they are compiled into the executable.
package migrations

import (
	"embed"

	"github.com/nerrad567/gray-logic-edge/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
