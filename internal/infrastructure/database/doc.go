// Package database provides SQLite connectivity for the edge client's
// session store.
//
// This package manages:
//   - Database connection with WAL mode for concurrent access
//   - Embedded schema migrations applied in version order
//   - Connection pooling and lifecycle management
//
// The database file holds unacknowledged QoS 1/2 messages and the last
// packet identifier of a continue session, so a restarted daemon can resume
// the exchange with the broker where it stopped.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: "./data/edge-session.db", WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migration Strategy:
//
// Migrations are additive-only to support safe rollbacks:
//   - New columns must be NULLABLE or have DEFAULT values
//   - Each migration file has both .up.sql and .down.sql
package database
