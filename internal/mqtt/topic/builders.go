package topic

import (
	"fmt"
	"time"
)

// DefaultPrefix is the root of every topic the edge client publishes for itself.
const DefaultPrefix = "graylogic/edge"

// Topics builds the edge client's own topics under a prefix.
//
//	topics := topic.Topics{Prefix: "graylogic/edge"}
//	t := topics.Status("sensor-17")
//	// Returns: "graylogic/edge/sensor-17/status"
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultPrefix
	}
	return t.Prefix
}

// Status returns the retained online/offline topic for a client.
//
// Example: graylogic/edge/sensor-17/status
func (t Topics) Status(clientID string) string {
	return fmt.Sprintf("%s/%s/status", t.prefix(), clientID)
}

// Telemetry returns the topic a client publishes readings on.
//
// Example: graylogic/edge/sensor-17/telemetry/temperature
func (t Topics) Telemetry(clientID, channel string) string {
	return fmt.Sprintf("%s/%s/telemetry/%s", t.prefix(), clientID, channel)
}

// Command returns the topic a client receives commands on.
//
// Example: graylogic/edge/sensor-17/command
func (t Topics) Command(clientID string) string {
	return fmt.Sprintf("%s/%s/command", t.prefix(), clientID)
}

// AllCommands returns a filter matching every command below a client's
// command topic.
//
// Pattern: graylogic/edge/sensor-17/command/#
func (t Topics) AllCommands(clientID string) string {
	return fmt.Sprintf("%s/%s/command/#", t.prefix(), clientID)
}

// OnlinePayload builds the retained status payload published after connect.
func OnlinePayload(clientID string, now time.Time) string {
	return fmt.Sprintf(
		`{"status":"online","client_id":"%s","timestamp":"%s"}`,
		clientID,
		now.UTC().Format(time.RFC3339),
	)
}

// OfflinePayload builds the status payload for a will or graceful shutdown.
func OfflinePayload(clientID, reason string, now time.Time) string {
	return fmt.Sprintf(
		`{"status":"offline","client_id":"%s","reason":"%s","timestamp":"%s"}`,
		clientID,
		reason,
		now.UTC().Format(time.RFC3339),
	)
}
