package topic

import (
	"errors"
	"strings"
	"testing"
	"time"
)

// =============================================================================
// Validation Tests
// =============================================================================

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		wantErr error
	}{
		{"simple", "a/b/c", nil},
		{"leading slash", "/a", nil},
		{"empty", "", ErrEmpty},
		{"plus", "a/+/c", ErrInvalidName},
		{"hash", "a/#", ErrInvalidName},
		{"nul", "a\x00b", ErrInvalidName},
		{"too long", strings.Repeat("a", 65536), ErrTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.topic)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateName() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateName() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateFilter(t *testing.T) {
	tests := []struct {
		filter  string
		wantErr bool
	}{
		{"a/b", false},
		{"#", false},
		{"+", false},
		{"a/+/c", false},
		{"a/#", false},
		{"+/+/#", false},
		{"a/#/b", true},
		{"a+/b", true},
		{"a/b#", true},
		{"", true},
	}

	for _, tt := range tests {
		t.Run(tt.filter, func(t *testing.T) {
			err := ValidateFilter(tt.filter)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateFilter(%q) error = %v, wantErr %v", tt.filter, err, tt.wantErr)
			}
		})
	}
}

// =============================================================================
// Matching Tests
// =============================================================================

func TestMatch(t *testing.T) {
	tests := []struct {
		filter string
		name   string
		want   bool
	}{
		{"a/b/c", "a/b/c", true},
		{"a/b/c", "a/b", false},
		{"a/+/c", "a/x/c", true},
		{"a/+/c", "a/x/y/c", false},
		{"a/#", "a", true},
		{"a/#", "a/b/c", true},
		{"#", "a/b", true},
		{"+", "a", true},
		{"+", "a/b", false},
		{"+/+", "/a", true},
		{"#", "$SYS/uptime", false},
		{"+/uptime", "$SYS/uptime", false},
		{"$SYS/#", "$SYS/uptime", true},
		{"a/b", "a/b/c", false},
	}

	for _, tt := range tests {
		t.Run(tt.filter+"|"+tt.name, func(t *testing.T) {
			if got := Match(tt.filter, tt.name); got != tt.want {
				t.Errorf("Match(%q, %q) = %v, want %v", tt.filter, tt.name, got, tt.want)
			}
		})
	}
}

// =============================================================================
// Builder Tests
// =============================================================================

func TestTopics(t *testing.T) {
	topics := Topics{}

	if got := topics.Status("s1"); got != "graylogic/edge/s1/status" {
		t.Errorf("Status() = %q", got)
	}
	if got := (Topics{Prefix: "site"}).Telemetry("s1", "temp"); got != "site/s1/telemetry/temp" {
		t.Errorf("Telemetry() = %q", got)
	}
	if !Match(topics.AllCommands("s1"), topics.Command("s1")+"/reboot") {
		t.Error("AllCommands() does not match a command subtopic")
	}
	if err := ValidateFilter(topics.AllCommands("s1")); err != nil {
		t.Errorf("AllCommands() invalid: %v", err)
	}
}

func TestPayloads(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	if got := OnlinePayload("s1", now); got != `{"status":"online","client_id":"s1","timestamp":"2026-01-02T03:04:05Z"}` {
		t.Errorf("OnlinePayload() = %s", got)
	}
	if got := OfflinePayload("s1", "unexpected_disconnect", now); !strings.Contains(got, `"reason":"unexpected_disconnect"`) {
		t.Errorf("OfflinePayload() = %s", got)
	}
}
