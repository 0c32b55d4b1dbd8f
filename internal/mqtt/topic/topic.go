// Package topic validates MQTT topic names and filters, matches names against
// subscription filters, and builds the edge client's own topics.
package topic

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Maximum encoded length of a topic (two-byte length prefix).
const maxTopicLength = 65535

var (
	// ErrEmpty is returned for an empty topic or filter.
	ErrEmpty = errors.New("topic: cannot be empty")

	// ErrTooLong is returned when a topic exceeds the encodable length.
	ErrTooLong = errors.New("topic: exceeds 65535 bytes")

	// ErrInvalidName is returned when a topic name contains wildcards or NUL.
	ErrInvalidName = errors.New("topic: invalid topic name")

	// ErrInvalidFilter is returned when wildcards are misplaced in a filter.
	ErrInvalidFilter = errors.New("topic: invalid topic filter")
)

// ValidateName checks a topic used for PUBLISH.
func ValidateName(name string) error {
	if err := validateCommon(name); err != nil {
		return err
	}
	if strings.ContainsAny(name, "+#") {
		return fmt.Errorf("%w: wildcards not allowed in %q", ErrInvalidName, name)
	}
	return nil
}

// ValidateFilter checks a topic filter used for SUBSCRIBE.
//
// '+' must occupy a whole level; '#' must occupy the last level.
func ValidateFilter(filter string) error {
	if err := validateCommon(filter); err != nil {
		return err
	}

	levels := strings.Split(filter, "/")
	for i, level := range levels {
		switch {
		case level == "#":
			if i != len(levels)-1 {
				return fmt.Errorf("%w: '#' must be the last level in %q", ErrInvalidFilter, filter)
			}
		case level == "+":
		case strings.ContainsAny(level, "+#"):
			return fmt.Errorf("%w: wildcard must occupy a whole level in %q", ErrInvalidFilter, filter)
		}
	}
	return nil
}

func validateCommon(s string) error {
	if s == "" {
		return ErrEmpty
	}
	if len(s) > maxTopicLength {
		return ErrTooLong
	}
	if !utf8.ValidString(s) || strings.ContainsRune(s, 0) {
		return fmt.Errorf("%w: %q is not valid UTF-8 text", ErrInvalidName, s)
	}
	return nil
}

// Match reports whether a topic name matches a subscription filter.
//
// Names starting with '$' are not matched by filters starting with a
// wildcard.
func Match(filter, name string) bool {
	if filter == "" || name == "" {
		return false
	}
	if strings.HasPrefix(name, "$") && (filter[0] == '+' || filter[0] == '#') {
		return false
	}

	fl := strings.Split(filter, "/")
	nl := strings.Split(name, "/")

	for i, f := range fl {
		if f == "#" {
			return true
		}
		if i >= len(nl) {
			return false
		}
		if f != "+" && f != nl[i] {
			return false
		}
	}
	return len(fl) == len(nl)
}
