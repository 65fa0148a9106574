// Package idgen generates the identifiers used for interview sessions and
// recorded events.
//
// Every ID is a UUIDv7 behind a short type prefix ("sess_", "evt_"), so IDs
// sort by creation time and their kind is visible in logs.
package idgen

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator of RFC 9562 version 7 UUIDs.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed prepends prefix to every ID produced by gen.
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Default is the generator behind New. Tests may swap it for a
// deterministic one.
var Default Generator = UUIDv7()

// New produces an ID using Default.
func New() string {
	return Default()
}

// Parse checks that id is prefix followed by a UUID and returns it in
// canonical lower-case form.
func Parse(prefix, id string) (string, error) {
	rest, ok := strings.CutPrefix(id, prefix)
	if !ok {
		return "", fmt.Errorf("idgen: %q does not start with %q", id, prefix)
	}
	u, err := uuid.Parse(rest)
	if err != nil {
		return "", fmt.Errorf("idgen: invalid UUID in %q: %w", id, err)
	}
	return prefix + u.String(), nil
}
