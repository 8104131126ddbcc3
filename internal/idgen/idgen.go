// Package idgen mints the public identifiers for accounts, ads, payment
// orders and events.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// WithPrefix returns prefix followed by 24 random hex characters.
func WithPrefix(prefix string) string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return prefix + hex.EncodeToString(b)
}

// AdID returns a time-ordered ad identifier, so ids sort by creation.
func AdID() string {
	return "ad_" + compact(uuid.Must(uuid.NewV7()))
}

// EventID returns a time-ordered notification identifier.
func EventID() string {
	return "evt_" + compact(uuid.Must(uuid.NewV7()))
}

// OrderID returns a payment order identifier. The gateway echoes it back on
// confirmation, so it must never repeat; it carries no timing information.
func OrderID() string {
	return "ord_" + compact(uuid.New())
}

func compact(id uuid.UUID) string {
	return strings.ReplaceAll(id.String(), "-", "")
}
