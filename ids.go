package realtime

import (
	"strings"

	"github.com/google/uuid"
)

// IDGenerator returns a fresh identifier starting with prefix.
type IDGenerator func(prefix string) string

// EventIDPrefix prefixes the ids of outbound envelopes.
const EventIDPrefix = "evt_"

// GenerateID returns prefix followed by the hex digits of a random UUID.
func GenerateID(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}
