package safeguard

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// NewEventID generates a security event identifier.
func NewEventID() string {
	return prefixedID("ev", 12)
}

func prefixedID(prefix string, hexLen int) string {
	b := make([]byte, (hexLen+1)/2)
	if _, err := rand.Read(b); err != nil {
		// Fallback to timestamp-based ID if crypto/rand fails
		return fmt.Sprintf("%s-%x", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%s", prefix, hex.EncodeToString(b)[:hexLen])
}
