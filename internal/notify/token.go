package notify

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// NewToken returns a random hex token for subscription confirmation
// links.
func NewToken() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
