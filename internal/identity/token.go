package identity

import (
	"crypto/rand"
	"encoding/hex"
)

// randomToken returns a hex-encoded cryptographically random token of n
// random bytes.
func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
