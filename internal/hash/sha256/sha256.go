// Package sha256 fingerprints fetched listing pages so repeated pagination
// can be detected.
package sha256

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
)

// Hasher implements crawler.Hasher using SHA-256 over whitespace-collapsed
// content.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the hex digest of data with every whitespace run folded to a
// single space, so re-indented copies of one page share a fingerprint.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.New()
	for i, field := range bytes.Fields(data) {
		if i > 0 {
			sum.Write([]byte{' '})
		}
		sum.Write(field)
	}
	return hex.EncodeToString(sum.Sum(nil)), nil
}
