// Package sha256 computes the labeled SHA-256 digests carried by archive
// records.
package sha256

import (
	"crypto/sha256"
	"encoding/base32"
)

// Label prefixes every digest so readers know which algorithm produced it.
const Label = "sha256:"

// Hasher implements crawler.Hasher.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns "sha256:" followed by the base32 encoded sum of data, the
// form archive readers expect in WARC-Block-Digest and WARC-Payload-Digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return Label + base32.StdEncoding.EncodeToString(sum[:]), nil
}
