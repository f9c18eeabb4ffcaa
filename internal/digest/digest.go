// Package digest computes the content identifiers used for networks and game
// records, and the short fingerprints that correlate worker reports with
// scheduled options.
package digest

import (
	"crypto/md5"
	"encoding/hex"
	"hash"
	"io"

	sha256 "github.com/minio/sha256-simd"
)

// FingerprintLength is the number of hex characters kept from an options digest.
const FingerprintLength = 6

// Hasher is an io.Writer that accumulates a SHA-256 digest of everything
// written to it. It never buffers input.
type Hasher struct {
	h hash.Hash
	n int64
}

// NewHasher returns an empty content hasher.
func NewHasher() *Hasher {
	return &Hasher{h: sha256.New()}
}

func (h *Hasher) Write(p []byte) (int, error) {
	n, err := h.h.Write(p)
	h.n += int64(n)
	return n, err
}

// Sum returns the lowercase hex digest of the bytes written so far.
func (h *Hasher) Sum() string {
	return hex.EncodeToString(h.h.Sum(nil))
}

// Len returns the number of bytes hashed.
func (h *Hasher) Len() int64 {
	return h.n
}

// Reader hashes r to EOF.
func Reader(r io.Reader) (string, error) {
	h := NewHasher()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return h.Sum(), nil
}

// Bytes hashes b.
func Bytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Fingerprint returns the first FingerprintLength hex characters of the MD5
// of s. It is a correlation key, not an integrity check.
func Fingerprint(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])[:FingerprintLength]
}
