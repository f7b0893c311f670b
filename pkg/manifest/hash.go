package manifest

import (
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"strings"

	sha256 "github.com/minio/sha256-simd"
)

var ErrHashMismatch = errors.New("content hash mismatch")

// NewHasher returns the hash used for bundle content hashes.
func NewHasher() hash.Hash {
	return sha256.New()
}

// HashBytes returns the hex content hash of b.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// HashReader consumes r and returns its hex content hash and length.
func HashReader(r io.Reader) (string, int64, error) {
	h := NewHasher()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// VerifyHash compares a computed hex hash against the expected one. An empty
// expected hash is accepted without comparison.
func VerifyHash(expected, actual string) error {
	if expected == "" {
		return nil
	}
	if !strings.EqualFold(expected, actual) {
		return fmt.Errorf("%w: expected %s, got %s", ErrHashMismatch, shortHash(expected), shortHash(actual))
	}
	return nil
}
