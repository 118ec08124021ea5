package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"

	"golang.org/x/crypto/blake2b"

	"hoa-nexus-rag/pkg/apperr"
)

// Hasher fingerprints file content. The digest is lower-case hex.
type Hasher struct {
	algorithm string
	newHash   func() hash.Hash
}

// NewHasher returns a hasher for "sha256" or "blake2b" (256-bit).
func NewHasher(algorithm string) (*Hasher, error) {
	switch algorithm {
	case "", "sha256":
		return &Hasher{algorithm: "sha256", newHash: sha256.New}, nil
	case "blake2b":
		return &Hasher{algorithm: "blake2b", newHash: func() hash.Hash {
			h, _ := blake2b.New256(nil) // only fails for oversized keys
			return h
		}}, nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm %q", algorithm)
	}
}

func (h *Hasher) Algorithm() string {
	return h.algorithm
}

// Sum streams r through the hash. Read errors are ExtractionErrors.
func (h *Hasher) Sum(r io.Reader) (string, error) {
	d := h.newHash()
	if _, err := io.Copy(d, r); err != nil {
		return "", apperr.NewExtraction("hash content", err)
	}
	return hex.EncodeToString(d.Sum(nil)), nil
}

// SumBytes hashes an in-memory buffer.
func (h *Hasher) SumBytes(b []byte) string {
	d := h.newHash()
	d.Write(b)
	return hex.EncodeToString(d.Sum(nil))
}
