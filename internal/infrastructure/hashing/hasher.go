package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/kirillkom/media-asset-hub/internal/core/domain"
	"github.com/kirillkom/media-asset-hub/internal/core/ports"
)

const (
	AlgorithmSHA256 = "sha256"
	AlgorithmBLAKE3 = "blake3"
)

type SHA256 struct{}

func (SHA256) Algorithm() string { return AlgorithmSHA256 }

func (SHA256) Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

type BLAKE3 struct{}

func (BLAKE3) Algorithm() string { return AlgorithmBLAKE3 }

func (BLAKE3) Sum(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// New returns the hasher for algorithm. Switching algorithms on an existing
// store disables deduplication against assets hashed with the old one.
func New(algorithm string) (ports.ContentHasher, error) {
	switch strings.ToLower(strings.TrimSpace(algorithm)) {
	case "", AlgorithmSHA256:
		return SHA256{}, nil
	case AlgorithmBLAKE3:
		return BLAKE3{}, nil
	default:
		return nil, domain.WrapError(domain.ErrInvalidInput, "select hash algorithm", fmt.Errorf("unsupported algorithm %q", algorithm))
	}
}
