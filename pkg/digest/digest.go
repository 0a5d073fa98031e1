// Package digest provides the hashing primitive for the overlay chain.
//
// The strong path is SHA-256 producing a 64-character hex string. The weak
// path is a rolling checksum padded to the same width; it exists only for
// environments where a cryptographic primitive cannot be used and provides
// NO real tamper-evidence. Callers must check Strong() before treating a
// chain as tamper-evident.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Hasher computes a deterministic 64-character hex digest over a string.
// Same input yields the same output across runs and platforms.
type Hasher interface {
	Sum(input string) string

	// Strong reports whether this hasher is cryptographic. Chains hashed
	// with a non-strong hasher are not tamper-evident.
	Strong() bool
}

// SHA256 is the preferred cryptographic hasher.
type SHA256 struct{}

func (SHA256) Sum(input string) string {
	h := sha256.Sum256([]byte(input))
	return hex.EncodeToString(h[:])
}

func (SHA256) Strong() bool { return true }

// Rolling is the degraded fallback hasher. It derives a 64-character hex
// string from a cheap 32-bit rolling checksum. Intentionally weak; do not
// "fix" it into something stronger without changing the capability flag.
type Rolling struct{}

func (Rolling) Sum(input string) string {
	var h uint32
	for i := 0; i < len(input); i++ {
		h = h*31 + uint32(input[i])
	}
	// Pad the 8 hex digits out to the full 64-character width so both
	// paths are interchangeable on the wire.
	block := fmt.Sprintf("%08x", h)
	out := make([]byte, 0, 64)
	for len(out) < 64 {
		out = append(out, block...)
	}
	return string(out)
}

func (Rolling) Strong() bool { return false }

// Default returns the strong hasher.
func Default() Hasher { return SHA256{} }
