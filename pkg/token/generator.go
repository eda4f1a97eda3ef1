// Package token issues and redeems single-use write tokens.
package token

import (
	"crypto/rand"
	"fmt"
)

// DefaultLength is the number of characters in a generated token.
const DefaultLength = 32

// Alphabet is the token character set. Characters that are easy to confuse
// (0/O, 1/l/I) are left out.
const Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz23456789"

// Generate returns a cryptographically random token of the given length
// drawn uniformly from Alphabet.
func Generate(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("token length must be positive, got %d", length)
	}

	// Bytes at or above limit are rejected to keep the draw unbiased.
	n := len(Alphabet)
	limit := 256 - 256%n

	out := make([]byte, 0, length)
	buf := make([]byte, length+length/2)
	for len(out) < length {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("read random bytes: %w", err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, Alphabet[int(b)%n])
			if len(out) == length {
				break
			}
		}
	}
	return string(out), nil
}
