// Package etag computes the content-derived version stamps used for
// optimistic concurrency control on stored resources.
package etag

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Hash returns the lowercase hex SHA-256 digest of canonical bytes.
func Hash(canonical []byte) string {
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

// Canonical returns the canonical serialization of v. Struct fields are
// emitted in declaration order and map keys are sorted, so identical logical
// content always produces identical bytes.
func Canonical(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical encoding: %w", err)
	}
	return data, nil
}

// Compute returns the etag for v.
func Compute(v any) (string, error) {
	data, err := Canonical(v)
	if err != nil {
		return "", err
	}
	return Hash(data), nil
}

// Quote renders an etag as an HTTP entity tag.
func Quote(tag string) string {
	return `"` + tag + `"`
}

// Parse normalizes a client-presented entity tag. It accepts quoted and bare
// values and strips a weak validator prefix.
func Parse(header string) string {
	v := strings.TrimSpace(header)
	v = strings.TrimPrefix(v, "W/")
	if len(v) >= 2 && strings.HasPrefix(v, `"`) && strings.HasSuffix(v, `"`) {
		v = v[1 : len(v)-1]
	}
	return v
}
