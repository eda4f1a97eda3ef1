package scenario

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Expand replaces {{name}} placeholders with values from vars. Inserted
// values are not expanded again.
func Expand(s string, vars map[string]string) (string, error) {
	var b strings.Builder
	rest := s
	for {
		before, after, found := strings.Cut(rest, "{{")
		b.WriteString(before)
		if !found {
			return b.String(), nil
		}
		expr, tail, closed := strings.Cut(after, "}}")
		if !closed {
			return "", fmt.Errorf("unterminated placeholder at position %d", len(s)-len(after)-2)
		}
		name := strings.TrimSpace(expr)
		value, ok := vars[name]
		if !ok {
			return "", fmt.Errorf("undefined variable %q", name)
		}
		b.WriteString(value)
		rest = tail
	}
}

func validSource(source string) error {
	switch {
	case source == "body":
	case strings.HasPrefix(source, "header.") && len(source) > len("header."):
	case strings.HasPrefix(source, "json.") && len(source) > len("json."):
	default:
		return fmt.Errorf("invalid source %q (expected body, header.<name> or json.<key>)", source)
	}
	return nil
}

// capture extracts a value from a response according to source.
func capture(source string, header http.Header, body []byte) (string, error) {
	switch {
	case source == "body":
		return strings.TrimSpace(string(body)), nil
	case strings.HasPrefix(source, "header."):
		name := strings.TrimPrefix(source, "header.")
		v := header.Get(name)
		if v == "" {
			return "", fmt.Errorf("header %s not present", name)
		}
		return v, nil
	case strings.HasPrefix(source, "json."):
		key := strings.TrimPrefix(source, "json.")
		var parsed map[string]any
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.UseNumber()
		if err := dec.Decode(&parsed); err != nil {
			return "", fmt.Errorf("body is not valid JSON: %v", err)
		}
		v, ok := parsed[key]
		if !ok {
			return "", fmt.Errorf("key %q not found in response", key)
		}
		return fmt.Sprintf("%v", v), nil
	}
	return "", validSource(source)
}
