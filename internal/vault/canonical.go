package vault

import (
	"bytes"

	"github.com/goccy/go-json"
)

// CanonicalJSON serializes a tree in the canonical form the integrity
// hashes are computed over: compact, object keys sorted, no HTML
// escaping. Two implementations hashing the same tree must produce the
// same bytes, so this form is load-bearing.
func CanonicalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	// Encode appends a newline that is not part of the canonical form.
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
