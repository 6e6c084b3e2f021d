// Package canonical provides the deterministic serialization and digest
// formatting shared by the blob store, the ledger, and the signers.
//
// Canonical JSON here means: object keys sorted ascending, no insignificant
// whitespace, UTF-8, no HTML escaping. Two semantically identical structured
// values always canonicalize to byte-identical output, so their digests are
// identical too.
//
// Digests are rendered as "sha256:" followed by 64 lowercase hex characters.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// HashPrefix is the scheme prefix carried by every digest string.
const HashPrefix = "sha256:"

var hashPattern = regexp.MustCompile(`^sha256:[0-9a-f]{64}$`)

// MarshalJSON serializes v to canonical JSON bytes.
//
// The value is first round-tripped through encoding/json so that struct
// input degrades to a key-sorted map form; encoding/json sorts map keys,
// which gives the canonical ordering. Numbers are preserved verbatim via
// json.Number.
func MarshalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal value: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var norm any
	if err := dec.Decode(&norm); err != nil {
		return nil, fmt.Errorf("normalize value: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(norm); err != nil {
		return nil, fmt.Errorf("encode canonical form: %w", err)
	}
	// Encoder appends a trailing newline; canonical form has none.
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// HashBytes returns the prefixed SHA-256 digest of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return HashPrefix + hex.EncodeToString(sum[:])
}

// HashString returns the prefixed SHA-256 digest of the UTF-8 bytes of s.
func HashString(s string) string {
	return HashBytes([]byte(s))
}

// ValidHash reports whether h is a well-formed prefixed digest string.
func ValidHash(h string) bool {
	return hashPattern.MatchString(h)
}

// StripPrefix returns the bare hex portion of a prefixed digest.
// The second return is false if h is not well-formed.
func StripPrefix(h string) (string, bool) {
	if !ValidHash(h) {
		return "", false
	}
	return strings.TrimPrefix(h, HashPrefix), true
}
