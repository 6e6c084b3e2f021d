package signer

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// hkdfInfoPrefix namespaces derived keys so material derived here never
// collides with other HKDF consumers of the same master secret.
const hkdfInfoPrefix = "evidencestore/signer:"

// derivedKeySize is the byte length of HKDF-derived signing keys.
const derivedKeySize = 32

// DecodeKeys decodes a configuration map of key id to base64 secret into
// the raw key map an HMACSigner takes.
func DecodeKeys(encoded map[string]string) (map[string][]byte, error) {
	keys := make(map[string][]byte, len(encoded))
	for id, b64 := range encoded {
		if id == "" {
			return nil, fmt.Errorf("signing key with empty id")
		}
		raw, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return nil, fmt.Errorf("decode signing key %q: %w", id, err)
		}
		if len(raw) == 0 {
			return nil, fmt.Errorf("signing key %q is empty", id)
		}
		keys[id] = raw
	}
	return keys, nil
}

// DeriveKeys expands a master passphrase into per-id signing keys via
// HKDF-SHA256, for deployments that configure a single secret instead of
// one key per id. The salt binds the derivation to a deployment; it may
// be empty.
func DeriveKeys(master, salt []byte, ids []string) (map[string][]byte, error) {
	if len(master) == 0 {
		return nil, fmt.Errorf("empty master secret")
	}
	keys := make(map[string][]byte, len(ids))
	for _, id := range ids {
		if id == "" {
			return nil, fmt.Errorf("signing key with empty id")
		}
		r := hkdf.New(sha256.New, master, salt, []byte(hkdfInfoPrefix+id))
		key := make([]byte, derivedKeySize)
		if _, err := io.ReadFull(r, key); err != nil {
			return nil, fmt.Errorf("derive signing key %q: %w", id, err)
		}
		keys[id] = key
	}
	return keys, nil
}
