package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"time"
)

// HMACSigner signs with a fixed registry of named secret keys and stamps
// the real current time on each result.
type HMACSigner struct {
	keys map[string][]byte
}

// NewHMACSigner builds a signer over a copy of the given key map.
func NewHMACSigner(keys map[string][]byte) *HMACSigner {
	copied := make(map[string][]byte, len(keys))
	for id, k := range keys {
		copied[id] = append([]byte(nil), k...)
	}
	return &HMACSigner{keys: copied}
}

// Sign implements Signer. It fails with ErrKeyNotFound when keyID is not
// registered.
func (s *HMACSigner) Sign(data any, keyID string, metadata map[string]any) (*Result, error) {
	key, ok := s.keys[keyID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrKeyNotFound, keyID)
	}
	tag, err := computeTag(key, data)
	if err != nil {
		return nil, err
	}
	return NewResult(tag, AlgorithmHMACSHA256, keyID, time.Now().UTC(), metadata)
}

// Verify implements Signer. It recomputes the tag and compares in
// constant time; any failure yields false, never an error.
func (s *HMACSigner) Verify(data any, res *Result) bool {
	if res == nil || res.Algorithm != AlgorithmHMACSHA256 {
		return false
	}
	key, ok := s.keys[res.KeyID]
	if !ok {
		return false
	}
	return verifyTag(key, data, res.Signature)
}

// Algorithm implements Signer.
func (s *HMACSigner) Algorithm() string { return AlgorithmHMACSHA256 }

// computeTag canonicalizes data and returns the base64 HMAC-SHA256 tag.
func computeTag(key []byte, data any) (string, error) {
	raw, err := canonicalize(data)
	if err != nil {
		return "", fmt.Errorf("canonicalize payload: %w", err)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(raw)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// verifyTag recomputes the tag for data and compares it against the
// presented base64 signature in constant time.
func verifyTag(key []byte, data any, signature string) bool {
	presented, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	raw, err := canonicalize(data)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(raw)
	return hmac.Equal(mac.Sum(nil), presented)
}
