package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"time"
)

// ReplaySigner signs deterministically: one master key, a fixed timestamp
// supplied at construction, and a per-key-id subkey derived as
// HMAC-SHA256(master, key_id). Signing the same (data, key_id) pair any
// number of times — across process restarts included — yields
// byte-identical results, which makes it suitable for golden-test
// fixtures and replay verification. It signs under arbitrary key ids
// without pre-registration.
type ReplaySigner struct {
	master []byte
	fixed  time.Time
}

// NewReplaySigner builds a deterministic signer from a master key and the
// fixed timestamp stamped on every result.
func NewReplaySigner(master []byte, fixed time.Time) *ReplaySigner {
	return &ReplaySigner{
		master: append([]byte(nil), master...),
		fixed:  fixed.UTC(),
	}
}

// Sign implements Signer.
func (s *ReplaySigner) Sign(data any, keyID string, metadata map[string]any) (*Result, error) {
	tag, err := computeTag(s.subkey(keyID), data)
	if err != nil {
		return nil, err
	}
	return NewResult(tag, AlgorithmHMACSHA256, keyID, s.fixed, metadata)
}

// Verify implements Signer.
func (s *ReplaySigner) Verify(data any, res *Result) bool {
	if res == nil || res.Algorithm != AlgorithmHMACSHA256 {
		return false
	}
	return verifyTag(s.subkey(res.KeyID), data, res.Signature)
}

// Algorithm implements Signer.
func (s *ReplaySigner) Algorithm() string { return AlgorithmHMACSHA256 }

func (s *ReplaySigner) subkey(keyID string) []byte {
	mac := hmac.New(sha256.New, s.master)
	mac.Write([]byte(keyID))
	return mac.Sum(nil)
}
