// Package signer produces and verifies deterministic HMAC-SHA256
// authentication tags over arbitrary structured, text, or byte data.
//
// Signing is decoupled from the evidence ledger: callers decide whether
// to sign a record's canonical form before or after writing it. Data is
// normalised with the same canonicalization rule the blob store uses
// (sorted-key JSON for structured values, UTF-8 for text, passthrough for
// bytes), so a value signs identically however its keys were ordered.
//
// Verification never returns an error: any internal failure — wrong
// algorithm, unknown key, undecodable tag — collapses to false, so
// "inconclusive" and "failed" are deliberately indistinguishable.
package signer

import (
	"errors"
	"fmt"
	"time"

	"github.com/hardy-3003/evidencestore/pkg/canonical"
)

// AlgorithmHMACSHA256 identifies the HMAC-SHA256 tag algorithm.
const AlgorithmHMACSHA256 = "hmac-sha256"

// ErrKeyNotFound indicates the requested signing key id is not
// configured. Unlike verification failures this is surfaced as an error:
// it is a misconfiguration, not a trust decision.
var ErrKeyNotFound = errors.New("signing key not found")

// Result is the immutable outcome of a Sign call. All fields are
// mandatory; Metadata is never nil.
type Result struct {
	Signature string         `json:"signature"`
	Algorithm string         `json:"algorithm"`
	KeyID     string         `json:"key_id"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata"`
}

// NewResult validates and builds a Result.
func NewResult(signature, algorithm, keyID string, ts time.Time, metadata map[string]any) (*Result, error) {
	if signature == "" {
		return nil, fmt.Errorf("signature result: empty signature")
	}
	if algorithm == "" {
		return nil, fmt.Errorf("signature result: empty algorithm")
	}
	if keyID == "" {
		return nil, fmt.Errorf("signature result: empty key id")
	}
	if ts.IsZero() {
		return nil, fmt.Errorf("signature result: zero timestamp")
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	return &Result{
		Signature: signature,
		Algorithm: algorithm,
		KeyID:     keyID,
		Timestamp: ts.UTC(),
		Metadata:  metadata,
	}, nil
}

// Signer signs data under a named key and verifies previously produced
// results.
type Signer interface {
	Sign(data any, keyID string, metadata map[string]any) (*Result, error)
	Verify(data any, res *Result) bool
	Algorithm() string
}

// canonicalize normalises a payload to the byte form that gets signed.
func canonicalize(data any) ([]byte, error) {
	switch v := data.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return canonical.MarshalJSON(v)
	}
}
