package signer_test

import (
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/hardy-3003/evidencestore/internal/signer"
)

var fixedTime = time.Date(2025, 1, 27, 18, 0, 0, 0, time.UTC)

func TestHMACSigner_signVerify(t *testing.T) {
	s := signer.NewHMACSigner(map[string][]byte{"k1": []byte("secret-one")})

	res, err := s.Sign(map[string]any{"amount": 100}, "k1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Algorithm != signer.AlgorithmHMACSHA256 {
		t.Errorf("algorithm: got %q", res.Algorithm)
	}
	if res.KeyID != "k1" {
		t.Errorf("key id: got %q", res.KeyID)
	}
	if _, err := base64.StdEncoding.DecodeString(res.Signature); err != nil {
		t.Errorf("signature is not base64: %v", err)
	}
	if !s.Verify(map[string]any{"amount": 100}, res) {
		t.Error("verification failed for untouched data")
	}
}

func TestHMACSigner_keyOrderIndependent(t *testing.T) {
	s := signer.NewHMACSigner(map[string][]byte{"k1": []byte("secret")})

	res, err := s.Sign(map[string]any{"a": 1, "b": 2}, "k1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if !s.Verify(map[string]any{"b": 2, "a": 1}, res) {
		t.Error("key reordering broke verification")
	}
}

func TestHMACSigner_unknownKey(t *testing.T) {
	s := signer.NewHMACSigner(map[string][]byte{"k1": []byte("secret")})

	if _, err := s.Sign("data", "nope", nil); !errors.Is(err, signer.ErrKeyNotFound) {
		t.Errorf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestHMACSigner_verifyNeverErrors(t *testing.T) {
	s := signer.NewHMACSigner(map[string][]byte{"k1": []byte("secret")})
	res, err := s.Sign("data", "k1", nil)
	if err != nil {
		t.Fatal(err)
	}

	if s.Verify("tampered", res) {
		t.Error("tampered data verified")
	}
	if s.Verify("data", nil) {
		t.Error("nil result verified")
	}

	wrongAlg := *res
	wrongAlg.Algorithm = "ed25519"
	if s.Verify("data", &wrongAlg) {
		t.Error("algorithm mismatch verified")
	}

	wrongKey := *res
	wrongKey.KeyID = "unknown"
	if s.Verify("data", &wrongKey) {
		t.Error("unknown key id verified")
	}

	badB64 := *res
	badB64.Signature = "!!! not base64 !!!"
	if s.Verify("data", &badB64) {
		t.Error("undecodable signature verified")
	}
}

func TestReplaySigner_deterministic(t *testing.T) {
	data := map[string]any{"invoice": 42}

	var first *signer.Result
	for i := 0; i < 3; i++ {
		// Fresh instance each round, simulating a process restart.
		s := signer.NewReplaySigner([]byte("master-key"), fixedTime)
		res, err := s.Sign(data, "k1", nil)
		if err != nil {
			t.Fatal(err)
		}
		if first == nil {
			first = res
			continue
		}
		if res.Signature != first.Signature {
			t.Errorf("run %d: signature differs: %q vs %q", i, res.Signature, first.Signature)
		}
		if !res.Timestamp.Equal(first.Timestamp) {
			t.Errorf("run %d: timestamp differs", i)
		}
	}
	if !first.Timestamp.Equal(fixedTime) {
		t.Errorf("timestamp: got %v, want fixed %v", first.Timestamp, fixedTime)
	}
}

func TestReplaySigner_inputSensitivity(t *testing.T) {
	s := signer.NewReplaySigner([]byte("master-key"), fixedTime)

	base, err := s.Sign("payload", "k1", nil)
	if err != nil {
		t.Fatal(err)
	}
	changedData, err := s.Sign("payloaX", "k1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if changedData.Signature == base.Signature {
		t.Error("changing data did not change the signature")
	}
	changedKey, err := s.Sign("payload", "k2", nil)
	if err != nil {
		t.Fatal(err)
	}
	if changedKey.Signature == base.Signature {
		t.Error("changing key id did not change the signature")
	}
}

func TestReplaySigner_arbitraryKeyIDs(t *testing.T) {
	s := signer.NewReplaySigner([]byte("master-key"), fixedTime)

	res, err := s.Sign("x", "never-registered", nil)
	if err != nil {
		t.Fatal(err)
	}
	if !s.Verify("x", res) {
		t.Error("replay signer failed to verify its own signature")
	}
}

func TestSwitch_delegatesAndSwaps(t *testing.T) {
	hmacSigner := signer.NewHMACSigner(map[string][]byte{"k1": []byte("secret")})
	replay := signer.NewReplaySigner([]byte("master"), fixedTime)

	sw := signer.NewSwitch(hmacSigner)
	res, err := sw.Sign("data", "k1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if !sw.Verify("data", res) {
		t.Error("switch failed to verify via initial signer")
	}

	sw.Use(replay)
	res2, err := sw.Sign("data", "any-id", nil)
	if err != nil {
		t.Fatal(err)
	}
	if !res2.Timestamp.Equal(fixedTime) {
		t.Error("switch did not delegate to the replaced signer")
	}
}

func TestDecodeKeys(t *testing.T) {
	keys, err := signer.DecodeKeys(map[string]string{
		"k1": base64.StdEncoding.EncodeToString([]byte("secret")),
	})
	if err != nil {
		t.Fatal(err)
	}
	if string(keys["k1"]) != "secret" {
		t.Errorf("decoded key: %q", keys["k1"])
	}

	if _, err := signer.DecodeKeys(map[string]string{"k1": "%%%"}); err == nil {
		t.Error("expected error for invalid base64")
	}
	if _, err := signer.DecodeKeys(map[string]string{"": "c2VjcmV0"}); err == nil {
		t.Error("expected error for empty key id")
	}
}

func TestDeriveKeys(t *testing.T) {
	a, err := signer.DeriveKeys([]byte("master"), []byte("salt"), []string{"k1", "k2"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := signer.DeriveKeys([]byte("master"), []byte("salt"), []string{"k1", "k2"})
	if err != nil {
		t.Fatal(err)
	}
	if string(a["k1"]) != string(b["k1"]) {
		t.Error("derivation is not deterministic")
	}
	if string(a["k1"]) == string(a["k2"]) {
		t.Error("distinct ids derived identical keys")
	}
	if _, err := signer.DeriveKeys(nil, nil, []string{"k1"}); err == nil {
		t.Error("expected error for empty master secret")
	}
}

func TestResult_validation(t *testing.T) {
	if _, err := signer.NewResult("", signer.AlgorithmHMACSHA256, "k1", fixedTime, nil); err == nil {
		t.Error("empty signature accepted")
	}
	if _, err := signer.NewResult("sig", "", "k1", fixedTime, nil); err == nil {
		t.Error("empty algorithm accepted")
	}
	if _, err := signer.NewResult("sig", signer.AlgorithmHMACSHA256, "", fixedTime, nil); err == nil {
		t.Error("empty key id accepted")
	}
	if _, err := signer.NewResult("sig", signer.AlgorithmHMACSHA256, "k1", time.Time{}, nil); err == nil {
		t.Error("zero timestamp accepted")
	}
	res, err := signer.NewResult("sig", signer.AlgorithmHMACSHA256, "k1", fixedTime, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Metadata == nil {
		t.Error("nil metadata not normalised")
	}
}
