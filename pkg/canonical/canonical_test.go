package canonical_test

import (
	"bytes"
	"testing"

	"github.com/hardy-3003/evidencestore/pkg/canonical"
)

func TestMarshalJSON_keyOrderIndependent(t *testing.T) {
	a, err := canonical.MarshalJSON(map[string]any{"a": 1, "b": 2})
	if err != nil {
		t.Fatal(err)
	}
	b, err := canonical.MarshalJSON(map[string]any{"b": 2, "a": 1})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Errorf("canonical forms differ: %s vs %s", a, b)
	}
	if string(a) != `{"a":1,"b":2}` {
		t.Errorf("unexpected canonical form: %s", a)
	}
}

func TestMarshalJSON_noHTMLEscaping(t *testing.T) {
	out, err := canonical.MarshalJSON(map[string]any{"q": "a<b>&c"})
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != `{"q":"a<b>&c"}` {
		t.Errorf("HTML characters were escaped: %s", out)
	}
}

func TestMarshalJSON_structInput(t *testing.T) {
	type payload struct {
		Zeta  int    `json:"zeta"`
		Alpha string `json:"alpha"`
	}
	out, err := canonical.MarshalJSON(payload{Zeta: 7, Alpha: "x"})
	if err != nil {
		t.Fatal(err)
	}
	// Struct field order must not leak into the canonical form.
	if string(out) != `{"alpha":"x","zeta":7}` {
		t.Errorf("unexpected canonical form: %s", out)
	}
}

func TestMarshalJSON_unsupportedType(t *testing.T) {
	if _, err := canonical.MarshalJSON(make(chan int)); err == nil {
		t.Error("expected error for unserializable value")
	}
}

func TestHashBytes_format(t *testing.T) {
	h := canonical.HashBytes([]byte("hello"))
	if !canonical.ValidHash(h) {
		t.Errorf("digest %q does not match the required format", h)
	}
	// Well-known SHA-256 of "hello".
	want := "sha256:2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	if h != want {
		t.Errorf("HashBytes: got %q, want %q", h, want)
	}
}

func TestValidHash_rejectsMalformed(t *testing.T) {
	for _, bad := range []string{
		"",
		"2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824",
		"sha256:",
		"sha256:ZZf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824",
		"sha256:2cf24d",
		"md5:2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824",
	} {
		if canonical.ValidHash(bad) {
			t.Errorf("ValidHash(%q) = true, want false", bad)
		}
	}
}

func TestStripPrefix(t *testing.T) {
	h := canonical.HashString("x")
	hexPart, ok := canonical.StripPrefix(h)
	if !ok {
		t.Fatalf("StripPrefix(%q) not ok", h)
	}
	if len(hexPart) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(hexPart))
	}
	if _, ok := canonical.StripPrefix("nonsense"); ok {
		t.Error("StripPrefix accepted malformed input")
	}
}
