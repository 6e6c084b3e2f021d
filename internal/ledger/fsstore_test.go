package ledger_test

import (
	"strings"
	"testing"
	"time"

	"github.com/hardy-3003/evidencestore/internal/ledger"
	"github.com/hardy-3003/evidencestore/pkg/canonical"
)

func newFSStore(t *testing.T) *ledger.FSStore {
	t.Helper()
	s, err := ledger.NewFSStore(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func mustRecord(t *testing.T, id, key, payload, prev, bundleID string) *ledger.Record {
	t.Helper()
	dataHash := canonical.HashString(payload)
	rec, err := ledger.NewRecord(id, time.Now().UTC(), key, dataHash, prev, dataHash, bundleID, nil)
	if err != nil {
		t.Fatal(err)
	}
	return rec
}

func TestFSStore_saveRejectsDuplicateID(t *testing.T) {
	s := newFSStore(t)

	rec := mustRecord(t, "rec_1", "k", "v", "", "b1")
	if err := s.SaveRecord(ctx, rec); err != nil {
		t.Fatal(err)
	}
	dup := mustRecord(t, "rec_1", "k", "other", "", "b1")
	if err := s.SaveRecord(ctx, dup); err == nil {
		t.Error("duplicate record id accepted")
	}
}

func TestFSStore_rewriteKeepsIndexOwnership(t *testing.T) {
	s := newFSStore(t)

	first := mustRecord(t, "rec_1", "k", "v1", "", "b1")
	second := mustRecord(t, "rec_2", "k", "v2", first.DataHash, "b1")
	if err := s.SaveRecord(ctx, first); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveRecord(ctx, second); err != nil {
		t.Fatal(err)
	}

	// Rewriting the older record must not steal the key index back from
	// the newer one.
	root := canonical.HashString("whatever")
	if err := s.RewriteRecord(ctx, first.WithMerkleRoot(root)); err != nil {
		t.Fatal(err)
	}

	latest, err := s.Latest(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if latest.RecordID != "rec_2" {
		t.Errorf("index points at %q after rewrite of rec_1", latest.RecordID)
	}

	stored, err := s.Record(ctx, "rec_1")
	if err != nil {
		t.Fatal(err)
	}
	if stored.MerkleRoot != root {
		t.Errorf("rewrite not persisted: root %q", stored.MerkleRoot)
	}
}

func TestFSStore_rewriteRefreshesOwnIndexEntry(t *testing.T) {
	s := newFSStore(t)

	rec := mustRecord(t, "rec_1", "k", "v1", "", "b1")
	if err := s.SaveRecord(ctx, rec); err != nil {
		t.Fatal(err)
	}
	root := canonical.HashString("final")
	if err := s.RewriteRecord(ctx, rec.WithMerkleRoot(root)); err != nil {
		t.Fatal(err)
	}
	latest, err := s.Latest(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if latest.MerkleRoot != root {
		t.Errorf("index entry stale: root %q, want %q", latest.MerkleRoot, root)
	}
}

func TestFSStore_hasDataHash(t *testing.T) {
	s := newFSStore(t)

	rec := mustRecord(t, "rec_1", "k", "v1", "", "b1")
	if err := s.SaveRecord(ctx, rec); err != nil {
		t.Fatal(err)
	}
	ok, err := s.HasDataHash(ctx, rec.DataHash)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("stored data hash not found")
	}
	ok, err = s.HasDataHash(ctx, "sha256:"+strings.Repeat("0", 64))
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("absent data hash reported present")
	}
}

func TestFSStore_openRecords(t *testing.T) {
	s := newFSStore(t)

	finalized := mustRecord(t, "rec_1", "a", "v1", "", "b1")
	open := mustRecord(t, "rec_2", "b", "v2", finalized.DataHash, "b2")
	if err := s.SaveRecord(ctx, finalized); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveRecord(ctx, open); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveManifest(ctx, &ledger.Manifest{
		BundleID:    "b1",
		Timestamp:   time.Now().UTC(),
		MerkleRoot:  finalized.DataHash,
		RecordIDs:   []string{"rec_1"},
		RecordCount: 1,
	}); err != nil {
		t.Fatal(err)
	}

	got, err := s.OpenRecords(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].RecordID != "rec_2" {
		t.Errorf("open records: %+v", got)
	}
}

func TestFSStore_latestRecordAcrossKeys(t *testing.T) {
	s := newFSStore(t)

	if latest, err := s.LatestRecord(ctx); err != nil || latest != nil {
		t.Fatalf("empty store: latest=%v err=%v", latest, err)
	}

	a := mustRecord(t, "rec_1", "a", "v1", "", "b1")
	b := mustRecord(t, "rec_2", "b", "v2", a.DataHash, "b1")
	if err := s.SaveRecord(ctx, a); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveRecord(ctx, b); err != nil {
		t.Fatal(err)
	}
	latest, err := s.LatestRecord(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if latest.RecordID != "rec_2" {
		t.Errorf("latest: got %q", latest.RecordID)
	}
}
