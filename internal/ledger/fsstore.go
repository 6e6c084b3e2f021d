package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// FSStore persists records, the key index, and bundle manifests as JSON
// files under a root directory:
//
//	records/<record_id>.json   one file per record, full history
//	index/<key>.json           latest record for the key
//	bundles/<bundle_id>.json   manifest of each finalized bundle
//
// Record ids carry a nanosecond timestamp prefix of fixed width, so
// lexicographic filename order is write order.
type FSStore struct {
	root   string
	logger *zap.Logger
}

// NewFSStore opens (creating if necessary) a filesystem record store
// rooted at root.
func NewFSStore(root string, logger *zap.Logger) (*FSStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, dir := range []string{
		filepath.Join(root, "records"),
		filepath.Join(root, "index"),
		filepath.Join(root, "bundles"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ledger directory %s: %w", dir, err)
		}
	}
	return &FSStore{root: root, logger: logger}, nil
}

// SaveRecord implements RecordStore. The by-id file is created with
// O_EXCL so a record id collision fails the write instead of silently
// replacing history.
func (s *FSStore) SaveRecord(_ context.Context, rec *Record) error {
	raw, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", rec.RecordID, err)
	}

	f, err := os.OpenFile(s.recordPath(rec.RecordID), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("record id %s already exists", rec.RecordID)
		}
		return fmt.Errorf("create record %s: %w", rec.RecordID, err)
	}
	if _, err := f.Write(raw); err != nil {
		f.Close()
		return fmt.Errorf("write record %s: %w", rec.RecordID, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close record %s: %w", rec.RecordID, err)
	}

	if err := os.WriteFile(s.indexPath(rec.Key), raw, 0o644); err != nil {
		return fmt.Errorf("write key index %s: %w", rec.Key, err)
	}
	s.logger.Debug("record persisted",
		zap.String("record_id", rec.RecordID),
		zap.String("key", rec.Key),
	)
	return nil
}

// RewriteRecord implements RecordStore.
func (s *FSStore) RewriteRecord(_ context.Context, rec *Record) error {
	raw, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", rec.RecordID, err)
	}
	if err := os.WriteFile(s.recordPath(rec.RecordID), raw, 0o644); err != nil {
		return fmt.Errorf("rewrite record %s: %w", rec.RecordID, err)
	}

	// Refresh the key index only if it still points at this record;
	// a later write to the same key owns the index entry.
	current, err := s.Latest(context.Background(), rec.Key)
	if err != nil {
		return err
	}
	if current != nil && current.RecordID == rec.RecordID {
		if err := os.WriteFile(s.indexPath(rec.Key), raw, 0o644); err != nil {
			return fmt.Errorf("rewrite key index %s: %w", rec.Key, err)
		}
	}
	return nil
}

// Record implements RecordStore.
func (s *FSStore) Record(_ context.Context, id string) (*Record, error) {
	return s.loadRecord(s.recordPath(id))
}

// Latest implements RecordStore.
func (s *FSStore) Latest(_ context.Context, key string) (*Record, error) {
	return s.loadRecord(s.indexPath(key))
}

// LatestRecord implements RecordStore.
func (s *FSStore) LatestRecord(ctx context.Context) (*Record, error) {
	ids, err := s.recordIDs()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return s.Record(ctx, ids[len(ids)-1])
}

// Keys implements RecordStore.
func (s *FSStore) Keys(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, "index"))
	if err != nil {
		return nil, fmt.Errorf("list key index: %w", err)
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		keys = append(keys, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(keys)
	return keys, nil
}

// Records implements RecordStore.
func (s *FSStore) Records(_ context.Context, limit int) ([]*Record, error) {
	ids, err := s.recordIDs()
	if err != nil {
		return nil, err
	}
	if limit > 0 && limit < len(ids) {
		ids = ids[:limit]
	}
	records := make([]*Record, 0, len(ids))
	for _, id := range ids {
		rec, err := s.loadRecord(s.recordPath(id))
		if err != nil {
			return nil, err
		}
		if rec != nil {
			records = append(records, rec)
		}
	}
	return records, nil
}

// RecordCount implements RecordStore.
func (s *FSStore) RecordCount(_ context.Context) (int, error) {
	ids, err := s.recordIDs()
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// HasDataHash implements RecordStore. Linear scan over all records.
func (s *FSStore) HasDataHash(ctx context.Context, hash string) (bool, error) {
	records, err := s.Records(ctx, 0)
	if err != nil {
		return false, err
	}
	for _, rec := range records {
		if rec.DataHash == hash {
			return true, nil
		}
	}
	return false, nil
}

// SaveManifest implements RecordStore.
func (s *FSStore) SaveManifest(_ context.Context, m *Manifest) error {
	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal bundle manifest %s: %w", m.BundleID, err)
	}
	path := filepath.Join(s.root, "bundles", m.BundleID+".json")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write bundle manifest %s: %w", m.BundleID, err)
	}
	return nil
}

// Manifests implements RecordStore.
func (s *FSStore) Manifests(_ context.Context) ([]*Manifest, error) {
	dir := filepath.Join(s.root, "bundles")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list bundle manifests: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	manifests := make([]*Manifest, 0, len(names))
	for _, name := range names {
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read bundle manifest %s: %w", name, err)
		}
		var m Manifest
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("decode bundle manifest %s: %w", name, err)
		}
		manifests = append(manifests, &m)
	}
	return manifests, nil
}

// OpenRecords implements RecordStore.
func (s *FSStore) OpenRecords(ctx context.Context) ([]*Record, error) {
	manifests, err := s.Manifests(ctx)
	if err != nil {
		return nil, err
	}
	finalized := make(map[string]bool, len(manifests))
	for _, m := range manifests {
		finalized[m.BundleID] = true
	}

	records, err := s.Records(ctx, 0)
	if err != nil {
		return nil, err
	}
	var open []*Record
	for _, rec := range records {
		if !finalized[rec.BundleID] {
			open = append(open, rec)
		}
	}
	return open, nil
}

// recordIDs returns all record ids in ascending write order.
func (s *FSStore) recordIDs() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, "records"))
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

// loadRecord reads one record file. A missing file is (nil, nil);
// malformed JSON in a file that exists is a hard error.
func (s *FSStore) loadRecord(path string) (*Record, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read record file %s: %w", path, err)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode record file %s: %w", path, err)
	}
	return &rec, nil
}

func (s *FSStore) recordPath(id string) string {
	return filepath.Join(s.root, "records", id+".json")
}

func (s *FSStore) indexPath(key string) string {
	return filepath.Join(s.root, "index", key+".json")
}
