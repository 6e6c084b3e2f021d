// Package ledger implements the append-only, tamper-evident evidence
// ledger.
//
// Every write persists its payload through the content-addressed blob
// store, chains the new record to the previous record's data hash, and
// adds it to the current bundle, whose merkle root is recomputed on each
// addition. When the bundle reaches its size limit (or is finalized
// explicitly) every record in it is rewritten with the bundle's final
// merkle root and a bundle manifest is persisted; a fresh bundle then
// opens for appends.
//
// Two independent integrity mechanisms sit on top of content addressing:
// the linear hash chain across all records in global write order, and the
// per-bundle merkle roots over batches of records. VerifyIntegrity checks
// both for a key: the stored blob must re-hash to the record's data hash,
// and the record's previous hash must resolve to an existing record.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hardy-3003/evidencestore/internal/blobstore"
	"github.com/hardy-3003/evidencestore/pkg/canonical"
	"go.uber.org/zap"
)

// ErrInvalidInput indicates a caller-fixable problem such as an empty or
// malformed key.
var ErrInvalidInput = errors.New("invalid input")

// DefaultBundleSizeLimit is the number of records after which the current
// bundle finalizes automatically.
const DefaultBundleSizeLimit = 1000

// Options configures a Ledger.
type Options struct {
	// BundleSizeLimit caps the current bundle; <= 0 uses the default.
	BundleSizeLimit int
	Logger          *zap.Logger
}

// Stats summarises a ledger and its blob store.
type Stats struct {
	TotalRecords      int             `json:"total_records"`
	UniqueKeys        int             `json:"unique_keys"`
	LatestHash        string          `json:"latest_hash"`
	CurrentBundleSize int             `json:"current_bundle_size"`
	BlobStore         blobstore.Stats `json:"blob_store"`
}

// Ledger is the evidence ledger. One exclusive lock guards the mutable
// pair {current bundle, latest-hash cache}; Write and FinalizeBundle hold
// it for their whole duration. Read operations only touch persisted
// state and run without the lock — a reader may observe a record's merkle
// root either before or after its bundle finalized.
type Ledger struct {
	mu     sync.Mutex
	store  RecordStore
	blobs  *blobstore.Store
	logger *zap.Logger

	bundleLimit int
	latestHash  string
	cur         *bundle
}

// New builds a Ledger over an existing record store and blob store.
// It recovers the latest-hash cache from the store tail and re-adopts any
// records left in an unfinalized bundle by a previous process.
func New(ctx context.Context, store RecordStore, blobs *blobstore.Store, opts Options) (*Ledger, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := opts.BundleSizeLimit
	if limit <= 0 {
		limit = DefaultBundleSizeLimit
	}

	l := &Ledger{
		store:       store,
		blobs:       blobs,
		logger:      logger,
		bundleLimit: limit,
	}

	tail, err := store.LatestRecord(ctx)
	if err != nil {
		return nil, fmt.Errorf("load ledger tail: %w", err)
	}
	if tail != nil {
		l.latestHash = tail.DataHash
	}

	open, err := store.OpenRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("load unfinalized records: %w", err)
	}
	if len(open) > 0 {
		b := &bundle{id: open[0].BundleID, created: open[0].Timestamp, records: open}
		hashes := make([]string, len(open))
		for i, r := range open {
			hashes[i] = r.DataHash
		}
		b.root = MerkleRoot(hashes)
		l.cur = b
		logger.Info("re-adopted unfinalized bundle",
			zap.String("bundle_id", b.id),
			zap.Int("records", len(open)),
		)
	}
	return l, nil
}

// Open is a convenience constructor that places the blob store and the
// filesystem record store under a single root directory.
func Open(ctx context.Context, root string, opts Options) (*Ledger, error) {
	blobs, err := blobstore.New(root, opts.Logger)
	if err != nil {
		return nil, err
	}
	store, err := NewFSStore(root, opts.Logger)
	if err != nil {
		return nil, err
	}
	return New(ctx, store, blobs, opts)
}

// BlobStore returns the blob store the ledger writes through.
func (l *Ledger) BlobStore() *blobstore.Store { return l.blobs }

// Write appends a record for key. The payload is persisted to the blob
// store, the record is chained to the most recent write and added to the
// current bundle, and both the by-id file and the latest-by-key index are
// persisted. The record's merkle root as written is provisional — it
// covers the bundle so far and is rewritten when the bundle finalizes.
func (l *Ledger) Write(ctx context.Context, key string, data any, metadata map[string]any) (*Record, error) {
	if strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("%w: empty key", ErrInvalidInput)
	}
	if strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return nil, fmt.Errorf("%w: key %q is not filesystem-safe", ErrInvalidInput, key)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	ref, err := l.blobs.Write(data, "", nil)
	if err != nil {
		return nil, err
	}

	if l.cur == nil {
		l.cur = newBundle()
	}
	root := l.cur.rootWith(ref.Hash)

	rec, err := NewRecord(newRecordID(), time.Now().UTC(), key, ref.Hash, l.latestHash, root, l.cur.id, metadata)
	if err != nil {
		return nil, err
	}
	if err := l.store.SaveRecord(ctx, rec); err != nil {
		return nil, err
	}

	l.cur.add(rec, root)
	l.latestHash = rec.DataHash

	l.logger.Debug("record written",
		zap.String("record_id", rec.RecordID),
		zap.String("key", rec.Key),
		zap.String("data_hash", rec.DataHash),
		zap.String("bundle_id", rec.BundleID),
	)

	if len(l.cur.records) >= l.bundleLimit {
		if _, err := l.finalizeLocked(ctx); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// FinalizeBundle finalizes the current bundle: every record in it is
// rewritten carrying the bundle's final merkle root, the manifest is
// persisted, and a fresh bundle opens. It returns the finalized bundle's
// id, or "" when the current bundle has no records.
func (l *Ledger) FinalizeBundle(ctx context.Context) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.finalizeLocked(ctx)
}

func (l *Ledger) finalizeLocked(ctx context.Context) (string, error) {
	if l.cur == nil || len(l.cur.records) == 0 {
		return "", nil
	}
	b := l.cur
	ids := make([]string, len(b.records))
	for i, rec := range b.records {
		ids[i] = rec.RecordID
		if err := l.store.RewriteRecord(ctx, rec.WithMerkleRoot(b.root)); err != nil {
			return "", fmt.Errorf("finalize bundle %s: %w", b.id, err)
		}
	}
	m := &Manifest{
		BundleID:    b.id,
		Timestamp:   b.created,
		MerkleRoot:  b.root,
		RecordIDs:   ids,
		RecordCount: len(ids),
	}
	if err := l.store.SaveManifest(ctx, m); err != nil {
		return "", fmt.Errorf("finalize bundle %s: %w", b.id, err)
	}

	l.cur = nil
	l.logger.Info("bundle finalized",
		zap.String("bundle_id", b.id),
		zap.String("merkle_root", b.root),
		zap.Int("records", len(ids)),
	)
	return b.id, nil
}

// Read returns the latest payload written for key, or nil if the key is
// unknown.
func (l *Ledger) Read(ctx context.Context, key string) ([]byte, error) {
	rec, err := l.store.Latest(ctx, key)
	if err != nil || rec == nil {
		return nil, err
	}
	return l.blobs.Read(rec.DataHash)
}

// ReadText returns the latest payload for key decoded as UTF-8 text.
// The second return is false if the key is unknown.
func (l *Ledger) ReadText(ctx context.Context, key string) (string, bool, error) {
	raw, err := l.Read(ctx, key)
	if err != nil || raw == nil {
		return "", false, err
	}
	return string(raw), true, nil
}

// ReadJSON returns the latest payload for key decoded from JSON, or nil
// if the key is unknown.
func (l *Ledger) ReadJSON(ctx context.Context, key string) (any, error) {
	rec, err := l.store.Latest(ctx, key)
	if err != nil || rec == nil {
		return nil, err
	}
	return l.blobs.ReadJSON(rec.DataHash)
}

// ReadRecord returns the latest record for key, or nil if unknown.
func (l *Ledger) ReadRecord(ctx context.Context, key string) (*Record, error) {
	return l.store.Latest(ctx, key)
}

// ReadByID returns the record with the given id, or nil if unknown.
func (l *Ledger) ReadByID(ctx context.Context, id string) (*Record, error) {
	return l.store.Record(ctx, id)
}

// ListKeys returns all keys, sorted.
func (l *Ledger) ListKeys(ctx context.Context) ([]string, error) {
	return l.store.Keys(ctx)
}

// ListRecords returns records in ascending write order; limit <= 0
// returns all.
func (l *Ledger) ListRecords(ctx context.Context, limit int) ([]*Record, error) {
	return l.store.Records(ctx, limit)
}

// ListBundles returns the manifests of all finalized bundles.
func (l *Ledger) ListBundles(ctx context.Context) ([]*Manifest, error) {
	return l.store.Manifests(ctx)
}

// VerifyIntegrity checks the latest record for key: the stored blob must
// re-hash to the record's data hash, and the record's previous hash (when
// set) must be the data hash of some existing record. Any mismatch,
// missing blob, or lookup failure yields false — tamper scanning is a
// plain boolean loop, never an exception path.
func (l *Ledger) VerifyIntegrity(ctx context.Context, key string) bool {
	rec, err := l.store.Latest(ctx, key)
	if err != nil || rec == nil {
		return false
	}

	raw, err := l.blobs.Read(rec.DataHash)
	if err != nil {
		l.logger.Warn("integrity check: blob unreadable",
			zap.String("key", key),
			zap.String("data_hash", rec.DataHash),
			zap.Error(err),
		)
		return false
	}
	if got := canonical.HashBytes(raw); got != rec.DataHash {
		l.logger.Warn("integrity check: blob hash mismatch",
			zap.String("key", key),
			zap.String("expected", rec.DataHash),
			zap.String("actual", got),
		)
		return false
	}

	if rec.PreviousHash != "" {
		ok, err := l.store.HasDataHash(ctx, rec.PreviousHash)
		if err != nil || !ok {
			l.logger.Warn("integrity check: chain predecessor missing",
				zap.String("key", key),
				zap.String("previous_hash", rec.PreviousHash),
			)
			return false
		}
	}
	return true
}

// VerifyAll runs VerifyIntegrity over every key and returns the number of
// keys that passed plus the keys that failed.
func (l *Ledger) VerifyAll(ctx context.Context) (int, []string, error) {
	keys, err := l.store.Keys(ctx)
	if err != nil {
		return 0, nil, err
	}
	var failed []string
	ok := 0
	for _, key := range keys {
		if l.VerifyIntegrity(ctx, key) {
			ok++
		} else {
			failed = append(failed, key)
		}
	}
	return ok, failed, nil
}

// Stats returns ledger-wide counters and the blob store's stats.
func (l *Ledger) Stats(ctx context.Context) (Stats, error) {
	total, err := l.store.RecordCount(ctx)
	if err != nil {
		return Stats{}, err
	}
	keys, err := l.store.Keys(ctx)
	if err != nil {
		return Stats{}, err
	}
	blobStats, err := l.blobs.Stats()
	if err != nil {
		return Stats{}, err
	}

	l.mu.Lock()
	latest := l.latestHash
	bundleSize := 0
	if l.cur != nil {
		bundleSize = len(l.cur.records)
	}
	l.mu.Unlock()

	return Stats{
		TotalRecords:      total,
		UniqueKeys:        len(keys),
		LatestHash:        latest,
		CurrentBundleSize: bundleSize,
		BlobStore:         blobStats,
	}, nil
}
