package ledger

import "context"

// RecordStore is the persistence boundary for ledger records, the
// latest-by-key index, and bundle manifests. Two implementations are
// provided:
//   - FSStore: local filesystem, the canonical on-disk layout.
//   - PGStore: PostgreSQL, for deployments that keep record metadata in a
//     database (blob payloads always stay on the filesystem).
//
// Absence is reported as (nil, nil) from lookups; only genuine storage
// failures and malformed persisted data return errors.
type RecordStore interface {
	// SaveRecord persists a new record by id and updates the key index to
	// point at it. It must fail if a record with the same id already
	// exists — id uniqueness is a hard invariant.
	SaveRecord(ctx context.Context, rec *Record) error

	// RewriteRecord overwrites the persisted copy of an existing record
	// (same id) and refreshes the key index entry if it points at this
	// id. Used only by bundle finalization.
	RewriteRecord(ctx context.Context, rec *Record) error

	// Record returns the record with the given id, or nil if absent.
	Record(ctx context.Context, id string) (*Record, error)

	// Latest returns the most recent record written for key, or nil.
	Latest(ctx context.Context, key string) (*Record, error)

	// LatestRecord returns the most recently written record across all
	// keys, or nil for an empty store.
	LatestRecord(ctx context.Context) (*Record, error)

	// Keys returns all indexed keys, sorted.
	Keys(ctx context.Context) ([]string, error)

	// Records returns records in ascending write order. limit <= 0
	// returns all.
	Records(ctx context.Context, limit int) ([]*Record, error)

	// RecordCount returns the total number of persisted records.
	RecordCount(ctx context.Context) (int, error)

	// HasDataHash reports whether any record carries the given data hash.
	HasDataHash(ctx context.Context, hash string) (bool, error)

	// SaveManifest persists a finalized bundle's manifest.
	SaveManifest(ctx context.Context, m *Manifest) error

	// Manifests returns all persisted bundle manifests in ascending
	// bundle order.
	Manifests(ctx context.Context) ([]*Manifest, error)

	// OpenRecords returns, in ascending write order, records whose
	// bundle has no persisted manifest. Used on open to re-adopt the
	// unfinalized bundle left behind by a previous process.
	OpenRecords(ctx context.Context) ([]*Record, error)
}
