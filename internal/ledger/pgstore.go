package ledger

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Schema holds the DDL for the PostgreSQL record store. Applied by
// EnsureSchema; idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS evidence_records (
    record_id     TEXT PRIMARY KEY,
    ts            TIMESTAMPTZ NOT NULL,
    record_key    TEXT NOT NULL,
    data_hash     TEXT NOT NULL,
    previous_hash TEXT NOT NULL DEFAULT '',
    merkle_root   TEXT NOT NULL DEFAULT '',
    bundle_id     TEXT NOT NULL,
    metadata      JSONB NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS evidence_records_data_hash ON evidence_records (data_hash);
CREATE INDEX IF NOT EXISTS evidence_records_bundle_id ON evidence_records (bundle_id);

CREATE TABLE IF NOT EXISTS evidence_index (
    record_key TEXT PRIMARY KEY,
    record_id  TEXT NOT NULL REFERENCES evidence_records (record_id)
);

CREATE TABLE IF NOT EXISTS evidence_bundles (
    bundle_id    TEXT PRIMARY KEY,
    ts           TIMESTAMPTZ NOT NULL,
    merkle_root  TEXT NOT NULL,
    record_ids   JSONB NOT NULL,
    record_count INT NOT NULL
);
`

const recordColumns = "record_id, ts, record_key, data_hash, previous_hash, merkle_root, bundle_id, metadata"

// PGStore is a PostgreSQL-backed RecordStore. Blob payloads are not kept
// in the database — only records, the key index, and bundle manifests.
type PGStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPGStore creates a PGStore backed by the given connection pool.
func NewPGStore(pool *pgxpool.Pool, logger *zap.Logger) *PGStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PGStore{pool: pool, logger: logger}
}

// EnsureSchema applies the store's DDL.
func (s *PGStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply evidence schema: %w", err)
	}
	return nil
}

// SaveRecord implements RecordStore. The primary key constraint rejects
// record id collisions.
func (s *PGStore) SaveRecord(ctx context.Context, rec *Record) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`INSERT INTO evidence_records (`+recordColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.RecordID, rec.Timestamp, rec.Key, rec.DataHash,
		rec.PreviousHash, rec.MerkleRoot, rec.BundleID, rec.Metadata,
	); err != nil {
		return fmt.Errorf("insert record %s: %w", rec.RecordID, err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO evidence_index (record_key, record_id) VALUES ($1, $2)
		 ON CONFLICT (record_key) DO UPDATE SET record_id = EXCLUDED.record_id`,
		rec.Key, rec.RecordID,
	); err != nil {
		return fmt.Errorf("update key index %s: %w", rec.Key, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit record %s: %w", rec.RecordID, err)
	}
	s.logger.Debug("record persisted",
		zap.String("record_id", rec.RecordID),
		zap.String("key", rec.Key),
	)
	return nil
}

// RewriteRecord implements RecordStore. The key index references records
// by id, so only the record row needs updating.
func (s *PGStore) RewriteRecord(ctx context.Context, rec *Record) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE evidence_records
		 SET merkle_root = $2, metadata = $3
		 WHERE record_id = $1`,
		rec.RecordID, rec.MerkleRoot, rec.Metadata,
	)
	if err != nil {
		return fmt.Errorf("rewrite record %s: %w", rec.RecordID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("rewrite record %s: record does not exist", rec.RecordID)
	}
	return nil
}

// Record implements RecordStore.
func (s *PGStore) Record(ctx context.Context, id string) (*Record, error) {
	return s.queryOne(ctx,
		`SELECT `+recordColumns+` FROM evidence_records WHERE record_id = $1`, id)
}

// Latest implements RecordStore.
func (s *PGStore) Latest(ctx context.Context, key string) (*Record, error) {
	return s.queryOne(ctx,
		`SELECT `+recordColumns+` FROM evidence_records r
		 JOIN evidence_index i ON i.record_id = r.record_id
		 WHERE i.record_key = $1`, key)
}

// LatestRecord implements RecordStore.
func (s *PGStore) LatestRecord(ctx context.Context) (*Record, error) {
	return s.queryOne(ctx,
		`SELECT `+recordColumns+` FROM evidence_records ORDER BY record_id DESC LIMIT 1`)
}

// Keys implements RecordStore.
func (s *PGStore) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT record_key FROM evidence_index ORDER BY record_key ASC`)
	if err != nil {
		return nil, fmt.Errorf("query keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Records implements RecordStore.
func (s *PGStore) Records(ctx context.Context, limit int) ([]*Record, error) {
	q := `SELECT ` + recordColumns + ` FROM evidence_records ORDER BY record_id ASC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// RecordCount implements RecordStore.
func (s *PGStore) RecordCount(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM evidence_records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

// HasDataHash implements RecordStore.
func (s *PGStore) HasDataHash(ctx context.Context, hash string) (bool, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM evidence_records WHERE data_hash = $1)`, hash,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("look up data hash: %w", err)
	}
	return exists, nil
}

// SaveManifest implements RecordStore.
func (s *PGStore) SaveManifest(ctx context.Context, m *Manifest) error {
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO evidence_bundles (bundle_id, ts, merkle_root, record_ids, record_count)
		 VALUES ($1, $2, $3, $4, $5)`,
		m.BundleID, m.Timestamp, m.MerkleRoot, m.RecordIDs, m.RecordCount,
	); err != nil {
		return fmt.Errorf("insert bundle manifest %s: %w", m.BundleID, err)
	}
	return nil
}

// Manifests implements RecordStore.
func (s *PGStore) Manifests(ctx context.Context) ([]*Manifest, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT bundle_id, ts, merkle_root, record_ids, record_count
		 FROM evidence_bundles ORDER BY bundle_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query bundle manifests: %w", err)
	}
	defer rows.Close()

	var manifests []*Manifest
	for rows.Next() {
		m := &Manifest{}
		if err := rows.Scan(&m.BundleID, &m.Timestamp, &m.MerkleRoot, &m.RecordIDs, &m.RecordCount); err != nil {
			return nil, fmt.Errorf("scan bundle manifest: %w", err)
		}
		manifests = append(manifests, m)
	}
	return manifests, rows.Err()
}

// OpenRecords implements RecordStore.
func (s *PGStore) OpenRecords(ctx context.Context) ([]*Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM evidence_records r
		 WHERE NOT EXISTS (SELECT 1 FROM evidence_bundles b WHERE b.bundle_id = r.bundle_id)
		 ORDER BY record_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query open records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s *PGStore) queryOne(ctx context.Context, q string, args ...any) (*Record, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query record: %w", err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}

func scanRecords(rows pgx.Rows) ([]*Record, error) {
	var records []*Record
	for rows.Next() {
		rec := &Record{}
		if err := rows.Scan(
			&rec.RecordID, &rec.Timestamp, &rec.Key, &rec.DataHash,
			&rec.PreviousHash, &rec.MerkleRoot, &rec.BundleID, &rec.Metadata,
		); err != nil {
			return nil, fmt.Errorf("scan record row: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
