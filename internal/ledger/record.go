package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hardy-3003/evidencestore/pkg/canonical"
)

// Record is a single evidence ledger entry. It is immutable: the only
// permitted post-write change is the merkle root rewrite at bundle
// finalization, expressed by constructing a new value via WithMerkleRoot
// and replacing the stored copy.
type Record struct {
	RecordID     string         `json:"record_id"`
	Timestamp    time.Time      `json:"timestamp"`
	Key          string         `json:"key"`
	DataHash     string         `json:"data_hash"`
	PreviousHash string         `json:"previous_hash"`
	MerkleRoot   string         `json:"merkle_root"`
	BundleID     string         `json:"bundle_id"`
	Metadata     map[string]any `json:"metadata"`
}

// NewRecord validates and builds a Record. previousHash is empty for the
// first record ever written; every other field is mandatory.
func NewRecord(id string, ts time.Time, key, dataHash, previousHash, merkleRoot, bundleID string, metadata map[string]any) (*Record, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty record id", ErrInvalidInput)
	}
	if strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("%w: empty key", ErrInvalidInput)
	}
	if !canonical.ValidHash(dataHash) {
		return nil, fmt.Errorf("%w: malformed data hash %q", ErrInvalidInput, dataHash)
	}
	if previousHash != "" && !canonical.ValidHash(previousHash) {
		return nil, fmt.Errorf("%w: malformed previous hash %q", ErrInvalidInput, previousHash)
	}
	if merkleRoot != "" && !canonical.ValidHash(merkleRoot) {
		return nil, fmt.Errorf("%w: malformed merkle root %q", ErrInvalidInput, merkleRoot)
	}
	if bundleID == "" {
		return nil, fmt.Errorf("%w: empty bundle id", ErrInvalidInput)
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	return &Record{
		RecordID:     id,
		Timestamp:    ts.UTC(),
		Key:          key,
		DataHash:     dataHash,
		PreviousHash: previousHash,
		MerkleRoot:   merkleRoot,
		BundleID:     bundleID,
		Metadata:     metadata,
	}, nil
}

// WithMerkleRoot returns a copy of the record carrying the given final
// merkle root. Used exclusively by bundle finalization.
func (r *Record) WithMerkleRoot(root string) *Record {
	c := *r
	c.MerkleRoot = root
	return &c
}

// Manifest is the persisted descriptor of a finalized bundle.
type Manifest struct {
	BundleID    string    `json:"bundle_id"`
	Timestamp   time.Time `json:"timestamp"`
	MerkleRoot  string    `json:"merkle_root"`
	RecordIDs   []string  `json:"record_ids"`
	RecordCount int       `json:"record_count"`
}

// bundle is the in-memory batch of records currently open for appends.
// Its root is recomputed on every addition and becomes final only when
// the bundle is finalized.
type bundle struct {
	id      string
	created time.Time
	records []*Record
	root    string
}

func newBundle() *bundle {
	now := time.Now().UTC()
	return &bundle{
		id:      fmt.Sprintf("bundle_%d_%s", now.UnixNano(), shortUUID()),
		created: now,
	}
}

// rootWith returns the merkle root the bundle would have after adding one
// more record with the given data hash, without mutating the bundle.
func (b *bundle) rootWith(dataHash string) string {
	hashes := make([]string, 0, len(b.records)+1)
	for _, r := range b.records {
		hashes = append(hashes, r.DataHash)
	}
	return MerkleRoot(append(hashes, dataHash))
}

func (b *bundle) add(rec *Record, root string) {
	b.records = append(b.records, rec)
	b.root = root
}

// newRecordID builds a sortable, collision-resistant record id: a
// nanosecond timestamp prefix for write-order sorting plus UUID entropy.
func newRecordID() string {
	return fmt.Sprintf("rec_%d_%s", time.Now().UnixNano(), shortUUID())
}

func shortUUID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
