// Package blobstore implements content-addressed storage of raw payloads.
//
// Every blob is keyed by the SHA-256 digest of its canonical bytes, so the
// key is simultaneously the identity and the integrity check: re-hashing the
// stored bytes and comparing against the key detects any corruption. Writes
// are idempotent — storing the same content twice is a no-op that still
// returns a correct reference.
//
// On-disk layout under the store root:
//
//	blobs/<hex>.blob      raw bytes (hex digest without the "sha256:" prefix)
//	metadata/<hex>.json   the blob's Reference, pretty-printed
package blobstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hardy-3003/evidencestore/pkg/canonical"
	"go.uber.org/zap"
)

// ErrInvalidInput indicates a caller-fixable problem: an unsupported payload
// type or a malformed hash string. It is never worth retrying unchanged.
var ErrInvalidInput = errors.New("invalid input")

// ErrNotFound indicates that no blob with the requested hash exists.
var ErrNotFound = errors.New("blob not found")

// Store is a filesystem-backed content-addressed blob store.
// All methods are safe for concurrent use: writes are idempotent per
// content hash and distinct contents never collide on a path.
type Store struct {
	root   string
	logger *zap.Logger
}

// Stats summarises the contents of a Store.
type Stats struct {
	BlobCount      int    `json:"blob_count"`
	TotalSizeBytes int64  `json:"total_size_bytes"`
	StoragePath    string `json:"storage_path"`
}

// New opens (creating if necessary) a blob store rooted at root.
func New(root string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, dir := range []string{filepath.Join(root, "blobs"), filepath.Join(root, "metadata")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create blob store directory %s: %w", dir, err)
		}
	}
	return &Store{root: root, logger: logger}, nil
}

// Write persists data and returns its content-addressed reference.
//
// data may be []byte (stored verbatim), string (UTF-8 encoded), or any
// value serializable to canonical JSON. contentType defaults per payload
// kind when empty. Writing content that already exists is a no-op that
// returns the stored reference.
func (s *Store) Write(data any, contentType string, metadata map[string]any) (*Reference, error) {
	raw, defaultType, err := normalize(data)
	if err != nil {
		return nil, err
	}
	if contentType == "" {
		contentType = defaultType
	}

	hash := canonical.HashBytes(raw)
	hexPart, _ := canonical.StripPrefix(hash)

	if existing, err := s.GetReference(hash); err == nil {
		s.logger.Debug("blob already stored", zap.String("hash", hash))
		return existing, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	ref, err := NewReference(hash, int64(len(raw)), contentType, metadata)
	if err != nil {
		return nil, err
	}

	if err := os.WriteFile(s.blobPath(hexPart), raw, 0o644); err != nil {
		return nil, fmt.Errorf("write blob %s: %w", hash, err)
	}
	refJSON, err := json.MarshalIndent(ref, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal blob reference: %w", err)
	}
	if err := os.WriteFile(s.metaPath(hexPart), refJSON, 0o644); err != nil {
		return nil, fmt.Errorf("write blob metadata %s: %w", hash, err)
	}

	s.logger.Debug("blob stored",
		zap.String("hash", hash),
		zap.Int64("size", ref.Size),
		zap.String("content_type", ref.ContentType),
	)
	return ref, nil
}

// Read returns the raw bytes of the blob with the given hash.
func (s *Store) Read(hash string) ([]byte, error) {
	hexPart, ok := canonical.StripPrefix(hash)
	if !ok {
		return nil, fmt.Errorf("%w: malformed hash %q", ErrInvalidInput, hash)
	}
	raw, err := os.ReadFile(s.blobPath(hexPart))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, hash)
		}
		return nil, fmt.Errorf("read blob %s: %w", hash, err)
	}
	return raw, nil
}

// ReadText returns the blob decoded as a UTF-8 string.
func (s *Store) ReadText(hash string) (string, error) {
	raw, err := s.Read(hash)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// ReadJSON returns the blob decoded from JSON.
func (s *Store) ReadJSON(hash string) (any, error) {
	raw, err := s.Read(hash)
	if err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode blob %s as JSON: %w", hash, err)
	}
	return v, nil
}

// GetReference returns the stored Reference for hash without reading the
// blob payload.
func (s *Store) GetReference(hash string) (*Reference, error) {
	hexPart, ok := canonical.StripPrefix(hash)
	if !ok {
		return nil, fmt.Errorf("%w: malformed hash %q", ErrInvalidInput, hash)
	}
	raw, err := os.ReadFile(s.metaPath(hexPart))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, hash)
		}
		return nil, fmt.Errorf("read blob metadata %s: %w", hash, err)
	}
	var ref Reference
	if err := json.Unmarshal(raw, &ref); err != nil {
		return nil, fmt.Errorf("decode blob metadata %s: %w", hash, err)
	}
	return &ref, nil
}

// Exists reports whether a blob with the given hash is stored.
func (s *Store) Exists(hash string) bool {
	hexPart, ok := canonical.StripPrefix(hash)
	if !ok {
		return false
	}
	_, err := os.Stat(s.blobPath(hexPart))
	return err == nil
}

// Delete removes the blob and its metadata. It returns true iff a blob
// was actually removed.
func (s *Store) Delete(hash string) (bool, error) {
	hexPart, ok := canonical.StripPrefix(hash)
	if !ok {
		return false, fmt.Errorf("%w: malformed hash %q", ErrInvalidInput, hash)
	}
	err := os.Remove(s.blobPath(hexPart))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("delete blob %s: %w", hash, err)
	}
	if err := os.Remove(s.metaPath(hexPart)); err != nil && !os.IsNotExist(err) {
		return true, fmt.Errorf("delete blob metadata %s: %w", hash, err)
	}
	s.logger.Debug("blob deleted", zap.String("hash", hash))
	return true, nil
}

// ListHashes returns the prefixed hashes of all stored blobs, sorted.
func (s *Store) ListHashes() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, "blobs"))
	if err != nil {
		return nil, fmt.Errorf("list blobs: %w", err)
	}
	hashes := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".blob") {
			continue
		}
		hashes = append(hashes, canonical.HashPrefix+strings.TrimSuffix(name, ".blob"))
	}
	sort.Strings(hashes)
	return hashes, nil
}

// Stats returns blob count and cumulative payload size.
func (s *Store) Stats() (Stats, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, "blobs"))
	if err != nil {
		return Stats{}, fmt.Errorf("stat blobs: %w", err)
	}
	st := Stats{StoragePath: s.root}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".blob") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return Stats{}, fmt.Errorf("stat blob %s: %w", e.Name(), err)
		}
		st.BlobCount++
		st.TotalSizeBytes += info.Size()
	}
	return st, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string { return s.root }

func (s *Store) blobPath(hexPart string) string {
	return filepath.Join(s.root, "blobs", hexPart+".blob")
}

func (s *Store) metaPath(hexPart string) string {
	return filepath.Join(s.root, "metadata", hexPart+".json")
}

// normalize converts a supported payload into its canonical byte form and
// reports the default content type for that payload kind.
func normalize(data any) ([]byte, string, error) {
	switch v := data.(type) {
	case nil:
		return nil, "", fmt.Errorf("%w: nil payload", ErrInvalidInput)
	case []byte:
		return v, "application/octet-stream", nil
	case string:
		return []byte(v), "text/plain", nil
	default:
		raw, err := canonical.MarshalJSON(v)
		if err != nil {
			return nil, "", fmt.Errorf("%w: payload not serializable: %v", ErrInvalidInput, err)
		}
		return raw, "application/json", nil
	}
}
