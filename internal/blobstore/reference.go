package blobstore

import (
	"fmt"

	"github.com/hardy-3003/evidencestore/pkg/canonical"
)

// Reference is the immutable descriptor of a stored blob. Construct it via
// NewReference, which validates every field; a Reference is never mutated
// after construction.
type Reference struct {
	Hash        string         `json:"hash"`
	Size        int64          `json:"size"`
	ContentType string         `json:"content_type"`
	Metadata    map[string]any `json:"metadata"`
}

// NewReference validates and builds a Reference. The hash must be a
// well-formed prefixed digest and size must be non-negative. A nil
// metadata map is normalised to an empty one.
func NewReference(hash string, size int64, contentType string, metadata map[string]any) (*Reference, error) {
	if !canonical.ValidHash(hash) {
		return nil, fmt.Errorf("%w: malformed hash %q", ErrInvalidInput, hash)
	}
	if size < 0 {
		return nil, fmt.Errorf("%w: negative size %d", ErrInvalidInput, size)
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	return &Reference{
		Hash:        hash,
		Size:        size,
		ContentType: contentType,
		Metadata:    metadata,
	}, nil
}
