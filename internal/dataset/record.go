// Package dataset persists per-owner dataset records and their chart
// payloads in object storage. Records live as small JSON documents
// updated through ETag compare-and-swap, which is what serializes
// concurrent writers to the same dataset while leaving different
// datasets fully parallel. Payloads are tiered: small ones ride inline
// on the record, large ones are compressed and externalized under an
// opaque blob key.
package dataset

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vizorhq/vizor/internal/chartdata"
)

const (
	FormatVersion = 1

	recordKeyFmt = "vizor/datasets/%s/%s/meta.json"
	blobKeyFmt   = "vizor/datasets/%s/%s/data/%s.json.zst"
)

// DataRef points at the dataset's current chart payload. A nil DataRef
// means the dataset has no categories; an empty BlobID means the
// payload is stored inline on the record.
type DataRef struct {
	BlobID     string    `json:"blob_id,omitempty"`
	Filename   string    `json:"filename,omitempty"`
	Chunked    bool      `json:"chunked,omitempty"`
	LastUpdate time.Time `json:"last_update"`
}

// External reports whether the payload lives in its own blob.
func (r *DataRef) External() bool {
	return r != nil && r.BlobID != ""
}

// DeletionState marks a dataset that is going away. Blob cleanup is
// asynchronous, so the record survives as a tombstone until the
// deletion worker has drained its references.
type DeletionState struct {
	Tombstoned   bool       `json:"tombstoned,omitempty"`
	TombstonedAt *time.Time `json:"tombstoned_at,omitempty"`
}

// Record is the persisted dataset document.
type Record struct {
	FormatVersion int    `json:"format_version"`
	Owner         string `json:"owner"`
	ID            string `json:"id"`
	Name          string `json:"name,omitempty"`

	DataRef *DataRef        `json:"data_ref,omitempty"`
	Inline  json.RawMessage `json:"inline,omitempty"`

	Files []chartdata.FileRecord `json:"files,omitempty"`

	// PayloadHash fingerprints the current serialized payload so
	// byte-identical rewrites can be skipped.
	PayloadHash uint64 `json:"payload_hash,omitempty"`

	Deletion DeletionState `json:"deletion,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewRecord returns an empty record for (owner, id).
func NewRecord(owner, id string) *Record {
	now := time.Now().UTC()
	return &Record{
		FormatVersion: FormatVersion,
		Owner:         owner,
		ID:            id,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	if r.DataRef != nil {
		ref := *r.DataRef
		out.DataRef = &ref
	}
	if r.Inline != nil {
		out.Inline = append(json.RawMessage(nil), r.Inline...)
	}
	if r.Files != nil {
		out.Files = make([]chartdata.FileRecord, len(r.Files))
		copy(out.Files, r.Files)
	}
	if r.Deletion.TombstonedAt != nil {
		ts := *r.Deletion.TombstonedAt
		out.Deletion.TombstonedAt = &ts
	}
	return &out
}

// FindFile returns a pointer to the file record with the given
// filename, or nil.
func (r *Record) FindFile(filename string) *chartdata.FileRecord {
	for i := range r.Files {
		if r.Files[i].Filename == filename {
			return &r.Files[i]
		}
	}
	return nil
}

// RemoveFile deletes the file record with the given filename and
// returns it, or nil if absent.
func (r *Record) RemoveFile(filename string) *chartdata.FileRecord {
	for i := range r.Files {
		if r.Files[i].Filename == filename {
			removed := r.Files[i]
			r.Files = append(r.Files[:i], r.Files[i+1:]...)
			return &removed
		}
	}
	return nil
}

// ExternalRefs enumerates every blob key the record still references:
// the current payload blob plus any externally stored raw uploads.
func (r *Record) ExternalRefs() []string {
	var refs []string
	if r.DataRef.External() {
		refs = append(refs, BlobKey(r.Owner, r.ID, r.DataRef.BlobID))
	}
	for _, f := range r.Files {
		if f.StoredBlobID != "" {
			refs = append(refs, BlobKey(r.Owner, r.ID, f.StoredBlobID))
		}
	}
	return refs
}

// RecordKey returns the storage key of a dataset's record document.
func RecordKey(owner, id string) string {
	return fmt.Sprintf(recordKeyFmt, owner, id)
}

// BlobKey returns the storage key of an externalized payload blob.
func BlobKey(owner, id, blobID string) string {
	return fmt.Sprintf(blobKeyFmt, owner, id, blobID)
}
