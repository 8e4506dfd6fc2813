package dataset

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/vizorhq/vizor/internal/chartdata"
	"github.com/vizorhq/vizor/internal/logging"
	"github.com/vizorhq/vizor/internal/metrics"
	"github.com/vizorhq/vizor/pkg/objectstore"
)

const (
	defaultCASAttempts       = 5
	defaultBlobWriteAttempts = 3
	defaultInlineThreshold   = 256 * 1024
)

// ManagerConfig tunes the manager. Zero values take defaults.
type ManagerConfig struct {
	// InlineThresholdBytes is the largest encoded payload stored
	// inline on the record.
	InlineThresholdBytes int
	// CASAttempts bounds the optimistic update loop.
	CASAttempts int
	// BlobWriteAttempts bounds retries for external blob writes.
	BlobWriteAttempts int
}

// Manager persists dataset records and payloads.
type Manager struct {
	store  objectstore.Store
	cfg    ManagerConfig
	logger *logging.Logger
}

// NewManager creates a Manager over store.
func NewManager(store objectstore.Store, cfg ManagerConfig, logger *logging.Logger) *Manager {
	if cfg.InlineThresholdBytes <= 0 {
		cfg.InlineThresholdBytes = defaultInlineThreshold
	}
	if cfg.CASAttempts <= 0 {
		cfg.CASAttempts = defaultCASAttempts
	}
	if cfg.BlobWriteAttempts <= 0 {
		cfg.BlobWriteAttempts = defaultBlobWriteAttempts
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Manager{store: store, cfg: cfg, logger: logger}
}

// Loaded is a record read from storage together with the ETag needed
// to update it.
type Loaded struct {
	Record *Record
	ETag   string
}

// Load reads a dataset record. Returns ErrRecordNotFound if it does
// not exist and ErrTombstoned if it is marked deleted.
func (m *Manager) Load(ctx context.Context, owner, id string) (*Loaded, error) {
	loaded, err := m.load(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	if loaded.Record.Deletion.Tombstoned {
		return nil, ErrTombstoned
	}
	return loaded, nil
}

// load reads the record without the tombstone check; the sweep path
// needs to see tombstoned records.
func (m *Manager) load(ctx context.Context, owner, id string) (*Loaded, error) {
	key := RecordKey(owner, id)
	reader, info, err := m.store.Get(ctx, key, nil)
	if err != nil {
		if objectstore.IsNotFoundError(err) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("load dataset record: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read dataset record: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse dataset record: %w", err)
	}
	return &Loaded{Record: &rec, ETag: info.ETag}, nil
}

// Create writes a fresh record if none exists. On a lost race the
// winner's record is loaded and returned instead.
func (m *Manager) Create(ctx context.Context, owner, id string) (*Loaded, error) {
	rec := NewRecord(owner, id)
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal dataset record: %w", err)
	}

	info, err := m.store.PutIfAbsent(ctx, RecordKey(owner, id), bytes.NewReader(data), int64(len(data)), &objectstore.PutOptions{
		ContentType: "application/json",
	})
	if err != nil {
		if objectstore.IsConflictError(err) {
			return m.Load(ctx, owner, id)
		}
		return nil, fmt.Errorf("create dataset record: %w", err)
	}
	return &Loaded{Record: rec, ETag: info.ETag}, nil
}

// LoadOrCreate loads the record, creating it when absent.
func (m *Manager) LoadOrCreate(ctx context.Context, owner, id string) (*Loaded, error) {
	loaded, err := m.Load(ctx, owner, id)
	if err == nil {
		return loaded, nil
	}
	if errors.Is(err, ErrRecordNotFound) {
		return m.Create(ctx, owner, id)
	}
	return nil, err
}

// UpdateFunc mutates the record in place. It runs once per CAS
// attempt against a fresh clone of the stored record, so it must be
// safe to re-execute; any external side effects it takes on a losing
// attempt are the caller's to clean up.
type UpdateFunc func(rec *Record) error

// Update applies fn to the record under ETag compare-and-swap,
// retrying a bounded number of times when a concurrent writer wins the
// race. This is the per-dataset transaction primitive: writers to the
// same dataset serialize here, writers to different datasets never
// contend.
func (m *Manager) Update(ctx context.Context, owner, id string, fn UpdateFunc) (*Loaded, error) {
	var lastErr error
	for attempt := 0; attempt < m.cfg.CASAttempts; attempt++ {
		if attempt > 0 {
			metrics.CASRetriesTotal.Inc()
		}

		loaded, err := m.LoadOrCreate(ctx, owner, id)
		if err != nil {
			return nil, err
		}

		rec := loaded.Record.Clone()
		if err := fn(rec); err != nil {
			return nil, err
		}
		rec.UpdatedAt = time.Now().UTC()

		data, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("marshal dataset record: %w", err)
		}

		info, err := m.store.PutIfMatch(ctx, RecordKey(owner, id), bytes.NewReader(data), int64(len(data)), loaded.ETag, &objectstore.PutOptions{
			ContentType: "application/json",
		})
		if err != nil {
			if objectstore.IsPreconditionError(err) {
				lastErr = err
				continue
			}
			return nil, fmt.Errorf("update dataset record: %w", err)
		}
		return &Loaded{Record: rec, ETag: info.ETag}, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrCASRetryExhausted, lastErr)
}

// StoredPayload describes one encoded payload and where it went.
type StoredPayload struct {
	// Inline carries the encoded JSON when the payload fit the inline
	// tier, nil otherwise.
	Inline json.RawMessage
	// BlobID names the external blob for the external tier, "" for
	// inline.
	BlobID string
	// Hash fingerprints the encoded payload.
	Hash uint64
	// Bytes is the size actually persisted (compressed for external).
	Bytes int
	// Tier is "inline", "external", or "empty".
	Tier string
}

// Apply stamps the stored payload onto a record, maintaining the
// DataRef invariant: non-nil exactly when the dataset has categories.
func (p *StoredPayload) Apply(rec *Record) {
	rec.PayloadHash = p.Hash
	switch p.Tier {
	case "empty":
		rec.Inline = nil
		rec.DataRef = nil
	case "inline":
		rec.Inline = p.Inline
		rec.DataRef = &DataRef{LastUpdate: time.Now().UTC()}
	default:
		rec.Inline = nil
		rec.DataRef = &DataRef{BlobID: p.BlobID, LastUpdate: time.Now().UTC()}
	}
}

// StorePayload encodes cats and stores it in the tier its size calls
// for. External blobs go under a fresh opaque key via PutIfAbsent; the
// caller applies the result to the record and hands any replaced blob
// to the deletion worker. Empty cats yield the "empty" tier with
// nothing written.
func (m *Manager) StorePayload(ctx context.Context, owner, id string, cats []chartdata.Category) (*StoredPayload, error) {
	encoded, err := EncodePayload(cats)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	hash := xxhash.Sum64(encoded)

	if len(cats) == 0 {
		return &StoredPayload{Hash: hash, Tier: "empty"}, nil
	}

	if len(encoded) <= m.cfg.InlineThresholdBytes {
		metrics.AddPayloadBytes("inline", len(encoded))
		return &StoredPayload{Inline: encoded, Hash: hash, Bytes: len(encoded), Tier: "inline"}, nil
	}

	compressed, err := CompressPayload(encoded)
	if err != nil {
		return nil, fmt.Errorf("compress payload: %w", err)
	}

	blobID := uuid.New().String()
	key := BlobKey(owner, id, blobID)
	if err := m.putBlob(ctx, key, compressed); err != nil {
		return nil, err
	}

	m.logger.Info("externalized dataset payload",
		"owner", owner, "dataset", id, "blob_id", blobID,
		"encoded_bytes", len(encoded), "compressed_bytes", len(compressed))
	metrics.AddPayloadBytes("external", len(compressed))
	return &StoredPayload{BlobID: blobID, Hash: hash, Bytes: len(compressed), Tier: "external"}, nil
}

// putBlob writes an external blob with bounded retries. Blob keys are
// fresh UUIDs, so retrying a PutIfAbsent that already succeeded just
// reports a conflict, which counts as success.
func (m *Manager) putBlob(ctx context.Context, key string, data []byte) error {
	var lastErr error
	for attempt := 0; attempt < m.cfg.BlobWriteAttempts; attempt++ {
		_, err := m.store.PutIfAbsent(ctx, key, bytes.NewReader(data), int64(len(data)), &objectstore.PutOptions{
			ContentType: "application/zstd",
		})
		if err == nil || objectstore.IsConflictError(err) {
			return nil
		}
		lastErr = err
		m.logger.Warn("blob write failed, retrying", "key", key, "attempt", attempt+1, "error", err)
	}
	return fmt.Errorf("write payload blob %s: %w", key, lastErr)
}

// ReadPayload returns the record's category list. A nil DataRef means
// no data. External blobs are sniffed for compression and must pass
// structural validation; failures surface as ErrCorrupt and the caller
// is expected to invalidate any cache entry for the dataset.
func (m *Manager) ReadPayload(ctx context.Context, rec *Record) ([]chartdata.Category, error) {
	if rec.DataRef == nil {
		return nil, nil
	}

	if !rec.DataRef.External() {
		if len(rec.Inline) == 0 {
			return nil, fmt.Errorf("%w: data ref present but inline payload empty", ErrCorrupt)
		}
		return DecodePayload(rec.Inline)
	}

	key := BlobKey(rec.Owner, rec.ID, rec.DataRef.BlobID)
	reader, _, err := m.store.Get(ctx, key, nil)
	if err != nil {
		if objectstore.IsNotFoundError(err) {
			return nil, fmt.Errorf("%w: payload blob %s missing", ErrCorrupt, key)
		}
		return nil, fmt.Errorf("fetch payload blob: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read payload blob: %w", err)
	}
	return DecodePayload(data)
}

// Delete tombstones the record and returns every external blob key it
// referenced, for the caller to hand to the deletion worker. Physical
// blob deletion never happens on this path.
func (m *Manager) Delete(ctx context.Context, owner, id string) ([]string, error) {
	var refs []string
	_, err := m.Update(ctx, owner, id, func(rec *Record) error {
		refs = rec.ExternalRefs()
		now := time.Now().UTC()
		rec.Deletion.Tombstoned = true
		rec.Deletion.TombstonedAt = &now
		// Refs stay on the tombstone so a sweep can re-derive them if
		// this process dies before the deletion worker drains them.
		return nil
	})
	if err != nil {
		return nil, err
	}
	return refs, nil
}
