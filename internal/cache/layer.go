package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/vizorhq/vizor/internal/chartdata"
	"github.com/vizorhq/vizor/internal/logging"
	"github.com/vizorhq/vizor/internal/metrics"
)

const (
	defaultTTL       = time.Hour
	defaultMaxEntry  = 5 * 1024 * 1024
	defaultWarnEntry = 4 * 1024 * 1024
)

// LayerConfig tunes the dataset cache layer. Zero values take
// defaults.
type LayerConfig struct {
	TTL time.Duration
	// MaxEntryBytes is the ceiling above which payloads are not cached
	// at all. Skipping is not a failure.
	MaxEntryBytes int
	// WarnEntryBytes triggers a warning log for payloads approaching
	// the ceiling.
	WarnEntryBytes int
}

// Layer caches serialized category lists keyed by (owner, dataset).
// Reads that miss or hit a corrupt entry fall back to the tiered store
// and repopulate.
type Layer struct {
	store  Store
	cfg    LayerConfig
	logger *logging.Logger
}

// NewLayer wraps a cache backend.
func NewLayer(store Store, cfg LayerConfig, logger *logging.Logger) *Layer {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.MaxEntryBytes <= 0 {
		cfg.MaxEntryBytes = defaultMaxEntry
	}
	if cfg.WarnEntryBytes <= 0 {
		cfg.WarnEntryBytes = defaultWarnEntry
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Layer{store: store, cfg: cfg, logger: logger}
}

// Key builds the cache key for a dataset.
func Key(owner, dataset string) string {
	return owner + "/" + dataset
}

// GetCategories returns the cached category list, or ok=false on miss.
// An entry that fails decoding or structural validation is deleted and
// reported as a miss, so the caller transparently falls back to the
// tiered store.
func (l *Layer) GetCategories(ctx context.Context, owner, dataset string) ([]chartdata.Category, bool) {
	key := Key(owner, dataset)
	data, err := l.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			l.logger.Warn("cache get failed", "key", key, "error", err)
		}
		metrics.CacheMisses.Inc()
		return nil, false
	}

	var cats []chartdata.Category
	decodeErr := json.Unmarshal(data, &cats)
	if decodeErr == nil {
		decodeErr = chartdata.ValidateCategories(cats)
	}
	if decodeErr != nil {
		l.logger.Warn("dropping corrupt cache entry", "key", key, "error", decodeErr)
		metrics.CacheCorruptions.Inc()
		_ = l.store.Del(ctx, key)
		metrics.CacheMisses.Inc()
		return nil, false
	}

	metrics.CacheHits.Inc()
	return cats, true
}

// SetCategories write-through caches the category list. The returned
// bool reports whether caching actually happened: payloads above the
// entry ceiling are skipped, not failed.
func (l *Layer) SetCategories(ctx context.Context, owner, dataset string, cats []chartdata.Category) bool {
	key := Key(owner, dataset)
	data, err := json.Marshal(cats)
	if err != nil {
		l.logger.Warn("cache encode failed", "key", key, "error", err)
		return false
	}

	if len(data) > l.cfg.MaxEntryBytes {
		l.logger.Warn("payload exceeds cache ceiling, skipping cache",
			"key", key, "bytes", len(data), "ceiling", l.cfg.MaxEntryBytes)
		metrics.CacheSkips.Inc()
		return false
	}
	if len(data) > l.cfg.WarnEntryBytes {
		l.logger.Warn("payload approaching cache ceiling",
			"key", key, "bytes", len(data), "warn_threshold", l.cfg.WarnEntryBytes)
	}

	if err := l.store.Set(ctx, key, data, l.cfg.TTL); err != nil {
		l.logger.Warn("cache set failed", "key", key, "error", err)
		return false
	}
	return true
}

// Delete invalidates the dataset's cache entry.
func (l *Layer) Delete(ctx context.Context, owner, dataset string) {
	if err := l.store.Del(ctx, Key(owner, dataset)); err != nil {
		l.logger.Warn("cache delete failed", "owner", owner, "dataset", dataset, "error", err)
	}
}
