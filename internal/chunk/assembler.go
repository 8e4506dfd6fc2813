// Package chunk reassembles oversized uploads that arrive as
// sequentially numbered byte chunks. Buffers are keyed, bounded, and
// expire when a partial upload goes idle, so an abandoned transfer
// never pins memory for the process lifetime.
package chunk

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring"

	"github.com/vizorhq/vizor/internal/logging"
	"github.com/vizorhq/vizor/internal/metrics"
)

var (
	ErrBadIndex          = errors.New("chunk index out of range")
	ErrTotalMismatch     = errors.New("total chunk count changed mid-upload")
	ErrChunkTooLarge     = errors.New("chunk exceeds per-chunk maximum")
	ErrAssembledTooLarge = errors.New("reassembled upload exceeds maximum")
)

const (
	defaultMaxChunkBytes     = 8 * 1024 * 1024
	defaultMaxAssembledBytes = 64 * 1024 * 1024
	defaultIdleTTL           = 15 * time.Minute
)

// Config tunes the assembler. Zero values take defaults.
type Config struct {
	MaxChunkBytes     int
	MaxAssembledBytes int
	// IdleTTL is how long a partial upload may sit without new chunks
	// before its buffer is dropped.
	IdleTTL time.Duration
	// SweepInterval is how often stale buffers are collected when the
	// sweep loop is started.
	SweepInterval time.Duration
}

// Result reports the state of one upload after a Put.
type Result struct {
	// Complete is true once all chunks were present and Data holds the
	// reassembled bytes.
	Complete bool
	// Received is how many distinct chunk indices have arrived.
	Received int
	Total    int
	Data     []byte
}

// Assembler buffers chunks by key until an upload completes.
type Assembler struct {
	cfg    Config
	logger *logging.Logger

	mu      sync.Mutex
	entries map[string]*entry

	runMu  sync.Mutex
	stopCh chan struct{}
	doneCh chan struct{}
}

// entry is one in-flight upload. Chunk arrivals for the same key
// serialize on the entry mutex while different keys stay independent.
type entry struct {
	mu       sync.Mutex
	parts    map[uint32][]byte
	received *roaring.Bitmap
	total    uint32
	size     int
	lastPut  time.Time
}

// NewAssembler creates an assembler.
func NewAssembler(cfg Config, logger *logging.Logger) *Assembler {
	if cfg.MaxChunkBytes <= 0 {
		cfg.MaxChunkBytes = defaultMaxChunkBytes
	}
	if cfg.MaxAssembledBytes <= 0 {
		cfg.MaxAssembledBytes = defaultMaxAssembledBytes
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = defaultIdleTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Assembler{
		cfg:     cfg,
		logger:  logger,
		entries: make(map[string]*entry),
	}
}

// Put adds one chunk. Chunks may arrive in any order; assembly is by
// index. A duplicate index overwrites the earlier bytes, which keeps
// transport-level retries harmless. Once every index in
// [0, totalChunks) is present the chunks are concatenated in index
// order, the buffer for the key is cleared, and the reassembled bytes
// are returned after a final size check.
func (a *Assembler) Put(key string, index, totalChunks int, data []byte) (Result, error) {
	if totalChunks <= 0 || index < 0 || index >= totalChunks {
		return Result{}, fmt.Errorf("%w: index %d of %d", ErrBadIndex, index, totalChunks)
	}
	if len(data) > a.cfg.MaxChunkBytes {
		metrics.ObserveChunkAssembly("rejected")
		return Result{}, fmt.Errorf("%w: chunk %d is %d bytes, max %d", ErrChunkTooLarge, index, len(data), a.cfg.MaxChunkBytes)
	}

	e := a.entryFor(key, uint32(totalChunks))

	// Lock ordering: e.mu is never held while taking a.mu. The sweep
	// loop holds a.mu and then each e.mu, so the reverse order here
	// would deadlock.
	e.mu.Lock()

	if e.total != uint32(totalChunks) {
		had := e.total
		e.mu.Unlock()
		// A restarted upload with a different chunk count gets a fresh
		// buffer on its next Put instead of waiting out the idle sweep.
		a.removeEntry(key, e)
		return Result{}, fmt.Errorf("%w: key %s had %d, now %d", ErrTotalMismatch, key, had, totalChunks)
	}

	idx := uint32(index)
	if prev, dup := e.parts[idx]; dup {
		e.size -= len(prev)
	}
	part := make([]byte, len(data))
	copy(part, data)
	e.parts[idx] = part
	e.received.Add(idx)
	e.size += len(data)
	e.lastPut = time.Now()

	received := int(e.received.GetCardinality())
	if received < totalChunks {
		e.mu.Unlock()
		return Result{Received: received, Total: totalChunks}, nil
	}

	// All indices present: reassemble, then drop the buffer.
	size := e.size
	var assembled []byte
	if size <= a.cfg.MaxAssembledBytes {
		assembled = make([]byte, 0, size)
		for i := uint32(0); i < e.total; i++ {
			assembled = append(assembled, e.parts[i]...)
		}
	}
	e.mu.Unlock()
	a.removeEntry(key, e)

	if assembled == nil {
		metrics.ObserveChunkAssembly("rejected")
		return Result{}, fmt.Errorf("%w: %d bytes, max %d", ErrAssembledTooLarge, size, a.cfg.MaxAssembledBytes)
	}
	metrics.ObserveChunkAssembly("completed")
	return Result{Complete: true, Received: received, Total: totalChunks, Data: assembled}, nil
}

// Pending returns how many uploads are currently buffered.
func (a *Assembler) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

// Discard drops the buffer for a key, if any.
func (a *Assembler) Discard(key string) {
	a.remove(key)
}

func (a *Assembler) entryFor(key string, total uint32) *entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.entries[key]
	if !ok {
		e = &entry{
			parts:    make(map[uint32][]byte),
			received: roaring.New(),
			total:    total,
			lastPut:  time.Now(),
		}
		a.entries[key] = e
		metrics.ChunkBuffersActive.Set(float64(len(a.entries)))
	}
	return e
}

func (a *Assembler) remove(key string) {
	a.mu.Lock()
	if _, ok := a.entries[key]; ok {
		delete(a.entries, key)
		metrics.ChunkBuffersActive.Set(float64(len(a.entries)))
	}
	a.mu.Unlock()
}

// removeEntry drops key only while it still maps to e, so a buffer
// recreated for the same key in the meantime is left alone.
func (a *Assembler) removeEntry(key string, e *entry) {
	a.mu.Lock()
	if cur, ok := a.entries[key]; ok && cur == e {
		delete(a.entries, key)
		metrics.ChunkBuffersActive.Set(float64(len(a.entries)))
	}
	a.mu.Unlock()
}

// Start launches the stale-buffer sweep loop.
func (a *Assembler) Start() {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.stopCh != nil {
		return
	}
	a.stopCh = make(chan struct{})
	a.doneCh = make(chan struct{})
	go a.sweepLoop(a.stopCh, a.doneCh)
}

// Stop halts the sweep loop and waits for it to exit.
func (a *Assembler) Stop() {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.stopCh == nil {
		return
	}
	close(a.stopCh)
	<-a.doneCh
	a.stopCh = nil
	a.doneCh = nil
}

func (a *Assembler) sweepLoop(stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	ticker := time.NewTicker(a.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			a.sweep()
		}
	}
}

func (a *Assembler) sweep() {
	cutoff := time.Now().Add(-a.cfg.IdleTTL)

	a.mu.Lock()
	var stale []string
	for key, e := range a.entries {
		e.mu.Lock()
		idle := e.lastPut.Before(cutoff)
		e.mu.Unlock()
		if idle {
			stale = append(stale, key)
		}
	}
	for _, key := range stale {
		delete(a.entries, key)
	}
	if len(stale) > 0 {
		metrics.ChunkBuffersActive.Set(float64(len(a.entries)))
	}
	a.mu.Unlock()

	for _, key := range stale {
		a.logger.Warn("dropped idle chunked upload buffer", "key", key)
		metrics.ObserveChunkAssembly("expired")
	}
}
