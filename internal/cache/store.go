// Package cache is the write-through cache in front of the dataset
// tiered store. The Store contract matches an external cache service
// (get/set-with-ttl/del); Memory is the in-process implementation used
// by single-node deployments and tests.
package cache

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Store is the narrow cache backend contract.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// Memory is a TTL cache held on the heap. Expired entries are dropped
// lazily on Get and collected by a background sweep.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry

	sweepInterval time.Duration

	runMu  sync.Mutex
	stopCh chan struct{}
	doneCh chan struct{}
}

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// NewMemory creates a memory store. sweepInterval <= 0 disables the
// background sweep; lazy expiry on Get still applies.
func NewMemory(sweepInterval time.Duration) *Memory {
	return &Memory{
		entries:       make(map[string]memoryEntry),
		sweepInterval: sweepInterval,
	}
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	ent, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrMiss
	}
	if time.Now().After(ent.expiresAt) {
		m.mu.Lock()
		// Re-check under the write lock; a fresher Set may have raced.
		if cur, ok := m.entries[key]; ok && time.Now().After(cur.expiresAt) {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return nil, ErrMiss
	}
	out := make([]byte, len(ent.data))
	copy(out, ent.data)
	return out, nil
}

func (m *Memory) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = time.Hour
	}
	data := make([]byte, len(value))
	copy(data, value)

	m.mu.Lock()
	m.entries[key] = memoryEntry{data: data, expiresAt: time.Now().Add(ttl)}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Del(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// Len returns the number of live entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Start launches the background sweep loop.
func (m *Memory) Start() {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.stopCh != nil || m.sweepInterval <= 0 {
		return
	}
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	go m.sweepLoop(m.stopCh, m.doneCh)
}

// Stop halts the sweep loop and waits for it to exit.
func (m *Memory) Stop() {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.stopCh == nil {
		return
	}
	close(m.stopCh)
	<-m.doneCh
	m.stopCh = nil
	m.doneCh = nil
}

func (m *Memory) sweepLoop(stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Memory) sweep() {
	now := time.Now()
	m.mu.Lock()
	for key, ent := range m.entries {
		if now.After(ent.expiresAt) {
			delete(m.entries, key)
		}
	}
	m.mu.Unlock()
}
