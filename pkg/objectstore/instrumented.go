package objectstore

import (
	"context"
	"io"
	"time"

	"github.com/vizorhq/vizor/internal/metrics"
)

// InstrumentedStore decorates a Store so every call is timed and
// counted per operation, with errors recorded separately. It adds no
// behavior of its own; wiring it between the service and the backend
// is enough.
type InstrumentedStore struct {
	inner Store
}

// NewInstrumentedStore wraps inner with Prometheus instrumentation.
func NewInstrumentedStore(inner Store) *InstrumentedStore {
	return &InstrumentedStore{inner: inner}
}

// Get fetches an object, recorded under the "get" operation.
func (s *InstrumentedStore) Get(ctx context.Context, key string, opts *GetOptions) (io.ReadCloser, *ObjectInfo, error) {
	start := time.Now()
	reader, info, err := s.inner.Get(ctx, key, opts)
	metrics.ObserveObjectStoreOp("get", time.Since(start).Seconds(), err)
	return reader, info, err
}

// Head stats an object, recorded under the "head" operation.
func (s *InstrumentedStore) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	start := time.Now()
	info, err := s.inner.Head(ctx, key)
	metrics.ObserveObjectStoreOp("head", time.Since(start).Seconds(), err)
	return info, err
}

// Put writes an object, recorded under the "put" operation.
func (s *InstrumentedStore) Put(ctx context.Context, key string, body io.Reader, size int64, opts *PutOptions) (*ObjectInfo, error) {
	start := time.Now()
	info, err := s.inner.Put(ctx, key, body, size, opts)
	metrics.ObserveObjectStoreOp("put", time.Since(start).Seconds(), err)
	return info, err
}

// PutIfAbsent writes an object only when the key is free, recorded
// under "put_if_absent". Precondition failures count as errors, which
// keeps write contention visible.
func (s *InstrumentedStore) PutIfAbsent(ctx context.Context, key string, body io.Reader, size int64, opts *PutOptions) (*ObjectInfo, error) {
	start := time.Now()
	info, err := s.inner.PutIfAbsent(ctx, key, body, size, opts)
	metrics.ObserveObjectStoreOp("put_if_absent", time.Since(start).Seconds(), err)
	return info, err
}

// PutIfMatch writes an object guarded by etag, recorded under
// "put_if_match". Lost races surface in the error count.
func (s *InstrumentedStore) PutIfMatch(ctx context.Context, key string, body io.Reader, size int64, etag string, opts *PutOptions) (*ObjectInfo, error) {
	start := time.Now()
	info, err := s.inner.PutIfMatch(ctx, key, body, size, etag, opts)
	metrics.ObserveObjectStoreOp("put_if_match", time.Since(start).Seconds(), err)
	return info, err
}

// Delete removes an object, recorded under the "delete" operation.
func (s *InstrumentedStore) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := s.inner.Delete(ctx, key)
	metrics.ObserveObjectStoreOp("delete", time.Since(start).Seconds(), err)
	return err
}

// List pages through keys, recorded under the "list" operation.
func (s *InstrumentedStore) List(ctx context.Context, opts *ListOptions) (*ListResult, error) {
	start := time.Now()
	result, err := s.inner.List(ctx, opts)
	metrics.ObserveObjectStoreOp("list", time.Since(start).Seconds(), err)
	return result, err
}
