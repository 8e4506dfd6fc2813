// Package objectstore defines the blob storage contract the rest of the
// system is built on: plain keyed objects with ETags and conditional
// writes. Dataset records and externalized chart payloads both live
// behind this interface, so every backend has to provide read-after-write
// consistency and compare-and-swap puts.
package objectstore

import (
	"context"
	"io"
	"time"
)

type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
	ContentType  string
}

type ListResult struct {
	Objects     []ObjectInfo
	NextMarker  string
	IsTruncated bool
}

type GetOptions struct {
	IfMatch     string
	IfNoneMatch string
}

type PutOptions struct {
	IfMatch     string
	IfNoneMatch string
	ContentType string
}

type ListOptions struct {
	Prefix  string
	Marker  string
	MaxKeys int
}

type Store interface {
	Get(ctx context.Context, key string, opts *GetOptions) (io.ReadCloser, *ObjectInfo, error)
	Head(ctx context.Context, key string) (*ObjectInfo, error)
	Put(ctx context.Context, key string, body io.Reader, size int64, opts *PutOptions) (*ObjectInfo, error)
	PutIfAbsent(ctx context.Context, key string, body io.Reader, size int64, opts *PutOptions) (*ObjectInfo, error)
	PutIfMatch(ctx context.Context, key string, body io.Reader, size int64, etag string, opts *PutOptions) (*ObjectInfo, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, opts *ListOptions) (*ListResult, error)
}
