package objectstore

import "fmt"

// Config selects and configures a store backend.
type Config struct {
	// Type is one of "memory", "fs", or "s3".
	Type string

	// RootPath is the data directory for the fs backend.
	RootPath string

	S3 S3Config
}

// New builds a Store from cfg.
func New(cfg Config) (Store, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStore(), nil
	case "fs":
		return NewFSStore(cfg.RootPath)
	case "s3":
		return NewS3Store(cfg.S3)
	default:
		return nil, fmt.Errorf("unsupported object store type %q", cfg.Type)
	}
}
