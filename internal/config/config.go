package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

type Config struct {
	// MetricsAddr is the listen address for the Prometheus scrape
	// endpoint exposed by long-running commands.
	MetricsAddr string            `json:"metrics_addr"`
	ObjectStore ObjectStoreConfig `json:"object_store"`
	Cache       CacheConfig       `json:"cache"`
	Limits      LimitsConfig      `json:"limits"`
	Chunks      ChunkConfig       `json:"chunks"`
	GC          GCConfig          `json:"gc"`
	Transform   TransformConfig   `json:"transform"`
	Timeout     TimeoutConfig     `json:"timeout"`
}

type ObjectStoreConfig struct {
	Type      string `json:"type"`
	Endpoint  string `json:"endpoint"`
	Bucket    string `json:"bucket"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	Region    string `json:"region"`
	UseSSL    bool   `json:"use_ssl"`
	RootPath  string `json:"root_path"`
}

// CacheConfig holds the dataset payload cache settings.
type CacheConfig struct {
	// TTLSeconds is the entry lifetime. Default: 3600 (1 hour).
	TTLSeconds int `json:"ttl_seconds"`
	// SweepIntervalSeconds is how often expired entries are evicted.
	// Default: 60.
	SweepIntervalSeconds int `json:"sweep_interval_seconds"`
	// MaxEntryMB is the hard ceiling for a single cached payload.
	// Payloads above it bypass the cache. Default: 5.
	MaxEntryMB int `json:"max_entry_mb"`
	// WarnEntryMB is the soft threshold that triggers a warning log.
	// Default: 4.
	WarnEntryMB int `json:"warn_entry_mb"`
}

func (c CacheConfig) GetTTL() time.Duration {
	if c.TTLSeconds <= 0 {
		return time.Hour
	}
	return time.Duration(c.TTLSeconds) * time.Second
}

func (c CacheConfig) GetSweepInterval() time.Duration {
	if c.SweepIntervalSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

func (c CacheConfig) GetMaxEntryBytes() int {
	if c.MaxEntryMB <= 0 {
		return 5 * 1024 * 1024
	}
	return c.MaxEntryMB * 1024 * 1024
}

func (c CacheConfig) GetWarnEntryBytes() int {
	if c.WarnEntryMB <= 0 {
		return 4 * 1024 * 1024
	}
	return c.WarnEntryMB * 1024 * 1024
}

// LimitsConfig holds the dataset payload size limits.
type LimitsConfig struct {
	// DatasetBudgetMB caps the serialized size of a dataset's chart
	// payload. Default: 8.
	DatasetBudgetMB int `json:"dataset_budget_mb"`
	// InlineThresholdKB is the largest payload stored inline on the
	// dataset record; anything bigger is compressed and externalized.
	// Default: 256.
	InlineThresholdKB int `json:"inline_threshold_kb"`
	// CASAttempts bounds the optimistic-concurrency retry loop on
	// dataset record updates. Default: 5.
	CASAttempts int `json:"cas_attempts"`
	// BlobWriteAttempts bounds retries for external payload writes.
	// Default: 3.
	BlobWriteAttempts int `json:"blob_write_attempts"`
}

func (c LimitsConfig) GetDatasetBudgetBytes() int {
	if c.DatasetBudgetMB <= 0 {
		return 8 * 1024 * 1024
	}
	return c.DatasetBudgetMB * 1024 * 1024
}

func (c LimitsConfig) GetInlineThresholdBytes() int {
	if c.InlineThresholdKB <= 0 {
		return 256 * 1024
	}
	return c.InlineThresholdKB * 1024
}

func (c LimitsConfig) GetCASAttempts() int {
	if c.CASAttempts <= 0 {
		return 5
	}
	return c.CASAttempts
}

func (c LimitsConfig) GetBlobWriteAttempts() int {
	if c.BlobWriteAttempts <= 0 {
		return 3
	}
	return c.BlobWriteAttempts
}

// ChunkConfig holds chunked-upload reassembly settings.
type ChunkConfig struct {
	// MaxChunkMB caps a single uploaded chunk. Default: 8.
	MaxChunkMB int `json:"max_chunk_mb"`
	// MaxAssembledMB caps the reassembled upload. Default: 64.
	MaxAssembledMB int `json:"max_assembled_mb"`
	// IdleTTLSeconds is how long a partial upload may sit without new
	// chunks before its buffer is dropped. Default: 900.
	IdleTTLSeconds int `json:"idle_ttl_seconds"`
	// SweepIntervalSeconds is how often stale buffers are collected.
	// Default: 60.
	SweepIntervalSeconds int `json:"sweep_interval_seconds"`
}

func (c ChunkConfig) GetMaxChunkBytes() int {
	if c.MaxChunkMB <= 0 {
		return 8 * 1024 * 1024
	}
	return c.MaxChunkMB * 1024 * 1024
}

func (c ChunkConfig) GetMaxAssembledBytes() int {
	if c.MaxAssembledMB <= 0 {
		return 64 * 1024 * 1024
	}
	return c.MaxAssembledMB * 1024 * 1024
}

func (c ChunkConfig) GetIdleTTL() time.Duration {
	if c.IdleTTLSeconds <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(c.IdleTTLSeconds) * time.Second
}

func (c ChunkConfig) GetSweepInterval() time.Duration {
	if c.SweepIntervalSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// GCConfig holds deletion worker settings.
type GCConfig struct {
	// RetryAttempts is how many times a blob delete is tried before
	// the ref is dropped with a log. Default: 3.
	RetryAttempts int `json:"retry_attempts"`
	// RetryBackoffMs is the base backoff between attempts; it doubles
	// per attempt. Default: 250.
	RetryBackoffMs int `json:"retry_backoff_ms"`
	// BatchConcurrency bounds parallel deletes within a batch.
	// Default: 4.
	BatchConcurrency int `json:"batch_concurrency"`
}

func (c GCConfig) GetRetryAttempts() int {
	if c.RetryAttempts <= 0 {
		return 3
	}
	return c.RetryAttempts
}

func (c GCConfig) GetRetryBackoff() time.Duration {
	if c.RetryBackoffMs <= 0 {
		return 250 * time.Millisecond
	}
	return time.Duration(c.RetryBackoffMs) * time.Millisecond
}

func (c GCConfig) GetBatchConcurrency() int {
	if c.BatchConcurrency <= 0 {
		return 4
	}
	return c.BatchConcurrency
}

// TransformConfig holds record transformation settings.
type TransformConfig struct {
	// BatchSize is how many records are transformed per group to bound
	// peak memory. Default: 1000.
	BatchSize int `json:"batch_size"`
}

func (c TransformConfig) GetBatchSize() int {
	if c.BatchSize <= 0 {
		return 1000
	}
	return c.BatchSize
}

// TimeoutConfig holds per-operation timeout configuration.
type TimeoutConfig struct {
	// WriteTimeoutMs is the maximum time allowed for an ingest
	// read-merge-write sequence in milliseconds. Default: 60000.
	WriteTimeoutMs int `json:"write_timeout_ms"`
	// ReadTimeoutMs is the maximum time allowed for dataset reads in
	// milliseconds. Default: 30000.
	ReadTimeoutMs int `json:"read_timeout_ms"`
}

func (c TimeoutConfig) GetWriteTimeout() time.Duration {
	if c.WriteTimeoutMs <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.WriteTimeoutMs) * time.Millisecond
}

func (c TimeoutConfig) GetReadTimeout() time.Duration {
	if c.ReadTimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.ReadTimeoutMs) * time.Millisecond
}

func Default() *Config {
	return &Config{
		MetricsAddr: ":9102",
		ObjectStore: ObjectStoreConfig{
			Type:      "s3",
			Endpoint:  "http://localhost:9000",
			Bucket:    "vizor",
			AccessKey: "minioadmin",
			SecretKey: "minioadmin",
			Region:    "us-east-1",
			UseSSL:    false,
		},
	}
}

func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("VIZOR_CONFIG")
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	if env := os.Getenv("VIZOR_METRICS_ADDR"); env != "" {
		cfg.MetricsAddr = env
	}
	if env := os.Getenv("VIZOR_OBJECT_STORE_TYPE"); env != "" {
		cfg.ObjectStore.Type = env
	}
	if env := os.Getenv("VIZOR_OBJECT_STORE_ENDPOINT"); env != "" {
		cfg.ObjectStore.Endpoint = env
	}
	if env := os.Getenv("VIZOR_OBJECT_STORE_BUCKET"); env != "" {
		cfg.ObjectStore.Bucket = env
	}
	if env := os.Getenv("VIZOR_OBJECT_STORE_ROOT"); env != "" {
		cfg.ObjectStore.RootPath = env
	}
	if env := os.Getenv("VIZOR_OBJECT_STORE_ACCESS_KEY"); env != "" {
		cfg.ObjectStore.AccessKey = env
	}
	if env := os.Getenv("VIZOR_OBJECT_STORE_SECRET_KEY"); env != "" {
		cfg.ObjectStore.SecretKey = env
	}
	if env := os.Getenv("VIZOR_OBJECT_STORE_REGION"); env != "" {
		cfg.ObjectStore.Region = env
	}
	if env := os.Getenv("VIZOR_OBJECT_STORE_USE_SSL"); env != "" {
		cfg.ObjectStore.UseSSL = env == "true" || env == "1"
	}

	if env := os.Getenv("VIZOR_CACHE_TTL_SECONDS"); env != "" {
		if n, err := parseIntEnv(env); err == nil {
			cfg.Cache.TTLSeconds = n
		}
	}
	if env := os.Getenv("VIZOR_CACHE_SWEEP_INTERVAL_SECONDS"); env != "" {
		if n, err := parseIntEnv(env); err == nil {
			cfg.Cache.SweepIntervalSeconds = n
		}
	}
	if env := os.Getenv("VIZOR_CACHE_MAX_ENTRY_MB"); env != "" {
		if n, err := parseIntEnv(env); err == nil {
			cfg.Cache.MaxEntryMB = n
		}
	}
	if env := os.Getenv("VIZOR_CACHE_WARN_ENTRY_MB"); env != "" {
		if n, err := parseIntEnv(env); err == nil {
			cfg.Cache.WarnEntryMB = n
		}
	}

	if env := os.Getenv("VIZOR_LIMITS_DATASET_BUDGET_MB"); env != "" {
		if n, err := parseIntEnv(env); err == nil {
			cfg.Limits.DatasetBudgetMB = n
		}
	}
	if env := os.Getenv("VIZOR_LIMITS_INLINE_THRESHOLD_KB"); env != "" {
		if n, err := parseIntEnv(env); err == nil {
			cfg.Limits.InlineThresholdKB = n
		}
	}
	if env := os.Getenv("VIZOR_LIMITS_CAS_ATTEMPTS"); env != "" {
		if n, err := parseIntEnv(env); err == nil {
			cfg.Limits.CASAttempts = n
		}
	}
	if env := os.Getenv("VIZOR_LIMITS_BLOB_WRITE_ATTEMPTS"); env != "" {
		if n, err := parseIntEnv(env); err == nil {
			cfg.Limits.BlobWriteAttempts = n
		}
	}

	if env := os.Getenv("VIZOR_CHUNKS_MAX_CHUNK_MB"); env != "" {
		if n, err := parseIntEnv(env); err == nil {
			cfg.Chunks.MaxChunkMB = n
		}
	}
	if env := os.Getenv("VIZOR_CHUNKS_MAX_ASSEMBLED_MB"); env != "" {
		if n, err := parseIntEnv(env); err == nil {
			cfg.Chunks.MaxAssembledMB = n
		}
	}
	if env := os.Getenv("VIZOR_CHUNKS_IDLE_TTL_SECONDS"); env != "" {
		if n, err := parseIntEnv(env); err == nil {
			cfg.Chunks.IdleTTLSeconds = n
		}
	}
	if env := os.Getenv("VIZOR_CHUNKS_SWEEP_INTERVAL_SECONDS"); env != "" {
		if n, err := parseIntEnv(env); err == nil {
			cfg.Chunks.SweepIntervalSeconds = n
		}
	}

	if env := os.Getenv("VIZOR_GC_RETRY_ATTEMPTS"); env != "" {
		if n, err := parseIntEnv(env); err == nil {
			cfg.GC.RetryAttempts = n
		}
	}
	if env := os.Getenv("VIZOR_GC_RETRY_BACKOFF_MS"); env != "" {
		if n, err := parseIntEnv(env); err == nil {
			cfg.GC.RetryBackoffMs = n
		}
	}
	if env := os.Getenv("VIZOR_GC_BATCH_CONCURRENCY"); env != "" {
		if n, err := parseIntEnv(env); err == nil {
			cfg.GC.BatchConcurrency = n
		}
	}

	if env := os.Getenv("VIZOR_TRANSFORM_BATCH_SIZE"); env != "" {
		if n, err := parseIntEnv(env); err == nil {
			cfg.Transform.BatchSize = n
		}
	}

	if env := os.Getenv("VIZOR_TIMEOUT_WRITE_MS"); env != "" {
		if n, err := parseIntEnv(env); err == nil {
			cfg.Timeout.WriteTimeoutMs = n
		}
	}
	if env := os.Getenv("VIZOR_TIMEOUT_READ_MS"); env != "" {
		if n, err := parseIntEnv(env); err == nil {
			cfg.Timeout.ReadTimeoutMs = n
		}
	}

	return cfg, nil
}

func parseIntEnv(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}
