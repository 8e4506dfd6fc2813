package ingest

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/vizorhq/vizor/internal/cache"
	"github.com/vizorhq/vizor/internal/chunk"
	"github.com/vizorhq/vizor/internal/config"
	"github.com/vizorhq/vizor/internal/dataset"
	"github.com/vizorhq/vizor/internal/gc"
	"github.com/vizorhq/vizor/internal/guardrails"
	ing "github.com/vizorhq/vizor/internal/ingest"
	"github.com/vizorhq/vizor/internal/logging"
	"github.com/vizorhq/vizor/internal/transform"
	"github.com/vizorhq/vizor/pkg/objectstore"
)

func Run(args []string) {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	owner := fs.String("owner", "", "Owner id")
	ds := fs.String("dataset", "", "Dataset id")
	file := fs.String("file", "", "Path to the tabular file to ingest")
	declaredType := fs.String("type", "", "File type (csv, tsv, xlsx); defaults to the file extension")
	fs.Parse(args)

	if *owner == "" || *ds == "" || *file == "" {
		fmt.Fprintln(os.Stderr, "ingest requires -owner, -dataset, and -file")
		fs.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	store, err := objectstore.New(objectstore.Config{
		Type:     cfg.ObjectStore.Type,
		RootPath: cfg.ObjectStore.RootPath,
		S3: objectstore.S3Config{
			Endpoint:  cfg.ObjectStore.Endpoint,
			Bucket:    cfg.ObjectStore.Bucket,
			AccessKey: cfg.ObjectStore.AccessKey,
			SecretKey: cfg.ObjectStore.SecretKey,
			Region:    cfg.ObjectStore.Region,
			UseSSL:    cfg.ObjectStore.UseSSL,
		},
	})
	if err != nil {
		log.Fatalf("Failed to create object store: %v", err)
	}

	logger := logging.New()
	limits := guardrails.FromConfig(cfg)
	worker := gc.NewWorker(store, gc.Config{
		RetryAttempts:    cfg.GC.GetRetryAttempts(),
		RetryBackoff:     cfg.GC.GetRetryBackoff(),
		BatchConcurrency: cfg.GC.GetBatchConcurrency(),
	}, logger)

	svc := ing.NewService(ing.Deps{
		Datasets: dataset.NewManager(objectstore.NewInstrumentedStore(store), dataset.ManagerConfig{
			InlineThresholdBytes: limits.InlineThresholdBytes,
			CASAttempts:          limits.CASAttempts,
			BlobWriteAttempts:    limits.BlobWriteAttempts,
		}, logger),
		Cache: cache.NewLayer(cache.NewMemory(0), cache.LayerConfig{
			TTL:            cfg.Cache.GetTTL(),
			MaxEntryBytes:  limits.CacheMaxEntryBytes,
			WarnEntryBytes: limits.CacheWarnEntryBytes,
		}, logger),
		Chunks: chunk.NewAssembler(chunk.Config{
			MaxChunkBytes:     limits.MaxChunkBytes,
			MaxAssembledBytes: limits.MaxAssembledBytes,
		}, logger),
		GC:       worker,
		Notifier: ing.LogNotifier{Logger: logger},
		Logger:   logger,
	}, ing.Options{
		BudgetBytes: limits.DatasetBudgetBytes,
		Transform:   transform.Options{BatchSize: cfg.Transform.GetBatchSize()},
	})

	data, err := os.ReadFile(*file)
	if err != nil {
		log.Fatalf("Failed to read %s: %v", *file, err)
	}
	filename := filepath.Base(*file)
	fileType := *declaredType
	if fileType == "" {
		fileType = strings.TrimPrefix(filepath.Ext(filename), ".")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout.GetWriteTimeout())
	defer cancel()

	res, err := svc.IngestFile(ctx, *owner, *ds, filename, fileType, data, ing.FileMeta{})
	if err != nil {
		log.Fatalf("Ingest failed: %v", err)
	}

	// One-shot process: released blobs must be deleted before exit.
	worker.Drain(ctx)

	if res.NoData {
		fmt.Printf("No usable records in %s\n", filename)
		return
	}
	fmt.Printf("Ingested %s into %s/%s: %d records -> %d categories, %d series, %d points\n",
		filename, *owner, *ds, res.RecordsIn, res.Categories, res.Series, res.Points)
	if len(res.Truncated) > 0 {
		fmt.Printf("  excluded by size budget: %s\n", strings.Join(res.Truncated, ", "))
	}
	if len(res.Conflicts) > 0 {
		fmt.Printf("  %d series merged with value type conflicts\n", len(res.Conflicts))
	}
}
