package worker

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vizorhq/vizor/internal/config"
	"github.com/vizorhq/vizor/internal/dataset"
	"github.com/vizorhq/vizor/internal/gc"
	"github.com/vizorhq/vizor/internal/guardrails"
	"github.com/vizorhq/vizor/internal/logging"
	"github.com/vizorhq/vizor/pkg/objectstore"
)

const defaultSweepInterval = time.Minute

// Run starts the background deletion worker: it drains its queue, and
// periodically sweeps the store for tombstoned datasets to re-drive
// blob deletion and purge record documents whose blobs are gone.
func Run(args []string) {
	fs := flag.NewFlagSet("worker", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	sweepEvery := fs.Duration("sweep-interval", defaultSweepInterval, "How often to sweep for tombstoned datasets")
	fs.Parse(args)

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
	manager := dataset.NewManager(objectstore.NewInstrumentedStore(store), dataset.ManagerConfig{
		InlineThresholdBytes: limits.InlineThresholdBytes,
		CASAttempts:          limits.CASAttempts,
		BlobWriteAttempts:    limits.BlobWriteAttempts,
	}, logger)
	worker := gc.NewWorker(store, gc.Config{
		RetryAttempts:    cfg.GC.GetRetryAttempts(),
		RetryBackoff:     cfg.GC.GetRetryBackoff(),
		BatchConcurrency: cfg.GC.GetBatchConcurrency(),
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	worker.Start(ctx)

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				logger.Warn("metrics endpoint failed", "addr", cfg.MetricsAddr, "error", err)
			}
		}()
		fmt.Printf("Metrics on %s/metrics\n", cfg.MetricsAddr)
	}

	stopSweep := make(chan struct{})
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		ticker := time.NewTicker(*sweepEvery)
		defer ticker.Stop()
		for {
			sweepTombstones(ctx, logger, manager, worker)
			select {
			case <-ticker.C:
			case <-stopSweep:
				return
			}
		}
	}()

	fmt.Printf("Deletion worker started (object store: %s)\n", cfg.ObjectStore.Type)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-done

	fmt.Println("\nShutting down worker...")
	close(stopSweep)
	<-sweepDone
	worker.Stop()
	cancel()
	fmt.Println("Worker stopped")
}

// sweepTombstones enqueues every tombstoned dataset's remaining blob
// refs, waits for the queue to drain, then purges the record
// documents.
func sweepTombstones(ctx context.Context, logger *logging.Logger, manager *dataset.Manager, worker *gc.Worker) {
	tombs, err := manager.ListTombstoned(ctx)
	if err != nil {
		logger.Warn("tombstone sweep failed", "error", err)
		return
	}
	if len(tombs) == 0 {
		return
	}

	for _, tomb := range tombs {
		worker.Enqueue(gc.Batch{Owner: tomb.Owner, Dataset: tomb.ID, Refs: tomb.Refs})
	}
	worker.Drain(ctx)

	for _, tomb := range tombs {
		if err := manager.Purge(ctx, tomb.Owner, tomb.ID); err != nil {
			logger.Warn("purge failed", "owner", tomb.Owner, "dataset", tomb.ID, "error", err)
		}
	}
	logger.Info("tombstone sweep complete", "datasets", len(tombs))
}
