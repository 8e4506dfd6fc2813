// Package gc physically deletes externalized blobs once nothing
// references them. The write path never waits on deletion: it enqueues
// a batch of blob keys and moves on, and the worker drains the queue
// in the background with bounded retries. A ref that cannot be deleted
// after the retry budget is logged and dropped, never requeued forever.
package gc

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vizorhq/vizor/internal/logging"
	"github.com/vizorhq/vizor/internal/metrics"
	"github.com/vizorhq/vizor/pkg/objectstore"
)

const (
	defaultRetryAttempts    = 3
	defaultRetryBackoff     = 250 * time.Millisecond
	defaultBatchConcurrency = 4
)

// Config tunes the worker. Zero values take defaults.
type Config struct {
	// RetryAttempts is how many times one blob delete is tried.
	RetryAttempts int
	// RetryBackoff is the base backoff between attempts; it doubles
	// per attempt with jitter.
	RetryBackoff time.Duration
	// BatchConcurrency bounds parallel deletes within one batch.
	BatchConcurrency int
}

// Batch is one set of blob keys released by a dataset write or delete.
type Batch struct {
	Owner   string
	Dataset string
	Refs    []string
}

// Worker is the background deletion consumer.
type Worker struct {
	store  objectstore.Store
	cfg    Config
	logger *logging.Logger

	mu      sync.Mutex
	queue   []Batch
	wakeCh  chan struct{}
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewWorker creates a worker over store.
func NewWorker(store objectstore.Store, cfg Config, logger *logging.Logger) *Worker {
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = defaultRetryAttempts
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = defaultBatchConcurrency
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Worker{
		store:  store,
		cfg:    cfg,
		logger: logger,
		wakeCh: make(chan struct{}, 1),
	}
}

// Enqueue adds a batch to the deletion queue. It never blocks and is
// safe to call whether or not the worker is running. Empty batches are
// dropped.
func (w *Worker) Enqueue(b Batch) {
	if len(b.Refs) == 0 {
		return
	}
	w.mu.Lock()
	w.queue = append(w.queue, b)
	depth := len(w.queue)
	w.mu.Unlock()

	metrics.GCQueueDepth.Set(float64(depth))
	select {
	case w.wakeCh <- struct{}{}:
	default:
	}
}

// Start launches the background loop.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	go w.runLoop(ctx)
}

// Stop halts the loop and waits for the in-flight batch to finish.
// Queued batches that were not reached stay queued; a process shutdown
// may leave orphaned blobs, which a later delete of the same dataset
// re-enqueues.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	stopCh, doneCh := w.stopCh, w.doneCh
	w.mu.Unlock()

	close(stopCh)
	<-doneCh
}

func (w *Worker) runLoop(ctx context.Context) {
	defer close(w.doneCh)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-w.wakeCh:
			for w.processOne(ctx) {
				select {
				case <-ctx.Done():
					return
				case <-w.stopCh:
					return
				default:
				}
			}
		}
	}
}

// processOne pops and processes one batch, reporting whether there may
// be more.
func (w *Worker) processOne(ctx context.Context) bool {
	w.mu.Lock()
	if len(w.queue) == 0 {
		w.mu.Unlock()
		return false
	}
	b := w.queue[0]
	w.queue = w.queue[1:]
	depth := len(w.queue)
	w.mu.Unlock()
	metrics.GCQueueDepth.Set(float64(depth))

	w.processBatch(ctx, b)
	return true
}

// processBatch deletes every ref in the batch with bounded intra-batch
// concurrency. Individual failures never fail the batch.
func (w *Worker) processBatch(ctx context.Context, b Batch) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.BatchConcurrency)
	for _, ref := range b.Refs {
		ref := ref
		g.Go(func() error {
			w.deleteRef(ctx, b, ref)
			return nil
		})
	}
	_ = g.Wait()
}

// deleteRef deletes one blob with bounded retry and exponential
// backoff. A missing blob counts as success: deletion is idempotent.
func (w *Worker) deleteRef(ctx context.Context, b Batch, ref string) {
	var lastErr error
	backoff := w.cfg.RetryBackoff
	for attempt := 0; attempt < w.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			jitter := time.Duration(rand.Int63n(int64(backoff)/2 + 1))
			select {
			case <-ctx.Done():
				w.logger.Error("dropping blob ref, context canceled",
					"owner", b.Owner, "dataset", b.Dataset, "ref", ref, "error", lastErr)
				metrics.ObserveGCDelete("dropped")
				return
			case <-time.After(backoff + jitter):
			}
			backoff *= 2
		}

		err := w.store.Delete(ctx, ref)
		if err == nil || objectstore.IsNotFoundError(err) {
			metrics.ObserveGCDelete("success")
			return
		}
		lastErr = err
	}

	w.logger.Error("dropping blob ref after retries exhausted",
		"owner", b.Owner, "dataset", b.Dataset, "ref", ref, "error", lastErr)
	metrics.ObserveGCDelete("dropped")
}

// Drain synchronously processes everything currently queued. Test and
// shutdown helper; the request path never calls it.
func (w *Worker) Drain(ctx context.Context) {
	for w.processOne(ctx) {
	}
}

// QueueDepth returns the number of pending batches.
func (w *Worker) QueueDepth() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}
