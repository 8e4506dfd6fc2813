// Package ingest orchestrates the chart-data pipeline: uploads are
// decoded to flat records, transformed into the canonical category
// tree, merged with the dataset's existing data, truncated to the size
// budget, and committed through the tiered store in one per-dataset
// transaction. Reads go through the cache layer; blobs released by a
// committed write are handed to the deletion worker, never deleted in
// the request path.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/vizorhq/vizor/internal/cache"
	"github.com/vizorhq/vizor/internal/chartdata"
	"github.com/vizorhq/vizor/internal/chunk"
	"github.com/vizorhq/vizor/internal/dataset"
	"github.com/vizorhq/vizor/internal/gc"
	"github.com/vizorhq/vizor/internal/guardrails"
	"github.com/vizorhq/vizor/internal/logging"
	"github.com/vizorhq/vizor/internal/merge"
	"github.com/vizorhq/vizor/internal/metrics"
	"github.com/vizorhq/vizor/internal/repair"
	"github.com/vizorhq/vizor/internal/tabular"
	"github.com/vizorhq/vizor/internal/transform"
)

// TextGenerator produces free-form text for a prompt. Output is
// untrusted and always routed through the repair parser.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Deps are the service's collaborators. Datasets, Cache, Chunks, and
// GC are required; Decoders defaults to the built-in registry,
// Notifier to a no-op, Logger to a no-op logger. Generator may be nil
// when generated ingestion is unused.
type Deps struct {
	Datasets  *dataset.Manager
	Cache     *cache.Layer
	Chunks    *chunk.Assembler
	GC        *gc.Worker
	Decoders  *tabular.Registry
	Generator TextGenerator
	Notifier  Notifier
	Logger    *logging.Logger
}

// Options tunes per-service behavior.
type Options struct {
	// BudgetBytes is the dataset payload budget handed to the size
	// governor. Zero means the governor default.
	BudgetBytes int
	// Transform tunes the canonical transformer.
	Transform transform.Options
	// Priority orders categories before budget truncation. Nil keeps
	// input order.
	Priority guardrails.PriorityFunc
}

// Service is the pipeline front door. All writes to one dataset
// serialize on the record's compare-and-swap; everything before the
// commit runs on in-memory copies.
type Service struct {
	datasets  *dataset.Manager
	cache     *cache.Layer
	chunks    *chunk.Assembler
	gc        *gc.Worker
	decoders  *tabular.Registry
	generator TextGenerator
	notifier  Notifier
	logger    *logging.Logger

	governor  guardrails.Governor
	priority  guardrails.PriorityFunc
	transform transform.Options
	now       func() time.Time
}

// NewService wires the pipeline.
func NewService(deps Deps, opts Options) *Service {
	if deps.Decoders == nil {
		deps.Decoders = tabular.NewRegistry()
	}
	if deps.Notifier == nil {
		deps.Notifier = NopNotifier{}
	}
	if deps.Logger == nil {
		deps.Logger = logging.Nop()
	}
	return &Service{
		datasets:  deps.Datasets,
		cache:     deps.Cache,
		chunks:    deps.Chunks,
		gc:        deps.GC,
		decoders:  deps.Decoders,
		generator: deps.Generator,
		notifier:  deps.Notifier,
		logger:    deps.Logger,
		governor:  guardrails.Governor{BudgetBytes: opts.BudgetBytes},
		priority:  opts.Priority,
		transform: opts.Transform,
		now:       time.Now,
	}
}

// Result reports one committed (or skipped) ingestion.
type Result struct {
	// RecordsIn is how many flat records were offered to the
	// transformer.
	RecordsIn int
	// Categories, Series, Points count the dataset's committed payload.
	Categories int
	Series     int
	Points     int
	// Truncated names categories the size governor excluded.
	Truncated []string
	// Conflicts lists series whose value kinds disagreed during merge.
	Conflicts []merge.Conflict
	// NoData is true when the input produced no usable records and
	// nothing was written.
	NoData bool
	// Unchanged is true when the merged payload was byte-identical to
	// the stored one and the payload write was skipped.
	Unchanged bool
}

// FileMeta carries upload metadata for file-based ingestion.
type FileMeta struct {
	Origin    chartdata.FileOrigin
	Chunked   bool
	FolderRef string
	ExpiresAt *time.Time
	// StoredBlobID names an externally stored copy of the raw upload,
	// if the caller kept one. Released to the deletion worker when the
	// file is removed.
	StoredBlobID string
}

// ChunkProgress reports the state of a chunked upload after one chunk.
type ChunkProgress struct {
	Complete bool
	Received int
	Total    int
}

func validateIDs(owner, ds string) error {
	if err := chartdata.ValidateOwnerID(owner); err != nil {
		return fmt.Errorf("%w: owner: %v", ErrValidation, err)
	}
	if err := chartdata.ValidateDatasetID(ds); err != nil {
		return fmt.Errorf("%w: dataset: %v", ErrValidation, err)
	}
	return nil
}

// IngestRecords transforms flat records tagged with source and merges
// them into the dataset.
func (s *Service) IngestRecords(ctx context.Context, owner, ds, source string, records []map[string]any) (*Result, error) {
	res, err := s.ingest(ctx, owner, ds, source, "records", records, nil)
	return res, err
}

// IngestFile decodes an uploaded file and merges its records into the
// dataset, registering a file record for later per-file deletion.
func (s *Service) IngestFile(ctx context.Context, owner, ds, filename, declaredType string, data []byte, meta FileMeta) (*Result, error) {
	if err := validateIDs(owner, ds); err != nil {
		return nil, err
	}
	if filename == "" {
		return nil, fmt.Errorf("%w: filename must not be empty", ErrValidation)
	}

	decoder, err := s.decoders.DecoderFor(declaredType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	records, err := decoder.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filename, err)
	}

	if meta.Origin == "" {
		meta.Origin = chartdata.OriginLocal
	}
	// Reset on every merge attempt so a retried transaction reads the
	// record's current blob id, not a previous attempt's.
	var replacedBlob string
	res, err := s.ingest(ctx, owner, ds, filename, "file", records, func(rec *dataset.Record) {
		replacedBlob = s.upsertFile(rec, filename, meta)
	})
	if err != nil {
		return nil, err
	}
	if replacedBlob != "" {
		s.gc.Enqueue(gc.Batch{Owner: owner, Dataset: ds, Refs: []string{dataset.BlobKey(owner, ds, replacedBlob)}})
	}
	return res, nil
}

// IngestChunk buffers one chunk of an oversized upload. Until the
// upload completes it returns progress and a nil result; the final
// chunk triggers a normal file ingestion with the reassembled bytes.
func (s *Service) IngestChunk(ctx context.Context, owner, ds, filename, declaredType string, index, totalChunks int, data []byte) (ChunkProgress, *Result, error) {
	if err := validateIDs(owner, ds); err != nil {
		return ChunkProgress{}, nil, err
	}
	if filename == "" {
		return ChunkProgress{}, nil, fmt.Errorf("%w: filename must not be empty", ErrValidation)
	}

	key := owner + "/" + ds + "/" + filename
	cr, err := s.chunks.Put(key, index, totalChunks, data)
	if err != nil {
		return ChunkProgress{}, nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	progress := ChunkProgress{Complete: cr.Complete, Received: cr.Received, Total: cr.Total}
	if !cr.Complete {
		return progress, nil, nil
	}

	res, err := s.IngestFile(ctx, owner, ds, filename, declaredType, cr.Data, FileMeta{Chunked: true})
	return progress, res, err
}

// IngestGenerated asks the text generator for data, repairs whatever
// comes back, and merges the recovered records. Unrepairable output
// degrades to a NoData result, never an error.
func (s *Service) IngestGenerated(ctx context.Context, owner, ds, source, prompt string) (*Result, error) {
	if err := validateIDs(owner, ds); err != nil {
		return nil, err
	}
	if s.generator == nil {
		return nil, ErrNoGenerator
	}

	ctx, logger := logging.BeginOp(ctx, s.logger, "ingest_generated", owner, ds)
	text, err := s.generator.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}

	records := repair.Records(logger, text)
	if len(records) == 0 {
		logger.Warn("no data extracted from generated text", "text_bytes", len(text))
		return &Result{NoData: true}, nil
	}
	return s.ingest(ctx, owner, ds, source, "generated", records, nil)
}

// ingest is the shared transform-merge-govern-commit path. mutate, if
// non-nil, runs inside the transaction for file bookkeeping.
func (s *Service) ingest(ctx context.Context, owner, ds, source, kind string, records []map[string]any, mutate func(rec *dataset.Record)) (res *Result, err error) {
	start := s.now()
	defer func() {
		metrics.ObserveIngest(kind, s.now().Sub(start).Seconds(), err)
	}()

	if err = validateIDs(owner, ds); err != nil {
		return nil, err
	}
	ctx, logger := logging.BeginOp(ctx, s.logger, "ingest_"+kind, owner, ds)

	incoming := transform.Categories(logger, records, source, s.transform)
	if len(incoming) == 0 && mutate == nil {
		logger.Info("nothing to ingest", "records_in", len(records))
		return &Result{RecordsIn: len(records), NoData: true}, nil
	}

	res = &Result{RecordsIn: len(records), NoData: len(incoming) == 0}
	kept, err := s.commit(ctx, logger, owner, ds, true, func(rec *dataset.Record, existing []chartdata.Category) ([]chartdata.Category, error) {
		merged, conflicts := merge.Categories(logger, existing, incoming)
		res.Conflicts = conflicts
		if mutate != nil {
			mutate(rec)
		}
		return merged, nil
	}, res)
	if err != nil {
		return nil, err
	}

	res.Categories = len(kept)
	res.Series = chartdata.CountSeries(kept)
	res.Points = chartdata.CountPoints(kept)

	s.publish(ctx, owner, ds, Event{Type: EventDataUpdated, Filename: sourceFilename(kind, source), Categories: len(kept)})
	logger.Info("ingest committed",
		"records_in", res.RecordsIn, "categories", res.Categories,
		"series", res.Series, "points", res.Points,
		"conflicts", len(res.Conflicts), "truncated", res.Truncated,
		"unchanged", res.Unchanged)
	return res, nil
}

func sourceFilename(kind, source string) string {
	if kind == "file" {
		return source
	}
	return ""
}

// Categories returns the dataset's current category list, serving from
// cache when possible and repopulating on a miss. Corrupt stored data
// fails loudly after invalidating the cache entry.
func (s *Service) Categories(ctx context.Context, owner, ds string) ([]chartdata.Category, error) {
	if err := validateIDs(owner, ds); err != nil {
		return nil, err
	}
	if cats, ok := s.cache.GetCategories(ctx, owner, ds); ok {
		return cats, nil
	}

	loaded, err := s.datasets.Load(ctx, owner, ds)
	if err != nil {
		return nil, err
	}
	cats, err := s.datasets.ReadPayload(ctx, loaded.Record)
	if err != nil {
		if dataset.IsCorrupt(err) {
			s.cache.Delete(ctx, owner, ds)
		}
		return nil, err
	}
	s.cache.SetCategories(ctx, owner, ds, cats)
	return cats, nil
}

// DeleteFile removes every data point the named file contributed,
// prunes emptied series and categories, and drops the file record. The
// file's stored blob, if any, goes to the deletion worker.
func (s *Service) DeleteFile(ctx context.Context, owner, ds, filename string) (*Result, error) {
	if err := validateIDs(owner, ds); err != nil {
		return nil, err
	}
	ctx, logger := logging.BeginOp(ctx, s.logger, "delete_file", owner, ds)

	res := &Result{}
	var fileBlob string
	kept, err := s.commit(ctx, logger, owner, ds, true, func(rec *dataset.Record, existing []chartdata.Category) ([]chartdata.Category, error) {
		removed := rec.RemoveFile(filename)
		if removed == nil {
			return nil, fmt.Errorf("%w: %q", ErrFileNotFound, filename)
		}
		fileBlob = removed.StoredBlobID
		return chartdata.RemoveFileData(existing, filename), nil
	}, res)
	if err != nil {
		return nil, err
	}

	if fileBlob != "" {
		s.gc.Enqueue(gc.Batch{Owner: owner, Dataset: ds, Refs: []string{dataset.BlobKey(owner, ds, fileBlob)}})
	}

	res.Categories = len(kept)
	res.Series = chartdata.CountSeries(kept)
	res.Points = chartdata.CountPoints(kept)

	s.publish(ctx, owner, ds, Event{Type: EventFileRemoved, Filename: filename, Categories: len(kept)})
	logger.Info("file deleted", "filename", filename,
		"categories", res.Categories, "series", res.Series, "points", res.Points)
	return res, nil
}

// PutCombinedChart inserts or replaces a combined chart in the named
// category. Constituent ids must resolve; a bad reference rejects the
// chart instead of silently dropping the reference. An empty chart id
// gets a fresh one.
func (s *Service) PutCombinedChart(ctx context.Context, owner, ds, category string, chart chartdata.CombinedChart) (chartdata.CombinedChart, error) {
	if err := validateIDs(owner, ds); err != nil {
		return chartdata.CombinedChart{}, err
	}
	ctx, logger := logging.BeginOp(ctx, s.logger, "put_combined_chart", owner, ds)

	if chart.ID == "" {
		chart.ID = uuid.New().String()
	}

	_, err := s.commit(ctx, logger, owner, ds, false, func(_ *dataset.Record, existing []chartdata.Category) ([]chartdata.Category, error) {
		cats := chartdata.CloneCategories(existing)
		cat := findCategory(cats, category)
		if cat == nil {
			return nil, fmt.Errorf("%w: %q", ErrCategoryNotFound, category)
		}
		if err := chartdata.ValidateCombinedRefs(cat, chart); err != nil {
			if errors.Is(err, chartdata.ErrUnknownSeries) {
				return nil, fmt.Errorf("%w: %v", ErrConstituentNotFound, err)
			}
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}

		chart.Points = chartdata.FlattenSeriesPoints(cat, chart.SeriesIDs)
		if cur := cat.FindCombined(chart.ID); cur != nil {
			*cur = chart
		} else {
			cat.Combined = append(cat.Combined, chart)
		}
		return cats, nil
	}, &Result{})
	if err != nil {
		return chartdata.CombinedChart{}, err
	}

	logger.Info("combined chart stored", "category", category, "chart_id", chart.ID, "series", chart.SeriesIDs)
	return chart, nil
}

// SetAppliedChartType records the chart type applied to a category.
func (s *Service) SetAppliedChartType(ctx context.Context, owner, ds, category, chartType string) error {
	if err := validateIDs(owner, ds); err != nil {
		return err
	}
	if chartType == "" {
		return fmt.Errorf("%w: chart type must not be empty", ErrValidation)
	}
	ctx, logger := logging.BeginOp(ctx, s.logger, "set_chart_type", owner, ds)

	_, err := s.commit(ctx, logger, owner, ds, false, func(_ *dataset.Record, existing []chartdata.Category) ([]chartdata.Category, error) {
		cats := chartdata.CloneCategories(existing)
		cat := findCategory(cats, category)
		if cat == nil {
			return nil, fmt.Errorf("%w: %q", ErrCategoryNotFound, category)
		}
		cat.AppliedChartType = chartType
		return cats, nil
	}, &Result{})
	return err
}

// SetSelectedSeries replaces a category's selected-series set. Every
// id must resolve to an existing series.
func (s *Service) SetSelectedSeries(ctx context.Context, owner, ds, category string, ids []string) error {
	if err := validateIDs(owner, ds); err != nil {
		return err
	}
	ctx, logger := logging.BeginOp(ctx, s.logger, "set_selected_series", owner, ds)

	_, err := s.commit(ctx, logger, owner, ds, false, func(_ *dataset.Record, existing []chartdata.Category) ([]chartdata.Category, error) {
		cats := chartdata.CloneCategories(existing)
		cat := findCategory(cats, category)
		if cat == nil {
			return nil, fmt.Errorf("%w: %q", ErrCategoryNotFound, category)
		}
		selected := make([]string, 0, len(ids))
		seen := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			if cat.FindSeries(id) == nil {
				return nil, fmt.Errorf("%w: %q", ErrConstituentNotFound, id)
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			selected = append(selected, id)
		}
		sort.Strings(selected)
		if len(selected) == 0 {
			selected = nil
		}
		cat.SelectedSeriesIDs = selected
		return cats, nil
	}, &Result{})
	return err
}

// errNothingExpired aborts the expiry transaction when no file needed
// flipping, so a scan of an untouched dataset writes nothing.
var errNothingExpired = errors.New("nothing expired")

// ExpireCloudFiles flips monitoring to expired for cloud-synced files
// whose expiry has passed, returning how many were flipped.
func (s *Service) ExpireCloudFiles(ctx context.Context, owner, ds string, now time.Time) (int, error) {
	if err := validateIDs(owner, ds); err != nil {
		return 0, err
	}
	ctx, logger := logging.BeginOp(ctx, s.logger, "expire_cloud_files", owner, ds)

	expired := 0
	_, err := s.datasets.Update(ctx, owner, ds, func(rec *dataset.Record) error {
		expired = 0
		for i := range rec.Files {
			f := &rec.Files[i]
			if f.Origin != chartdata.OriginCloud || f.Monitoring != chartdata.MonitorActive {
				continue
			}
			if f.ExpiresAt == nil || f.ExpiresAt.After(now) {
				continue
			}
			f.Monitoring = chartdata.MonitorExpired
			expired++
		}
		if expired == 0 {
			return errNothingExpired
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errNothingExpired) {
			return 0, nil
		}
		return 0, err
	}
	logger.Info("cloud files expired", "count", expired)
	return expired, nil
}

// DeleteDataset tombstones the dataset and hands all its external
// blobs to the deletion worker.
func (s *Service) DeleteDataset(ctx context.Context, owner, ds string) error {
	if err := validateIDs(owner, ds); err != nil {
		return err
	}
	ctx, logger := logging.BeginOp(ctx, s.logger, "delete_dataset", owner, ds)

	refs, err := s.datasets.Delete(ctx, owner, ds)
	if err != nil {
		return err
	}
	s.gc.Enqueue(gc.Batch{Owner: owner, Dataset: ds, Refs: refs})
	s.cache.Delete(ctx, owner, ds)
	s.publish(ctx, owner, ds, Event{Type: EventDatasetDeleted})
	logger.Info("dataset deleted", "released_blobs", len(refs))
	return nil
}

// buildFunc produces the next category list from the current one. It
// runs inside the transaction, once per compare-and-swap attempt, on
// fresh copies.
type buildFunc func(rec *dataset.Record, existing []chartdata.Category) ([]chartdata.Category, error)

// commit is the per-dataset transaction: load the record and its
// payload, build the next category list, enforce the size budget,
// store the payload, and swap the record in. Blobs written by losing
// attempts and the replaced payload blob go to the deletion worker
// only after the swap lands; a failed transaction enqueues everything
// it wrote and commits nothing.
func (s *Service) commit(ctx context.Context, logger *logging.Logger, owner, ds string, govern bool, build buildFunc, res *Result) ([]chartdata.Category, error) {
	var (
		kept        []chartdata.Category
		writtenRefs []string
		liveRef     string
		oldRefs     []string
	)

	_, err := s.datasets.Update(ctx, owner, ds, func(rec *dataset.Record) error {
		liveRef = ""
		oldRefs = nil
		res.Truncated = nil
		res.Unchanged = false

		existing, err := s.datasets.ReadPayload(ctx, rec)
		if err != nil {
			if dataset.IsCorrupt(err) {
				s.cache.Delete(ctx, owner, ds)
			}
			return err
		}

		next, err := build(rec, existing)
		if err != nil {
			return err
		}

		if govern {
			gr, err := s.governor.Apply(logger, next, s.priority)
			if err != nil {
				return err
			}
			if len(gr.Kept) == 0 && len(next) > 0 {
				return fmt.Errorf("%w: no category fits the %d byte budget", ErrSizeExceeded, s.budget())
			}
			res.Truncated = gr.Excluded
			next = gr.Kept
		} else {
			size, err := guardrails.SerializedSize(next)
			if err != nil {
				return err
			}
			if size > s.budget() {
				return fmt.Errorf("%w: payload is %d bytes, budget %d", ErrSizeExceeded, size, s.budget())
			}
		}

		encoded, err := dataset.EncodePayload(next)
		if err != nil {
			return err
		}
		if xxhash.Sum64(encoded) == rec.PayloadHash && rec.PayloadHash != 0 {
			// Byte-identical payload, keep the current tier untouched.
			res.Unchanged = true
			kept = next
			return nil
		}

		stored, err := s.datasets.StorePayload(ctx, owner, ds, next)
		if err != nil {
			return err
		}
		if stored.Tier == "external" {
			ref := dataset.BlobKey(owner, ds, stored.BlobID)
			writtenRefs = append(writtenRefs, ref)
			liveRef = ref
		}
		if rec.DataRef.External() {
			oldRefs = append(oldRefs, dataset.BlobKey(owner, ds, rec.DataRef.BlobID))
		}
		stored.Apply(rec)
		kept = next
		return nil
	})

	// Everything written but not committed is garbage, as is the
	// payload blob the committed record no longer points at.
	var release []string
	for _, ref := range writtenRefs {
		if err != nil || ref != liveRef {
			release = append(release, ref)
		}
	}
	if err == nil {
		release = append(release, oldRefs...)
	}
	if len(release) > 0 {
		s.gc.Enqueue(gc.Batch{Owner: owner, Dataset: ds, Refs: release})
	}
	if err != nil {
		return nil, err
	}

	s.cache.SetCategories(ctx, owner, ds, kept)
	return kept, nil
}

func (s *Service) budget() int {
	if s.governor.BudgetBytes > 0 {
		return s.governor.BudgetBytes
	}
	return guardrails.DefaultBudgetBytes
}

func (s *Service) publish(ctx context.Context, owner, ds string, ev Event) {
	if err := s.notifier.Publish(ctx, owner, ds, ev); err != nil {
		s.logger.Warn("event publish failed", "owner", owner, "dataset", ds, "event", ev.Type, "error", err)
	}
}

// upsertFile registers or refreshes the file record for filename and
// returns the stored-blob id the update displaced, if any, so the
// caller can release it once the record commits.
func (s *Service) upsertFile(rec *dataset.Record, filename string, meta FileMeta) (replacedBlobID string) {
	monitoring := chartdata.MonitorState("")
	if meta.Origin == chartdata.OriginCloud {
		monitoring = chartdata.MonitorActive
	}
	if f := rec.FindFile(filename); f != nil {
		if f.StoredBlobID != "" && f.StoredBlobID != meta.StoredBlobID {
			replacedBlobID = f.StoredBlobID
		}
		f.Origin = meta.Origin
		f.Chunked = meta.Chunked
		f.FolderRef = meta.FolderRef
		f.ExpiresAt = meta.ExpiresAt
		f.StoredBlobID = meta.StoredBlobID
		f.Monitoring = monitoring
		f.UploadedAt = s.now().UTC()
		return replacedBlobID
	}
	rec.Files = append(rec.Files, chartdata.FileRecord{
		FileID:       uuid.New().String(),
		Filename:     filename,
		Origin:       meta.Origin,
		Chunked:      meta.Chunked,
		Monitoring:   monitoring,
		FolderRef:    meta.FolderRef,
		ExpiresAt:    meta.ExpiresAt,
		StoredBlobID: meta.StoredBlobID,
		UploadedAt:   s.now().UTC(),
	})
	return ""
}

func findCategory(cats []chartdata.Category, name string) *chartdata.Category {
	for i := range cats {
		if cats[i].Name == name {
			return &cats[i]
		}
	}
	return nil
}
