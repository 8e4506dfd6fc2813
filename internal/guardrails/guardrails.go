// Package guardrails enforces the byte budgets of the ingestion
// pipeline. The central piece is the size governor, which truncates a
// category list so its serialized form never exceeds the configured
// dataset budget. The package also carries the other limits built from
// config so callers share one source of truth for sizes.
package guardrails

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/vizorhq/vizor/internal/chartdata"
	"github.com/vizorhq/vizor/internal/config"
	"github.com/vizorhq/vizor/internal/logging"
	"github.com/vizorhq/vizor/internal/metrics"
)

// DefaultBudgetBytes is the dataset payload budget when none is
// configured.
const DefaultBudgetBytes = 8 * 1024 * 1024

// Limits aggregates the pipeline's byte budgets and retry bounds.
type Limits struct {
	DatasetBudgetBytes   int
	InlineThresholdBytes int
	CacheMaxEntryBytes   int
	CacheWarnEntryBytes  int
	MaxChunkBytes        int
	MaxAssembledBytes    int
	CASAttempts          int
	BlobWriteAttempts    int
}

// FromConfig builds Limits with all defaults applied.
func FromConfig(cfg *config.Config) Limits {
	return Limits{
		DatasetBudgetBytes:   cfg.Limits.GetDatasetBudgetBytes(),
		InlineThresholdBytes: cfg.Limits.GetInlineThresholdBytes(),
		CacheMaxEntryBytes:   cfg.Cache.GetMaxEntryBytes(),
		CacheWarnEntryBytes:  cfg.Cache.GetWarnEntryBytes(),
		MaxChunkBytes:        cfg.Chunks.GetMaxChunkBytes(),
		MaxAssembledBytes:    cfg.Chunks.GetMaxAssembledBytes(),
		CASAttempts:          cfg.Limits.GetCASAttempts(),
		BlobWriteAttempts:    cfg.Limits.GetBlobWriteAttempts(),
	}
}

// Governor truncates category lists to a serialized byte budget.
type Governor struct {
	// BudgetBytes is the hard ceiling for the serialized JSON array.
	// Zero or negative means DefaultBudgetBytes.
	BudgetBytes int
}

// PriorityFunc orders categories before truncation. It reports whether
// a should be kept in preference to b.
type PriorityFunc func(a, b chartdata.Category) bool

// Result describes one governor pass.
type Result struct {
	// Kept is the accepted prefix. Its serialized size is <= budget.
	Kept []chartdata.Category
	// Excluded names the categories that did not fit, in the order
	// they were rejected.
	Excluded []string
	// KeptBytes is the exact serialized size of Kept as a JSON array.
	KeptBytes int
}

// Truncated reports whether any category was excluded.
func (r Result) Truncated() bool {
	return len(r.Excluded) > 0
}

// Apply returns the maximal prefix of cats whose serialized size fits
// the budget. Order is preserved unless priority is non-nil, in which
// case cats is stably sorted by it first. Once one category does not
// fit, it and everything after it is excluded, keeping the result a
// prefix of the (possibly re-prioritized) input.
func (g Governor) Apply(logger *logging.Logger, cats []chartdata.Category, priority PriorityFunc) (Result, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	budget := g.BudgetBytes
	if budget <= 0 {
		budget = DefaultBudgetBytes
	}

	if priority != nil {
		cats = chartdata.CloneCategories(cats)
		stableSort(cats, priority)
	}

	// A JSON array costs 2 bytes of brackets plus one comma between
	// every pair of elements.
	total := 2
	res := Result{}
	cut := false
	for i := range cats {
		if cut {
			res.Excluded = append(res.Excluded, cats[i].Name)
			continue
		}
		data, err := json.Marshal(&cats[i])
		if err != nil {
			return Result{}, fmt.Errorf("marshal category %q: %w", cats[i].Name, err)
		}
		next := total + len(data)
		if len(res.Kept) > 0 {
			next++ // comma
		}
		if next > budget {
			cut = true
			res.Excluded = append(res.Excluded, cats[i].Name)
			continue
		}
		total = next
		res.Kept = append(res.Kept, cats[i])
	}
	res.KeptBytes = total

	if res.Truncated() {
		logger.Warn("size governor excluded categories",
			"budget_bytes", budget, "kept", len(res.Kept),
			"kept_bytes", res.KeptBytes, "excluded", res.Excluded)
		metrics.AddGovernorExclusions(len(res.Excluded))
	}
	return res, nil
}

func stableSort(cats []chartdata.Category, less PriorityFunc) {
	sort.SliceStable(cats, func(i, j int) bool {
		return less(cats[i], cats[j])
	})
}

// SerializedSize returns the exact byte size of the category list as a
// JSON array.
func SerializedSize(cats []chartdata.Category) (int, error) {
	data, err := json.Marshal(cats)
	if err != nil {
		return 0, err
	}
	return len(data), nil
}
