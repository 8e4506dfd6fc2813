// Package merge folds freshly transformed categories into a dataset's
// existing categories. The operation is pure: inputs are never
// mutated, and applying the same incoming data twice produces the same
// result as applying it once, because series with matching ids replace
// their point lists instead of appending.
package merge

import (
	"sort"

	"github.com/vizorhq/vizor/internal/chartdata"
	"github.com/vizorhq/vizor/internal/logging"
	"github.com/vizorhq/vizor/internal/metrics"
)

// Conflict records a series merge that could not replace because the
// existing and incoming value kinds differ. The incoming points were
// appended instead, never discarded.
type Conflict struct {
	Category     string
	SeriesID     string
	ExistingKind chartdata.ValueKind
	IncomingKind chartdata.ValueKind
}

// Categories merges incoming into existing and returns the result plus
// any type conflicts encountered. Categories match by name, series by
// derived id, combined charts by id.
func Categories(logger *logging.Logger, existing, incoming []chartdata.Category) ([]chartdata.Category, []Conflict) {
	if logger == nil {
		logger = logging.Nop()
	}
	if len(incoming) == 0 {
		return chartdata.CloneCategories(existing), nil
	}

	out := chartdata.CloneCategories(existing)
	index := make(map[string]int, len(out))
	for i := range out {
		index[out[i].Name] = i
	}

	var conflicts []Conflict
	for i := range incoming {
		inc := &incoming[i]
		ci, ok := index[inc.Name]
		if !ok {
			// New category: insert wholesale, but only if it actually
			// carries data.
			if len(inc.Series) == 0 {
				logger.Warn("dropping incoming category with no series", "category", inc.Name)
				continue
			}
			out = append(out, inc.Clone())
			index[inc.Name] = len(out) - 1
			continue
		}
		conflicts = mergeCategory(logger, &out[ci], inc, conflicts)
	}

	metrics.AddMergeConflicts(len(conflicts))
	return out, conflicts
}

func mergeCategory(logger *logging.Logger, dst *chartdata.Category, inc *chartdata.Category, conflicts []Conflict) []Conflict {
	for _, s := range inc.Series {
		existing := dst.FindSeries(s.ID)
		if existing == nil {
			dst.Series = append(dst.Series, s.Clone())
			continue
		}

		existingKind := chartdata.SeriesKind(*existing)
		incomingKind := chartdata.SeriesKind(s)
		if existingKind != chartdata.KindEmpty && incomingKind != chartdata.KindEmpty && existingKind != incomingKind {
			// Type mismatch: append rather than replace so no upload
			// data is silently lost.
			logger.Warn("series value kind mismatch, appending points",
				"category", dst.Name, "series", s.ID,
				"existing_kind", existingKind.String(), "incoming_kind", incomingKind.String())
			existing.Points = append(existing.Points, clonePoints(s.Points)...)
			conflicts = append(conflicts, Conflict{
				Category:     dst.Name,
				SeriesID:     s.ID,
				ExistingKind: existingKind,
				IncomingKind: incomingKind,
			})
			continue
		}

		existing.Points = clonePoints(s.Points)
		if s.Title != "" {
			existing.Title = s.Title
		}
	}

	for _, cc := range inc.Combined {
		if existing := dst.FindCombined(cc.ID); existing != nil {
			existing.SeriesIDs = append([]string(nil), cc.SeriesIDs...)
			existing.ChartType = cc.ChartType
			existing.Points = clonePoints(cc.Points)
		} else {
			dst.Combined = append(dst.Combined, cc.Clone())
		}
	}

	if len(inc.Summary) > 0 {
		dst.Summary = append(dst.Summary, clonePoints(inc.Summary)...)
	}
	if inc.AppliedChartType != "" {
		dst.AppliedChartType = inc.AppliedChartType
	}
	dst.SelectedSeriesIDs = unionSorted(dst.SelectedSeriesIDs, inc.SelectedSeriesIDs)

	return conflicts
}

func clonePoints(points []chartdata.DataPoint) []chartdata.DataPoint {
	if points == nil {
		return nil
	}
	out := make([]chartdata.DataPoint, len(points))
	copy(out, points)
	return out
}

func unionSorted(a, b []string) []string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(a)+len(b))
	for _, s := range a {
		seen[s] = struct{}{}
	}
	for _, s := range b {
		seen[s] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
