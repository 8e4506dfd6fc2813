// Package transform converts flat upload records into the canonical
// Category -> ChartSeries -> DataPoint tree. It infers which column
// names the category, which values carry the calendar date, and
// coerces numeric-looking strings to numbers. Transformation never
// fails; unusable records are skipped with a log.
package transform

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vizorhq/vizor/internal/chartdata"
	"github.com/vizorhq/vizor/internal/logging"
	"github.com/vizorhq/vizor/internal/metrics"
)

// DefaultBatchSize bounds how many records are processed per group to
// keep peak memory flat on large uploads.
const DefaultBatchSize = 1000

// preferredCategoryColumns are tried first when picking the
// categorical column, in order.
var preferredCategoryColumns = []string{
	"Notes", "Description", "Comments", "Name", "Label", "Category",
}

// Options tunes a transform call. The zero value is usable.
type Options struct {
	// FallbackDate is stamped on points whose record carries no
	// detectable date. Empty means today, computed once per call.
	FallbackDate chartdata.Date

	// BatchSize overrides DefaultBatchSize when positive.
	BatchSize int

	// PreferredCategoryColumns overrides the default preference list.
	PreferredCategoryColumns []string
}

// Categories converts records into categories, tagging every produced
// point with sourceFile. Unusable input yields an empty list, never an
// error.
func Categories(logger *logging.Logger, records []map[string]any, sourceFile string, opts Options) []chartdata.Category {
	if logger == nil {
		logger = logging.Nop()
	}
	if len(records) == 0 {
		return nil
	}

	fallback := opts.FallbackDate
	if fallback.IsZero() {
		fallback = chartdata.Today()
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	preferred := opts.PreferredCategoryColumns
	if preferred == nil {
		preferred = preferredCategoryColumns
	}

	columns := columnOrder(records, preferred)
	catCol := categoricalColumn(records, columns)

	b := &builder{
		logger:     logger,
		sourceFile: sourceFile,
		fallback:   fallback,
		columns:    columns,
		catCol:     catCol,
	}
	for start := 0; start < len(records); start += batchSize {
		end := start + batchSize
		if end > len(records) {
			end = len(records)
		}
		for _, record := range records[start:end] {
			b.addRecord(record)
		}
	}

	metrics.AddTransformedRecords(len(records) - b.skipped)
	metrics.AddSkippedRecords(b.skipped)
	return b.categories
}

type builder struct {
	logger     *logging.Logger
	sourceFile string
	fallback   chartdata.Date
	columns    []string
	catCol     string

	categories []chartdata.Category
	index      map[string]int // category name -> index
	skipped    int
}

func (b *builder) addRecord(record map[string]any) {
	if len(record) == 0 {
		b.logger.Warn("skipping empty record", "source_file", b.sourceFile)
		b.skipped++
		return
	}

	catName, catCol := b.categoryName(record)
	if catName == "" {
		b.logger.Warn("skipping record with no usable category value", "source_file", b.sourceFile)
		b.skipped++
		return
	}

	date, dateCols := recordDate(record, b.columns)
	if date.IsZero() {
		date = b.fallback
	}

	produced := 0
	for _, col := range b.columns {
		if col == catCol {
			continue
		}
		if _, isDate := dateCols[col]; isDate {
			continue
		}
		raw, ok := record[col]
		if !ok {
			continue
		}
		value := cleanValue(raw)
		if value == nil {
			continue
		}
		b.addPoint(catName, col, chartdata.DataPoint{
			Title:      col,
			Value:      value,
			Date:       date,
			SourceFile: b.sourceFile,
		})
		produced++
	}

	if produced == 0 {
		b.logger.Warn("skipping record that yields no series",
			"source_file", b.sourceFile, "category", catName)
		b.skipped++
	}
}

// categoryName resolves the record's category and which column
// supplied it, so that column is excluded from series production.
func (b *builder) categoryName(record map[string]any) (string, string) {
	if b.catCol != "" {
		if s, ok := record[b.catCol].(string); ok {
			return strings.TrimSpace(s), b.catCol
		}
	}
	// No categorical column inferred: fall back to the first column's
	// raw value, stringified.
	for _, col := range b.columns {
		if v, ok := record[col]; ok && v != nil {
			return strings.TrimSpace(stringify(v)), col
		}
	}
	return "", ""
}

func (b *builder) addPoint(catName, col string, point chartdata.DataPoint) {
	if b.index == nil {
		b.index = make(map[string]int)
	}
	ci, ok := b.index[catName]
	if !ok {
		b.categories = append(b.categories, chartdata.Category{Name: catName})
		ci = len(b.categories) - 1
		b.index[catName] = ci
	}
	cat := &b.categories[ci]

	id := chartdata.SeriesID(catName, col)
	if s := cat.FindSeries(id); s != nil {
		s.Points = append(s.Points, point)
		return
	}
	cat.Series = append(cat.Series, chartdata.ChartSeries{
		ID:     id,
		Title:  col,
		Points: []chartdata.DataPoint{point},
	})
}

// columnOrder builds a deterministic column ordering: preferred
// category columns first (when present anywhere), then the remaining
// keys sorted. Flat records arrive as maps, so the upload's own column
// order is not recoverable here.
func columnOrder(records []map[string]any, preferred []string) []string {
	seen := make(map[string]struct{})
	for _, r := range records {
		for k := range r {
			seen[k] = struct{}{}
		}
	}

	var out []string
	for _, p := range preferred {
		if _, ok := seen[p]; ok {
			out = append(out, p)
			delete(seen, p)
		}
	}
	rest := make([]string, 0, len(seen))
	for k := range seen {
		rest = append(rest, k)
	}
	sort.Strings(rest)
	return append(out, rest...)
}

// categoricalColumn picks the first column whose value in every record
// is a non-empty string that is neither numeric-shaped nor
// date-shaped. Empty return means no such column exists.
func categoricalColumn(records []map[string]any, columns []string) string {
	for _, col := range columns {
		ok := true
		for _, r := range records {
			s, isStr := r[col].(string)
			if !isStr {
				ok = false
				break
			}
			s = strings.TrimSpace(s)
			if s == "" || isNumericShaped(s) || isDateShaped(s) {
				ok = false
				break
			}
		}
		if ok {
			return col
		}
	}
	return ""
}

// recordDate finds date-shaped values in the record. Every column
// that held one is excluded from series production; the first parsed
// date wins.
func recordDate(record map[string]any, columns []string) (chartdata.Date, map[string]struct{}) {
	var date chartdata.Date
	dateCols := make(map[string]struct{})
	for _, col := range columns {
		s, ok := record[col].(string)
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		if d, ok := parseDateValue(s); ok {
			dateCols[col] = struct{}{}
			if date.IsZero() {
				date = d
			}
		}
	}
	return date, dateCols
}

// cleanValue normalizes a raw cell: numbers pass through as float64,
// numeric-looking strings are coerced via leading-numeric-substring
// extraction, everything else is trimmed and kept as a string. Nil
// means the cell is unusable.
func cleanValue(raw any) any {
	switch v := raw.(type) {
	case nil:
		return nil
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case bool:
		return fmt.Sprintf("%t", v)
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return nil
		}
		if n, ok := leadingNumber(s); ok {
			return n
		}
		return s
	default:
		return stringify(v)
	}
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if f, ok := v.(float64); ok {
		return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", f), "0"), ".")
	}
	return fmt.Sprintf("%v", v)
}
