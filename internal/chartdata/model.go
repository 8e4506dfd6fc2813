// Package chartdata defines the canonical chart data model: a Dataset
// owns Categories, a Category groups ChartSeries, and a ChartSeries is
// an ordered list of DataPoints. Uploads from any source are converted
// into this shape before they are merged and persisted.
package chartdata

import "time"

// Chart type labels understood by the rendering side.
const (
	ChartTypeBar   = "bar"
	ChartTypeLine  = "line"
	ChartTypePie   = "pie"
	ChartTypeDonut = "donut"
	ChartTypeArea  = "area"
)

// FileOrigin distinguishes direct uploads from cloud-synced files.
type FileOrigin string

const (
	OriginLocal FileOrigin = "local"
	OriginCloud FileOrigin = "cloud"
)

// MonitorState tracks whether a cloud-synced file is still watched for
// changes.
type MonitorState string

const (
	MonitorActive  MonitorState = "active"
	MonitorExpired MonitorState = "expired"
)

// Category is a named grouping of chart series. Name is the merge key
// within a dataset.
type Category struct {
	Name              string          `json:"name"`
	Series            []ChartSeries   `json:"series"`
	Combined          []CombinedChart `json:"combined_charts,omitempty"`
	Summary           []DataPoint     `json:"summary,omitempty"`
	AppliedChartType  string          `json:"applied_chart_type,omitempty"`
	SelectedSeriesIDs []string        `json:"selected_series_ids,omitempty"`
}

// ChartSeries is one metric's points within a category. ID is derived
// from the (category, title) pair and is stable across uploads.
type ChartSeries struct {
	ID     string      `json:"id"`
	Title  string      `json:"title"`
	Points []DataPoint `json:"points"`
}

// DataPoint is a single titled value. Value is a number or a string;
// the type is not fixed per series.
type DataPoint struct {
	Title      string `json:"title"`
	Value      any    `json:"value"`
	Date       Date   `json:"date"`
	SourceFile string `json:"source_file,omitempty"`
}

// CombinedChart aggregates two or more series of the same category into
// one rendered chart. Points is the flattened union of the constituent
// series' points and is recomputed whenever constituents change.
type CombinedChart struct {
	ID        string      `json:"id"`
	SeriesIDs []string    `json:"series_ids"`
	ChartType string      `json:"chart_type,omitempty"`
	Points    []DataPoint `json:"points,omitempty"`
}

// FileRecord tracks one upload attached to a dataset. Filename is
// unique among a dataset's active files.
type FileRecord struct {
	FileID       string       `json:"file_id"`
	Filename     string       `json:"filename"`
	Origin       FileOrigin   `json:"origin"`
	Chunked      bool         `json:"chunked,omitempty"`
	Monitoring   MonitorState `json:"monitoring,omitempty"`
	ExpiresAt    *time.Time   `json:"expires_at,omitempty"`
	FolderRef    string       `json:"folder_ref,omitempty"`
	StoredBlobID string       `json:"stored_blob_id,omitempty"`
	UploadedAt   time.Time    `json:"uploaded_at"`
}

// Clone returns a deep copy.
func (c Category) Clone() Category {
	out := c
	out.Series = cloneSeriesList(c.Series)
	out.Combined = cloneCombinedList(c.Combined)
	out.Summary = clonePoints(c.Summary)
	out.SelectedSeriesIDs = cloneStrings(c.SelectedSeriesIDs)
	return out
}

// Clone returns a deep copy.
func (s ChartSeries) Clone() ChartSeries {
	out := s
	out.Points = clonePoints(s.Points)
	return out
}

// Clone returns a deep copy.
func (cc CombinedChart) Clone() CombinedChart {
	out := cc
	out.SeriesIDs = cloneStrings(cc.SeriesIDs)
	out.Points = clonePoints(cc.Points)
	return out
}

// CloneCategories deep-copies a category list. Point values are only
// ever numbers or strings, so sharing them is safe.
func CloneCategories(cats []Category) []Category {
	if cats == nil {
		return nil
	}
	out := make([]Category, len(cats))
	for i, c := range cats {
		out[i] = c.Clone()
	}
	return out
}

// FindSeries returns a pointer to the series with the given id, or nil.
func (c *Category) FindSeries(id string) *ChartSeries {
	for i := range c.Series {
		if c.Series[i].ID == id {
			return &c.Series[i]
		}
	}
	return nil
}

// FindCombined returns a pointer to the combined chart with the given
// id, or nil.
func (c *Category) FindCombined(id string) *CombinedChart {
	for i := range c.Combined {
		if c.Combined[i].ID == id {
			return &c.Combined[i]
		}
	}
	return nil
}

// CountPoints returns the total number of series points across all
// categories. Summary and combined points are not counted; they are
// derived or auxiliary.
func CountPoints(cats []Category) int {
	n := 0
	for i := range cats {
		for j := range cats[i].Series {
			n += len(cats[i].Series[j].Points)
		}
	}
	return n
}

// CountSeries returns the total number of series across all categories.
func CountSeries(cats []Category) int {
	n := 0
	for i := range cats {
		n += len(cats[i].Series)
	}
	return n
}

func clonePoints(points []DataPoint) []DataPoint {
	if points == nil {
		return nil
	}
	out := make([]DataPoint, len(points))
	copy(out, points)
	return out
}

func cloneStrings(ss []string) []string {
	if ss == nil {
		return nil
	}
	out := make([]string, len(ss))
	copy(out, ss)
	return out
}

func cloneSeriesList(series []ChartSeries) []ChartSeries {
	if series == nil {
		return nil
	}
	out := make([]ChartSeries, len(series))
	for i, s := range series {
		out[i] = s.Clone()
	}
	return out
}

func cloneCombinedList(combined []CombinedChart) []CombinedChart {
	if combined == nil {
		return nil
	}
	out := make([]CombinedChart, len(combined))
	for i, cc := range combined {
		out[i] = cc.Clone()
	}
	return out
}
