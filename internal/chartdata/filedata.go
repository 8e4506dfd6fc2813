package chartdata

// RemoveFileData returns a copy of cats with every data point whose
// SourceFile matches filename removed. Series left with zero points
// are pruned, categories left with zero series are dropped, combined
// charts are recomputed against the surviving series, and selected-id
// sets lose ids that no longer resolve. Data from other files is
// untouched.
func RemoveFileData(cats []Category, filename string) []Category {
	out := make([]Category, 0, len(cats))
	for i := range cats {
		c := cats[i].Clone()

		series := c.Series[:0]
		for _, s := range c.Series {
			points := make([]DataPoint, 0, len(s.Points))
			for _, p := range s.Points {
				if p.SourceFile != filename {
					points = append(points, p)
				}
			}
			if len(points) > 0 {
				s.Points = points
				series = append(series, s)
			}
		}
		c.Series = series
		if len(c.Series) == 0 {
			continue
		}

		c.Summary = filterPointsBySource(c.Summary, filename)
		RecomputeCombined(&c)
		c.SelectedSeriesIDs = retainResolvable(&c, c.SelectedSeriesIDs)
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// RecomputeCombined rebuilds every combined chart in the category:
// constituent ids that no longer resolve are removed and the
// aggregated point list is re-flattened from the survivors. Charts
// left with fewer than two constituents are dropped since they no
// longer combine anything.
func RecomputeCombined(c *Category) {
	combined := c.Combined[:0]
	for _, cc := range c.Combined {
		ids := make([]string, 0, len(cc.SeriesIDs))
		for _, id := range cc.SeriesIDs {
			if c.FindSeries(id) != nil {
				ids = append(ids, id)
			}
		}
		if len(ids) < 2 {
			continue
		}
		cc.SeriesIDs = ids
		cc.Points = FlattenSeriesPoints(c, ids)
		combined = append(combined, cc)
	}
	c.Combined = combined
	if len(c.Combined) == 0 {
		c.Combined = nil
	}
}

// FlattenSeriesPoints returns the union of the named series' points in
// series order. The caller owns the returned slice.
func FlattenSeriesPoints(c *Category, seriesIDs []string) []DataPoint {
	var out []DataPoint
	for _, id := range seriesIDs {
		if s := c.FindSeries(id); s != nil {
			out = append(out, s.Points...)
		}
	}
	return out
}

// SourceFiles returns the distinct source filenames tagged on any
// series point across the categories.
func SourceFiles(cats []Category) []string {
	seen := make(map[string]struct{})
	var out []string
	for i := range cats {
		for j := range cats[i].Series {
			for _, p := range cats[i].Series[j].Points {
				if p.SourceFile == "" {
					continue
				}
				if _, ok := seen[p.SourceFile]; !ok {
					seen[p.SourceFile] = struct{}{}
					out = append(out, p.SourceFile)
				}
			}
		}
	}
	return out
}

func filterPointsBySource(points []DataPoint, filename string) []DataPoint {
	if len(points) == 0 {
		return points
	}
	out := points[:0]
	for _, p := range points {
		if p.SourceFile != filename {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func retainResolvable(c *Category, ids []string) []string {
	if len(ids) == 0 {
		return ids
	}
	out := ids[:0]
	for _, id := range ids {
		if c.FindSeries(id) != nil {
			out = append(out, id)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
