package chartdata

import (
	"errors"
	"fmt"
	"regexp"
)

const MaxIDLength = 128

var validIDPattern = regexp.MustCompile(`^[A-Za-z0-9\-_.]+$`)

var (
	ErrEmptyOwnerID      = errors.New("owner id must not be empty")
	ErrEmptyDatasetID    = errors.New("dataset id must not be empty")
	ErrIDTooLong         = errors.New("id exceeds maximum length")
	ErrInvalidCharacters = errors.New("id contains invalid characters")

	ErrMalformedCategory = errors.New("malformed category")
	ErrUnknownSeries     = errors.New("unknown series")
)

// ValidateOwnerID checks an owner id for use in storage keys.
func ValidateOwnerID(owner string) error {
	if owner == "" {
		return ErrEmptyOwnerID
	}
	return validateID(owner)
}

// ValidateDatasetID checks a dataset id for use in storage keys.
func ValidateDatasetID(dataset string) error {
	if dataset == "" {
		return ErrEmptyDatasetID
	}
	return validateID(dataset)
}

func validateID(id string) error {
	if len(id) > MaxIDLength {
		return ErrIDTooLong
	}
	if !validIDPattern.MatchString(id) {
		return ErrInvalidCharacters
	}
	return nil
}

// ValidateCategories performs the structural validation applied to
// every payload read back from storage or cache. A failure means the
// stored bytes do not describe a well-formed category list and must be
// treated as corruption, not as data.
func ValidateCategories(cats []Category) error {
	for i := range cats {
		c := &cats[i]
		if c.Name == "" {
			return fmt.Errorf("%w: category %d has no name", ErrMalformedCategory, i)
		}
		seen := make(map[string]struct{}, len(c.Series))
		for j := range c.Series {
			s := &c.Series[j]
			if s.ID == "" {
				return fmt.Errorf("%w: category %q series %d has empty id", ErrMalformedCategory, c.Name, j)
			}
			if _, dup := seen[s.ID]; dup {
				return fmt.Errorf("%w: category %q has duplicate series id %q", ErrMalformedCategory, c.Name, s.ID)
			}
			seen[s.ID] = struct{}{}
			for k := range s.Points {
				if err := validatePoint(&s.Points[k]); err != nil {
					return fmt.Errorf("%w: category %q series %q point %d: %v", ErrMalformedCategory, c.Name, s.ID, k, err)
				}
			}
		}
		for j := range c.Combined {
			cc := &c.Combined[j]
			if cc.ID == "" {
				return fmt.Errorf("%w: category %q combined chart %d has empty id", ErrMalformedCategory, c.Name, j)
			}
		}
	}
	return nil
}

func validatePoint(p *DataPoint) error {
	if p.Title == "" {
		return errors.New("missing title")
	}
	if p.Value == nil {
		return errors.New("missing value")
	}
	if p.Date.IsZero() || !p.Date.Valid() {
		return errors.New("missing or invalid date")
	}
	return nil
}

// ValidateCombinedRefs checks that every constituent id of a combined
// chart resolves to a series in the category, and that there are at
// least two. Violations reject the chart rather than dropping the bad
// reference.
func ValidateCombinedRefs(c *Category, chart CombinedChart) error {
	if len(chart.SeriesIDs) < 2 {
		return fmt.Errorf("combined chart %q needs at least 2 constituent series, got %d", chart.ID, len(chart.SeriesIDs))
	}
	for _, id := range chart.SeriesIDs {
		if c.FindSeries(id) == nil {
			return fmt.Errorf("combined chart %q: %w: %q in category %q", chart.ID, ErrUnknownSeries, id, c.Name)
		}
	}
	return nil
}
