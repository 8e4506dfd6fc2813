package chartdata

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateOwnerID(t *testing.T) {
	tests := []struct {
		name    string
		owner   string
		wantErr error
	}{
		{"valid", "user-123", nil},
		{"valid with dots", "org.team_a", nil},
		{"empty", "", ErrEmptyOwnerID},
		{"too long", strings.Repeat("a", MaxIDLength+1), ErrIDTooLong},
		{"slash", "a/b", ErrInvalidCharacters},
		{"space", "a b", ErrInvalidCharacters},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateOwnerID(tt.owner)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateOwnerID(%q) = %v, want %v", tt.owner, err, tt.wantErr)
			}
		})
	}
}

func TestValidateDatasetID(t *testing.T) {
	if err := ValidateDatasetID(""); !errors.Is(err, ErrEmptyDatasetID) {
		t.Errorf("empty dataset id: got %v", err)
	}
	if err := ValidateDatasetID("dash-1"); err != nil {
		t.Errorf("valid dataset id rejected: %v", err)
	}
}

func validCategory() Category {
	return Category{
		Name: "West",
		Series: []ChartSeries{{
			ID:    "west-sales",
			Title: "Sales",
			Points: []DataPoint{
				{Title: "Sales", Value: float64(100), Date: "2024-03-01", SourceFile: "q1.csv"},
			},
		}},
	}
}

func TestValidateCategories(t *testing.T) {
	if err := ValidateCategories([]Category{validCategory()}); err != nil {
		t.Fatalf("valid categories rejected: %v", err)
	}

	noName := validCategory()
	noName.Name = ""
	if err := ValidateCategories([]Category{noName}); !errors.Is(err, ErrMalformedCategory) {
		t.Errorf("empty category name: got %v", err)
	}

	emptyID := validCategory()
	emptyID.Series[0].ID = ""
	if err := ValidateCategories([]Category{emptyID}); !errors.Is(err, ErrMalformedCategory) {
		t.Errorf("empty series id: got %v", err)
	}

	dup := validCategory()
	dup.Series = append(dup.Series, dup.Series[0].Clone())
	if err := ValidateCategories([]Category{dup}); !errors.Is(err, ErrMalformedCategory) {
		t.Errorf("duplicate series id: got %v", err)
	}

	badPoint := validCategory()
	badPoint.Series[0].Points[0].Date = "not-a-date"
	if err := ValidateCategories([]Category{badPoint}); !errors.Is(err, ErrMalformedCategory) {
		t.Errorf("invalid point date: got %v", err)
	}

	nilValue := validCategory()
	nilValue.Series[0].Points[0].Value = nil
	if err := ValidateCategories([]Category{nilValue}); !errors.Is(err, ErrMalformedCategory) {
		t.Errorf("nil point value: got %v", err)
	}
}

func TestValidateCombinedRefs(t *testing.T) {
	cat := validCategory()
	cat.Series = append(cat.Series, ChartSeries{
		ID: "west-profit", Title: "Profit",
		Points: []DataPoint{{Title: "Profit", Value: float64(10), Date: "2024-03-01"}},
	})

	ok := CombinedChart{ID: "c1", SeriesIDs: []string{"west-sales", "west-profit"}}
	if err := ValidateCombinedRefs(&cat, ok); err != nil {
		t.Errorf("valid refs rejected: %v", err)
	}

	tooFew := CombinedChart{ID: "c2", SeriesIDs: []string{"west-sales"}}
	if err := ValidateCombinedRefs(&cat, tooFew); err == nil {
		t.Error("single constituent accepted")
	}

	missing := CombinedChart{ID: "c3", SeriesIDs: []string{"west-sales", "nope"}}
	if err := ValidateCombinedRefs(&cat, missing); err == nil {
		t.Error("unresolvable constituent accepted")
	}
}

func TestValueKinds(t *testing.T) {
	tests := []struct {
		v    any
		want ValueKind
	}{
		{nil, KindEmpty},
		{"", KindEmpty},
		{float64(3), KindNumber},
		{42, KindNumber},
		{"hello", KindString},
		{true, KindString},
	}
	for _, tt := range tests {
		if got := KindOf(tt.v); got != tt.want {
			t.Errorf("KindOf(%v) = %v, want %v", tt.v, got, tt.want)
		}
	}

	s := ChartSeries{Points: []DataPoint{
		{Title: "a", Value: nil, Date: "2024-01-01"},
		{Title: "b", Value: "text", Date: "2024-01-01"},
	}}
	if got := SeriesKind(s); got != KindString {
		t.Errorf("SeriesKind skips empty values: got %v", got)
	}
	if got := SeriesKind(ChartSeries{}); got != KindEmpty {
		t.Errorf("SeriesKind of empty series: got %v", got)
	}
}

func TestDate(t *testing.T) {
	d, ok := ParseDate("2024-03-01")
	if !ok || d != "2024-03-01" {
		t.Fatalf("ParseDate: %v %v", d, ok)
	}
	if _, ok := ParseDate("2024-13-01"); ok {
		t.Error("invalid month accepted")
	}
	if !d.Valid() || d.IsZero() {
		t.Error("valid date misclassified")
	}
	if Date("").Valid() {
		t.Error("zero date reported valid")
	}
}
