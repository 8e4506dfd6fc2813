package repair

import (
	"reflect"
	"testing"

	"github.com/vizorhq/vizor/internal/logging"
)

func TestRecordsRepairsObjectLiteralSyntax(t *testing.T) {
	got := Records(logging.Nop(), "const data = [{Month:'Jan', Profit ($):8994,},]")
	want := []map[string]any{{"Month": "Jan", "Profit ($)": float64(8994)}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestRecordsHandlesCleanJSON(t *testing.T) {
	got := Records(logging.Nop(), `[{"a": 1}, {"b": "two"}]`)
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %v", got)
	}
	if got[0]["a"] != float64(1) || got[1]["b"] != "two" {
		t.Errorf("unexpected records: %v", got)
	}
}

func TestRecordsProtectsDates(t *testing.T) {
	tests := []struct {
		name string
		in   string
		key  string
		want string
	}{
		{"bare date value", `[{Date: 2024-03-01, v: 1}]`, "Date", "2024-03-01"},
		{"quoted date value", `[{Date: '2024-03-01'}]`, "Date", "2024-03-01"},
		{"datetime value", `[{At: 2024-03-01T12:30:00Z}]`, "At", "2024-03-01T12:30:00Z"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Records(logging.Nop(), tt.in)
			if len(got) != 1 {
				t.Fatalf("expected 1 record, got %v", got)
			}
			if got[0][tt.key] != tt.want {
				t.Errorf("got %v, want %q", got[0][tt.key], tt.want)
			}
		})
	}
}

func TestRecordsStripsCommentsAndControlChars(t *testing.T) {
	in := "var rows = [\n" +
		"  // header comment\n" +
		"  {Region: 'West', Sales: 100}, /* inline */\n" +
		"  {Region: 'East', Sales: 90},\x07\n" +
		"]"
	got := Records(logging.Nop(), in)
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %v", got)
	}
	if got[0]["Region"] != "West" || got[1]["Sales"] != float64(90) {
		t.Errorf("unexpected records: %v", got)
	}
}

func TestRecordsFragmentRecovery(t *testing.T) {
	// The array as a whole is unparseable (bad middle fragment), so
	// recovery keeps the two good objects and drops the broken one.
	in := `[{Month:'Jan', v:1}, {Month: ::broken::}, {Month:'Mar', v:3}]`
	got := Records(logging.Nop(), in)
	if len(got) != 2 {
		t.Fatalf("expected 2 recovered records, got %v", got)
	}
	if got[0]["Month"] != "Jan" || got[1]["Month"] != "Mar" {
		t.Errorf("unexpected records: %v", got)
	}
}

func TestRecordsEmptyResultIsValid(t *testing.T) {
	tests := []string{
		"",
		"no data here",
		"[]",
		"[not even close}",
	}
	for _, in := range tests {
		if got := Records(logging.Nop(), in); len(got) != 0 {
			t.Errorf("Records(%q) = %v, want empty", in, got)
		}
	}
}

func TestBalancedFragmentsRespectsQuotes(t *testing.T) {
	frags := balancedFragments(`{a: "close} brace"} {b: 2}`)
	if len(frags) != 2 {
		t.Fatalf("expected 2 fragments, got %v", frags)
	}
	if frags[0] != `{a: "close} brace"}` {
		t.Errorf("quote-aware scan failed: %q", frags[0])
	}
}
