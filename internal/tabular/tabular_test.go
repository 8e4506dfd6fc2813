package tabular

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

func TestRegistryResolvesTypes(t *testing.T) {
	r := NewRegistry()
	for _, typ := range []string{"csv", "CSV", ".csv", "report.csv", "tsv", "txt", "xlsx", "Q1.XLSX"} {
		if _, err := r.DecoderFor(typ); err != nil {
			t.Errorf("DecoderFor(%q): %v", typ, err)
		}
	}
	if _, err := r.DecoderFor("pdf"); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("expected ErrUnsupportedType for pdf, got %v", err)
	}
}

func TestCSVDecode(t *testing.T) {
	in := "Region,Sales,Date\nWest,100,2024-03-01\nEast,90,2024-03-01\n"
	records, err := (&CSVDecoder{}).Decode(strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0]["Region"] != "West" || records[0]["Sales"] != "100" {
		t.Errorf("unexpected record: %v", records[0])
	}
}

func TestCSVDecodeSniffsDelimiter(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"semicolon", "Region;Sales\nWest;100\n"},
		{"tab", "Region\tSales\nWest\t100\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := (&CSVDecoder{}).Decode(strings.NewReader(tt.in))
			if err != nil {
				t.Fatal(err)
			}
			if len(records) != 1 || records[0]["Sales"] != "100" {
				t.Errorf("unexpected records: %v", records)
			}
		})
	}
}

func TestCSVDecodeStripsBOM(t *testing.T) {
	in := "\xef\xbb\xbfRegion,Sales\nWest,100\n"
	records, err := (&CSVDecoder{}).Decode(strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := records[0]["Region"]; !ok {
		t.Errorf("BOM leaked into header: %v", records[0])
	}
}

func TestCSVDecodeRaggedRows(t *testing.T) {
	in := "A,B,C\n1,2\n4,5,6,7\n"
	records, err := (&CSVDecoder{}).Decode(strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %v", records)
	}
	if _, ok := records[0]["C"]; ok {
		t.Error("short row grew a phantom column")
	}
}

func TestCSVDecodeEmpty(t *testing.T) {
	records, err := (&CSVDecoder{}).Decode(strings.NewReader(""))
	if err != nil || records != nil {
		t.Errorf("empty input: %v, %v", records, err)
	}
}

func TestXLSXDecode(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	rows := [][]any{
		{"Region", "Sales", "Date"},
		{"West", 100, "2024-03-01"},
		{"East", 90, "2024-03-01"},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatal(err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatal(err)
		}
	}
	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		t.Fatal(err)
	}

	records, err := (&XLSXDecoder{}).Decode(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0]["Region"] != "West" || records[1]["Sales"] != "90" {
		t.Errorf("unexpected records: %v", records)
	}
}
