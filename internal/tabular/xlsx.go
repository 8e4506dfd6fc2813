package tabular

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// XLSXDecoder decodes the first sheet of a workbook: header row keys,
// data rows become records.
type XLSXDecoder struct{}

func (d *XLSXDecoder) Decode(r io.Reader) ([]map[string]any, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	if len(rows) < 2 {
		return nil, nil
	}

	header := rows[0]
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var records []map[string]any
	for _, row := range rows[1:] {
		record := make(map[string]any, len(header))
		for i, col := range header {
			if col == "" || i >= len(row) {
				continue
			}
			cell := strings.TrimSpace(row[i])
			if cell != "" {
				record[col] = cell
			}
		}
		if len(record) > 0 {
			records = append(records, record)
		}
	}
	return records, nil
}
