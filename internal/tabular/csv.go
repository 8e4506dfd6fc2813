package tabular

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// CSVDecoder decodes delimited text. The delimiter is sniffed from the
// header line among comma, semicolon, and tab, so exports from
// European locales and TSV files decode without configuration.
type CSVDecoder struct{}

func (d *CSVDecoder) Decode(r io.Reader) ([]map[string]any, error) {
	br := bufio.NewReader(r)

	// Drop a UTF-8 BOM if present.
	if head, err := br.Peek(3); err == nil && bytes.Equal(head, []byte{0xef, 0xbb, 0xbf}) {
		if _, err := br.Discard(3); err != nil {
			return nil, err
		}
	}

	headerLine, err := br.Peek(4096)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return nil, fmt.Errorf("read header: %w", err)
	}
	delim := sniffDelimiter(string(headerLine))

	cr := csv.NewReader(br)
	cr.Comma = delim
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var records []map[string]any
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", len(records)+2, err)
		}
		record := make(map[string]any, len(header))
		for i, col := range header {
			if col == "" {
				continue
			}
			if i < len(row) {
				record[col] = strings.TrimSpace(row[i])
			}
		}
		if len(record) > 0 {
			records = append(records, record)
		}
	}
	return records, nil
}

// sniffDelimiter picks whichever of comma, semicolon, or tab appears
// most in the header line, defaulting to comma.
func sniffDelimiter(header string) rune {
	if i := strings.IndexByte(header, '\n'); i >= 0 {
		header = header[:i]
	}
	best, bestCount := ',', strings.Count(header, ",")
	if n := strings.Count(header, ";"); n > bestCount {
		best, bestCount = ';', n
	}
	if n := strings.Count(header, "\t"); n > bestCount {
		best = '\t'
	}
	return best
}
