// Package tabular decodes uploaded tabular files into flat records
// ready for the canonical transformer. Heavier formats (PDF, scanned
// documents) are decoded by external services; the in-repo decoders
// cover delimited text and spreadsheets.
package tabular

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrUnsupportedType is returned for declared types no decoder
// handles.
var ErrUnsupportedType = errors.New("unsupported file type")

// Decoder turns raw file bytes into flat records. Keys are the header
// columns; values are raw cell strings, coerced later by the
// transformer.
type Decoder interface {
	Decode(r io.Reader) ([]map[string]any, error)
}

// Registry maps declared file types to decoders.
type Registry struct {
	decoders map[string]Decoder
}

// NewRegistry returns a registry with the built-in decoders: csv, tsv
// and txt via the CSV decoder, xlsx via excelize.
func NewRegistry() *Registry {
	r := &Registry{decoders: make(map[string]Decoder)}
	csv := &CSVDecoder{}
	r.Register("csv", csv)
	r.Register("tsv", csv)
	r.Register("txt", csv)
	r.Register("xlsx", &XLSXDecoder{})
	return r
}

// Register adds or replaces the decoder for a declared type.
func (r *Registry) Register(declaredType string, d Decoder) {
	r.decoders[normalizeType(declaredType)] = d
}

// DecoderFor resolves the decoder for a declared type, which may be a
// bare extension ("csv"), a dotted one (".csv"), or a filename.
func (r *Registry) DecoderFor(declaredType string) (Decoder, error) {
	d, ok := r.decoders[normalizeType(declaredType)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, declaredType)
	}
	return d, nil
}

func normalizeType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	if i := strings.LastIndex(t, "."); i >= 0 {
		t = t[i+1:]
	}
	return t
}
