package dataset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/vizorhq/vizor/internal/chartdata"
)

var (
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
	gzipMagic = []byte{0x1f, 0x8b}
)

// EncodePayload serializes a category list to its canonical JSON form.
// An empty list encodes as "[]", never "null".
func EncodePayload(cats []chartdata.Category) ([]byte, error) {
	if cats == nil {
		cats = []chartdata.Category{}
	}
	return json.Marshal(cats)
}

// CompressPayload wraps an encoded payload in zstd for external
// storage.
func CompressPayload(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	if _, err := enc.Write(data); err != nil {
		enc.Close()
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodePayload turns stored bytes back into a validated category
// list. Compression is detected by magic-byte sniffing, so both zstd
// blobs and plain or gzip payloads written by earlier versions decode.
// Any structural problem surfaces as ErrCorrupt.
func DecodePayload(data []byte) ([]chartdata.Category, error) {
	raw, err := decompress(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	var cats []chartdata.Category
	if err := json.Unmarshal(raw, &cats); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if err := chartdata.ValidateCategories(cats); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return cats, nil
}

func decompress(data []byte) ([]byte, error) {
	switch {
	case bytes.HasPrefix(data, zstdMagic):
		dec, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		return io.ReadAll(dec)
	case bytes.HasPrefix(data, gzipMagic):
		gz, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		return io.ReadAll(gz)
	default:
		return data, nil
	}
}
