package dataset

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"

	"github.com/vizorhq/vizor/internal/chartdata"
	"github.com/vizorhq/vizor/internal/logging"
	"github.com/vizorhq/vizor/pkg/objectstore"
)

func testManager(t *testing.T) (*Manager, *objectstore.MemoryStore) {
	t.Helper()
	store := objectstore.NewMemoryStore()
	m := NewManager(store, ManagerConfig{InlineThresholdBytes: 512}, logging.Nop())
	return m, store
}

func sampleCategories(pointValue string) []chartdata.Category {
	return []chartdata.Category{{
		Name: "West",
		Series: []chartdata.ChartSeries{{
			ID:    "west-sales",
			Title: "Sales",
			Points: []chartdata.DataPoint{
				{Title: "Sales", Value: pointValue, Date: "2024-03-01", SourceFile: "q1.csv"},
			},
		}},
	}}
}

func TestLoadOrCreate(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()

	if _, err := m.Load(ctx, "o", "d"); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}

	created, err := m.LoadOrCreate(ctx, "o", "d")
	if err != nil {
		t.Fatal(err)
	}
	if created.Record.Owner != "o" || created.Record.ID != "d" {
		t.Errorf("unexpected record: %+v", created.Record)
	}
	if created.Record.DataRef != nil {
		t.Error("fresh record must have nil data ref")
	}

	again, err := m.LoadOrCreate(ctx, "o", "d")
	if err != nil {
		t.Fatal(err)
	}
	if again.Record.CreatedAt != created.Record.CreatedAt {
		t.Error("second LoadOrCreate created a new record")
	}
}

func TestPayloadRoundTripInline(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()
	cats := sampleCategories("small")

	stored, err := m.StorePayload(ctx, "o", "d", cats)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Tier != "inline" {
		t.Fatalf("expected inline tier, got %q", stored.Tier)
	}

	rec := NewRecord("o", "d")
	stored.Apply(rec)
	if rec.DataRef == nil {
		t.Fatal("data ref not set for inline tier")
	}
	if rec.DataRef.BlobID != "" {
		t.Error("inline tier must have empty blob id")
	}

	got, err := m.ReadPayload(ctx, rec)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, cats) {
		t.Errorf("round trip mismatch:\ngot  %+v\nwant %+v", got, cats)
	}
}

func TestPayloadRoundTripExternal(t *testing.T) {
	m, store := testManager(t)
	ctx := context.Background()
	cats := sampleCategories(strings.Repeat("x", 2048))

	stored, err := m.StorePayload(ctx, "o", "d", cats)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Tier != "external" || stored.BlobID == "" {
		t.Fatalf("expected external tier, got %+v", stored)
	}

	rec := NewRecord("o", "d")
	stored.Apply(rec)
	if !rec.DataRef.External() {
		t.Fatal("data ref must be external")
	}
	if rec.Inline != nil {
		t.Error("external tier must not keep inline bytes")
	}

	// The blob on disk is zstd compressed.
	reader, _, err := store.Get(ctx, BlobKey("o", "d", stored.BlobID), nil)
	if err != nil {
		t.Fatal(err)
	}
	blob := make([]byte, 4)
	if _, err := reader.Read(blob); err != nil {
		t.Fatal(err)
	}
	reader.Close()
	if !bytes.Equal(blob, []byte{0x28, 0xb5, 0x2f, 0xfd}) {
		t.Errorf("blob not zstd compressed: % x", blob)
	}

	got, err := m.ReadPayload(ctx, rec)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, cats) {
		t.Error("external round trip mismatch")
	}
}

func TestStorePayloadEmpty(t *testing.T) {
	m, _ := testManager(t)
	stored, err := m.StorePayload(context.Background(), "o", "d", nil)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Tier != "empty" {
		t.Fatalf("expected empty tier, got %q", stored.Tier)
	}

	rec := NewRecord("o", "d")
	stored.Apply(rec)
	if rec.DataRef != nil {
		t.Error("empty payload must clear data ref")
	}

	got, err := m.ReadPayload(context.Background(), rec)
	if err != nil || got != nil {
		t.Errorf("expected empty read, got %v, %v", got, err)
	}
}

func TestReadPayloadCorruption(t *testing.T) {
	m, store := testManager(t)
	ctx := context.Background()

	// Structurally invalid: series without id.
	bad := []byte(`[{"name":"West","series":[{"id":"","title":"Sales","points":[]}]}]`)
	rec := NewRecord("o", "d")
	rec.DataRef = &DataRef{BlobID: "bad-blob"}
	if _, err := store.Put(ctx, BlobKey("o", "d", "bad-blob"), bytes.NewReader(bad), int64(len(bad)), nil); err != nil {
		t.Fatal(err)
	}

	if _, err := m.ReadPayload(ctx, rec); !IsCorrupt(err) {
		t.Errorf("expected ErrCorrupt, got %v", err)
	}

	// Missing blob is also corruption, not a silent empty read.
	rec.DataRef.BlobID = "gone"
	if _, err := m.ReadPayload(ctx, rec); !IsCorrupt(err) {
		t.Errorf("expected ErrCorrupt for missing blob, got %v", err)
	}
}

func TestDecodePayloadSniffsGzip(t *testing.T) {
	encoded, err := EncodePayload(sampleCategories("v"))
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(encoded); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}

	cats, err := DecodePayload(buf.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if len(cats) != 1 || cats[0].Name != "West" {
		t.Errorf("gzip decode failed: %+v", cats)
	}
}

func TestUpdateCAS(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()

	if _, err := m.Create(ctx, "o", "d"); err != nil {
		t.Fatal(err)
	}

	updated, err := m.Update(ctx, "o", "d", func(rec *Record) error {
		rec.Name = "Quarterly"
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Record.Name != "Quarterly" {
		t.Errorf("update not applied: %+v", updated.Record)
	}

	loaded, err := m.Load(ctx, "o", "d")
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Record.Name != "Quarterly" {
		t.Error("update not persisted")
	}
}

func TestUpdateAborts(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()
	abort := errors.New("abort")

	_, err := m.Update(ctx, "o", "d", func(rec *Record) error {
		return abort
	})
	if !errors.Is(err, abort) {
		t.Fatalf("expected abort error, got %v", err)
	}
}

func TestDeleteReturnsRefs(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()
	cats := sampleCategories(strings.Repeat("x", 2048))

	stored, err := m.StorePayload(ctx, "o", "d", cats)
	if err != nil {
		t.Fatal(err)
	}
	_, err = m.Update(ctx, "o", "d", func(rec *Record) error {
		stored.Apply(rec)
		rec.Files = append(rec.Files, chartdata.FileRecord{
			FileID: "f1", Filename: "raw.xlsx", Origin: chartdata.OriginLocal, StoredBlobID: "raw-blob",
		})
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	refs, err := m.Delete(ctx, "o", "d")
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 2 {
		t.Fatalf("expected payload + file refs, got %v", refs)
	}

	if _, err := m.Load(ctx, "o", "d"); !errors.Is(err, ErrTombstoned) {
		t.Errorf("expected ErrTombstoned after delete, got %v", err)
	}
}

func TestPayloadHashStable(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()
	cats := sampleCategories("v")

	a, err := m.StorePayload(ctx, "o", "d", cats)
	if err != nil {
		t.Fatal(err)
	}
	b, err := m.StorePayload(ctx, "o", "d", cats)
	if err != nil {
		t.Fatal(err)
	}
	if a.Hash != b.Hash {
		t.Error("identical payloads hash differently")
	}

	c, err := m.StorePayload(ctx, "o", "d", sampleCategories("other"))
	if err != nil {
		t.Fatal(err)
	}
	if c.Hash == a.Hash {
		t.Error("different payloads share a hash")
	}
}
