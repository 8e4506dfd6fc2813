package dataset

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vizorhq/vizor/pkg/objectstore"
)

const recordKeyPrefix = "vizor/datasets/"

// Tombstone is a deleted dataset whose record document is still
// present, with the blob refs it holds onto.
type Tombstone struct {
	Owner string
	ID    string
	Refs  []string
}

// ListTombstoned scans every dataset record and returns the tombstoned
// ones. The worker uses this to re-drive blob deletion after a crash
// and to purge record documents whose blobs are gone.
func (m *Manager) ListTombstoned(ctx context.Context) ([]Tombstone, error) {
	var out []Tombstone
	marker := ""
	for {
		res, err := m.store.List(ctx, &objectstore.ListOptions{Prefix: recordKeyPrefix, Marker: marker})
		if err != nil {
			return nil, fmt.Errorf("list dataset records: %w", err)
		}
		for _, obj := range res.Objects {
			owner, id, ok := parseRecordKey(obj.Key)
			if !ok {
				continue
			}
			loaded, err := m.load(ctx, owner, id)
			if err != nil {
				if errors.Is(err, ErrRecordNotFound) {
					continue
				}
				return nil, err
			}
			if !loaded.Record.Deletion.Tombstoned {
				continue
			}
			out = append(out, Tombstone{Owner: owner, ID: id, Refs: loaded.Record.ExternalRefs()})
		}
		if !res.IsTruncated {
			break
		}
		marker = res.NextMarker
	}
	return out, nil
}

// Purge removes a tombstoned record document. Live records are
// refused; the caller must have drained the tombstone's blob refs
// first. Purging an already-gone record is not an error.
func (m *Manager) Purge(ctx context.Context, owner, id string) error {
	loaded, err := m.load(ctx, owner, id)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil
		}
		return err
	}
	if !loaded.Record.Deletion.Tombstoned {
		return fmt.Errorf("refusing to purge live dataset %s/%s", owner, id)
	}
	if err := m.store.Delete(ctx, RecordKey(owner, id)); err != nil {
		return fmt.Errorf("purge dataset record: %w", err)
	}
	m.logger.Info("purged tombstoned dataset record", "owner", owner, "dataset", id)
	return nil
}

// parseRecordKey extracts (owner, id) from a record document key.
func parseRecordKey(key string) (owner, id string, ok bool) {
	rest, found := strings.CutPrefix(key, recordKeyPrefix)
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[2] != "meta.json" || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
