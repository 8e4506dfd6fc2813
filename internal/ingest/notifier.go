package ingest

import (
	"context"

	"github.com/vizorhq/vizor/internal/logging"
)

// Event types published after a committed dataset change.
const (
	EventDataUpdated    = "data_updated"
	EventFileRemoved    = "file_removed"
	EventDatasetDeleted = "dataset_deleted"
)

// Event describes one committed change to a dataset.
type Event struct {
	Type       string `json:"type"`
	Filename   string `json:"filename,omitempty"`
	Categories int    `json:"categories"`
}

// Notifier publishes dataset change events. Publishing is
// fire-and-forget from the pipeline's point of view: a failed publish
// is logged and never fails the write that triggered it.
type Notifier interface {
	Publish(ctx context.Context, owner, dataset string, ev Event) error
}

// NopNotifier discards events.
type NopNotifier struct{}

func (NopNotifier) Publish(context.Context, string, string, Event) error { return nil }

// LogNotifier writes events to the log, useful for single-process
// deployments and tests.
type LogNotifier struct {
	Logger *logging.Logger
}

func (n LogNotifier) Publish(_ context.Context, owner, dataset string, ev Event) error {
	n.Logger.Info("dataset event",
		"event", ev.Type, "owner", owner, "dataset", dataset,
		"filename", ev.Filename, "categories", ev.Categories)
	return nil
}
