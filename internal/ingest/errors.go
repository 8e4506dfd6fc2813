package ingest

import "errors"

var (
	// ErrValidation covers malformed owner/dataset ids and structurally
	// invalid requests. Surfaced immediately, never retried.
	ErrValidation = errors.New("validation failed")

	// ErrSizeExceeded means the write was rejected because the payload
	// cannot be reduced under the dataset budget. Nothing is persisted.
	ErrSizeExceeded = errors.New("dataset size budget exceeded")

	// ErrFileNotFound means the named file is not attached to the
	// dataset.
	ErrFileNotFound = errors.New("file not found")

	// ErrCategoryNotFound means the named category does not exist in
	// the dataset.
	ErrCategoryNotFound = errors.New("category not found")

	// ErrConstituentNotFound means a combined chart references a series
	// id that does not resolve. The chart is rejected, not repaired.
	ErrConstituentNotFound = errors.New("combined chart constituent not found")

	// ErrNoGenerator means IngestGenerated was called on a service
	// built without a text generator.
	ErrNoGenerator = errors.New("no text generator configured")
)
