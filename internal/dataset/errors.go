package dataset

import "errors"

var (
	ErrRecordNotFound    = errors.New("dataset record not found")
	ErrTombstoned        = errors.New("dataset has been deleted")
	ErrCASRetryExhausted = errors.New("record update failed after max retries")

	// ErrCorrupt means stored payload bytes failed structural
	// validation. Callers must drop any cache entry for the dataset
	// and surface the failure; the data cannot be used.
	ErrCorrupt = errors.New("stored payload is corrupt")
)

// IsCorrupt reports whether err indicates payload corruption.
func IsCorrupt(err error) bool {
	return errors.Is(err, ErrCorrupt)
}
