package objectstore

import (
	"errors"
	"net/http"
)

var (
	ErrNotFound      = errors.New("object not found")
	ErrPrecondition  = errors.New("precondition failed")
	ErrAlreadyExists = errors.New("object already exists")
)

// IsNotFoundError reports whether err indicates a missing object.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsPreconditionError reports whether err indicates a failed ETag
// precondition on a conditional read or write.
func IsPreconditionError(err error) bool {
	return errors.Is(err, ErrPrecondition)
}

// IsConflictError reports whether err indicates a create-only write
// that lost to an existing object.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// ErrorToHTTPStatus maps store errors to the HTTP status an API layer
// should surface for them.
func ErrorToHTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsNotFoundError(err):
		return http.StatusNotFound
	case IsPreconditionError(err):
		return http.StatusPreconditionFailed
	case IsConflictError(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
