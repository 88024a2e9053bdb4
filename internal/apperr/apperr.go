package apperr

import (
	"errors"
	"net/http"
)

// Error kinds. Specific errors wrap one of these with fmt.Errorf("%w: ...")
// and callers classify them with errors.Is.
var (
	ErrValidation       = errors.New("validation error")
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrForbidden        = errors.New("forbidden")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrPartialSync      = errors.New("partial sync failure")
	ErrRateLimited      = errors.New("rate limited")
)

// HTTPStatus maps an error kind to the status code handlers respond with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
