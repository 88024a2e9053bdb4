package jobs

import (
	"fmt"

	"tradiehub/internal/apperr"
)

var (
	// ErrJobNotFound also covers jobs the caller does not own.
	ErrJobNotFound           = fmt.Errorf("%w: job not found or unauthorized", apperr.ErrNotFound)
	ErrApplicationNotFound   = fmt.Errorf("%w: application not found", apperr.ErrNotFound)
	ErrJobNotOpen            = fmt.Errorf("%w: job is not open for applications", apperr.ErrConflict)
	ErrDuplicateApplication  = fmt.Errorf("%w: you have already applied to this job", apperr.ErrConflict)
	ErrJobAlreadyDecided     = fmt.Errorf("%w: an application has already been accepted for this job", apperr.ErrConflict)
	ErrApplicationNotPending = fmt.Errorf("%w: application is no longer pending", apperr.ErrConflict)

	ErrInvalidDecision = fmt.Errorf("%w: status must be accepted or rejected", apperr.ErrValidation)
	ErrTooManyPhotos   = fmt.Errorf("%w: at most %d photos per job", apperr.ErrValidation, MaxPhotos)
	ErrInvalidOffer    = fmt.Errorf("%w: invalid job offer", apperr.ErrValidation)
	ErrInvalidApply    = fmt.Errorf("%w: invalid application", apperr.ErrValidation)
)
