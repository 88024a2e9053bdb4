package chat

import (
	"fmt"

	"tradiehub/internal/apperr"
	"tradiehub/internal/participant"
)

var (
	ErrThreadNotFound  = fmt.Errorf("%w: thread", apperr.ErrNotFound)
	ErrNotParticipant  = fmt.Errorf("%w: not a participant of this thread", apperr.ErrForbidden)
	ErrBlocked         = fmt.Errorf("%w: participant is blocked", apperr.ErrForbidden)
	ErrThreadInactive  = fmt.Errorf("%w: thread is inactive", apperr.ErrForbidden)
	ErrSameParticipant = fmt.Errorf("%w: sender and receiver must differ", apperr.ErrValidation)

	ErrInvalidParticipant = fmt.Errorf("%w: invalid participant", apperr.ErrValidation)
	ErrEmptyMessage       = fmt.Errorf("%w: message is required", apperr.ErrValidation)
	ErrMessageTooLong     = fmt.Errorf("%w: message exceeds %d characters", apperr.ErrValidation, MaxMessageLength)
	ErrSearchTooShort     = fmt.Errorf("%w: search query needs at least %d characters", apperr.ErrValidation, MinSearchLength)

	// ErrDeliveryUnknown means a real-time write may or may not have landed.
	// Callers must not resend blindly; reconciliation repairs the mirror.
	ErrDeliveryUnknown = fmt.Errorf("delivery unknown: %w", apperr.ErrStoreUnavailable)

	errMessageIDTaken = fmt.Errorf("%w: message id already taken", apperr.ErrConflict)
)

// PartialSyncError records a failed relational mirror write after the
// real-time write succeeded. It carries what a reconciliation sweep needs.
type PartialSyncError struct {
	ThreadID  string
	MessageID string
	Sender    participant.Participant
	Stage     string
	Err       error
}

func (e *PartialSyncError) Error() string {
	return fmt.Sprintf("mirror %s failed for thread %s message %s (sender %s): %v",
		e.Stage, e.ThreadID, e.MessageID, e.Sender, e.Err)
}

func (e *PartialSyncError) Unwrap() []error {
	return []error{apperr.ErrPartialSync, e.Err}
}
