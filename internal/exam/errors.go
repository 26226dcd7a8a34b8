package exam

import "errors"

var (
	// ErrForbidden is returned when the caller may not act on a paper.
	ErrForbidden = errors.New("forbidden")
	// ErrAlreadyStarted is returned when starting a paper that is not in
	// the not_started state.
	ErrAlreadyStarted = errors.New("exam already started")
	// ErrAlreadyCompleted is returned when submitting or deleting a
	// completed paper.
	ErrAlreadyCompleted = errors.New("exam already completed")
	// ErrInvalidReason is returned for an unknown generation reason.
	ErrInvalidReason = errors.New("invalid generation reason")
)
