package campaign

import "errors"

// Stable error kinds. The admin API maps these to HTTP responses, so new
// failure modes should wrap one of them instead of inventing ad-hoc strings.
var (
	ErrNotFound        = errors.New("campaign not found")
	ErrValidation      = errors.New("invalid campaign input")
	ErrInvalidSchedule = errors.New("invalid schedule expression")
	ErrIllegalState    = errors.New("operation not allowed in current state")
	ErrStillRunning    = errors.New("campaign sweep still running")
)
