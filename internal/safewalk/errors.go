package safewalk

import "errors"

var (
	ErrNotFound  = errors.New("safe walk not found")
	ErrForbidden = errors.New("not allowed on this safe walk")
	ErrConflict  = errors.New("safe walk conflict")
	ErrInvalid   = errors.New("invalid safe walk request")
)
