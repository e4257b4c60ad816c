package guardian

import "errors"

var (
	ErrNotFound    = errors.New("guardian: user not found")
	ErrSelf        = errors.New("guardian: cannot guard yourself")
	ErrNotGuardian = errors.New("guardian: not a guardian of this ward")
)
