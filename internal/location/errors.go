package location

import "errors"

var (
	ErrProviderClosed = errors.New("location: provider stopped delivering updates")
	ErrUnknownGrant   = errors.New("location: unknown permission grant")
)

// PermissionError is returned by Subscribe when neither fine nor coarse
// location permission is granted.
type PermissionError struct{}

func (PermissionError) Error() string {
	return "location: fine or coarse location permission required"
}

// ProviderError wraps a failure reported by the underlying provider callback.
type ProviderError struct {
	Err error
}

func (e *ProviderError) Error() string { return "location: provider error: " + e.Err.Error() }

func (e *ProviderError) Unwrap() error { return e.Err }
