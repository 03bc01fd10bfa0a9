package clinical

import (
	"context"
	"errors"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrMissingCredential = errors.New("missing credential")
)

// UpstreamError wraps a failed call to an external model service.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	if e.Err == nil {
		return e.Op + " failed"
	}
	return e.Op + " failed: " + e.Err.Error()
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether err came from an expired deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
