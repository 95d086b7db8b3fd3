package exporter

import "errors"

// TransientError marks a collection failure as retriable. The collaborators
// that produce cycle errors (the collector walking the data directory, the
// ingress upload client) wrap network and filesystem failures with it; the
// controller retries transient failures indefinitely and treats everything
// else as fatal.
type TransientError struct {
	Err error
}

// Error implements the error interface.
func (e *TransientError) Error() string {
	return e.Err.Error()
}

// Unwrap exposes the underlying cause to errors.Is and errors.As.
func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err as retriable. A nil err stays nil so call sites can
// wrap unconditionally on their return path.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err is marked retriable anywhere in its chain.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}
