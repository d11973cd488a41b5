package txscope

import "errors"

var (
	ErrDriverRequired        = errors.New("txscope: driver is required")
	ErrManagerRequired       = errors.New("txscope: manager is required")
	ErrDirectReadUnsupported = errors.New("txscope: driver does not support direct reads")
	ErrNamespaceUnsupported  = errors.New("txscope: handle does not support namespaces")
	ErrNilHandle             = errors.New("txscope: driver returned a nil handle")
	ErrWorkRequired          = errors.New("txscope: work function is required")

	// ErrConcurrencyConflict is returned by application code that detects an
	// optimistic-locking conflict (for example a version column mismatch).
	// The default classifier retries it like a serialization failure.
	ErrConcurrencyConflict = errors.New("txscope: concurrency conflict")

	// ErrUniqueConstraintViolation matches every *UniqueConstraintViolationError.
	ErrUniqueConstraintViolation = errors.New("txscope: unique constraint violation")
)

// UniqueConstraintViolationError is returned once a root has exhausted its
// retries on a uniqueness conflict. It unwraps to the driver error.
type UniqueConstraintViolationError struct {
	Code string
	Err  error
}

func (e *UniqueConstraintViolationError) Error() string {
	if e == nil || e.Err == nil {
		return ErrUniqueConstraintViolation.Error()
	}

	return ErrUniqueConstraintViolation.Error() + ": " + e.Err.Error()
}

func (e *UniqueConstraintViolationError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Err
}

// Is reports ErrUniqueConstraintViolation as a match.
func (e *UniqueConstraintViolationError) Is(target error) bool {
	return target == ErrUniqueConstraintViolation
}
