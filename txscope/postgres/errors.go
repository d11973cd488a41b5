package postgres

import "errors"

var (
	ErrInvalidConfig       = errors.New("postgres: invalid config")
	ErrNilConnection       = errors.New("postgres: connection is nil")
	ErrNilContext          = errors.New("postgres: context is nil")
	ErrNotConnected        = errors.New("postgres: not connected")
	ErrClosed              = errors.New("postgres: connection closed")
	ErrInvalidDatabaseName = errors.New("postgres: invalid database name")
	ErrInvalidMigrations   = errors.New("postgres: invalid migrations path")
	ErrMigrationDirty      = errors.New("postgres: migration left a dirty version")
)

// SanitizedError carries an error message with credentials masked while
// keeping the original error reachable through errors.Is and errors.As.
type SanitizedError struct {
	Message string
	Err     error
}

func (e *SanitizedError) Error() string {
	return e.Message
}

func (e *SanitizedError) Unwrap() error {
	return e.Err
}

func newSanitizedError(prefix string, err error) error {
	if err == nil {
		return nil
	}

	return &SanitizedError{
		Message: prefix + ": " + sanitizeSensitiveString(err.Error()),
		Err:     err,
	}
}
