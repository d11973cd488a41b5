package txscope

import "errors"

// Outcome is the semantic category of a failed attempt.
type Outcome int

const (
	OutcomeFatal Outcome = iota
	OutcomeRetryable
	OutcomeUniqueViolation
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRetryable:
		return "retryable"
	case OutcomeUniqueViolation:
		return "unique_violation"
	default:
		return "fatal"
	}
}

// ConflictKind refines a retryable outcome.
type ConflictKind int

const (
	ConflictNone ConflictKind = iota
	ConflictSerialization
	ConflictDeadlock
	ConflictApplication
	ConflictUnique
)

func (k ConflictKind) String() string {
	switch k {
	case ConflictSerialization:
		return "serialization"
	case ConflictDeadlock:
		return "deadlock"
	case ConflictApplication:
		return "application"
	case ConflictUnique:
		return "unique"
	default:
		return "none"
	}
}

// Classification is the result of classifying an error. Code is the driver's
// structured error code and is empty for errors that did not originate in
// the database.
type Classification struct {
	Outcome Outcome
	Kind    ConflictKind
	Code    string
	Err     error
}

// Retryable reports whether the root may retry the attempt.
func (c Classification) Retryable() bool {
	return c.Outcome == OutcomeRetryable || c.Outcome == OutcomeUniqueViolation
}

// DatabaseOriginated reports whether the error carried a driver code.
func (c Classification) DatabaseOriginated() bool {
	return c.Code != ""
}

// Classifier maps opaque errors to outcomes. Implementations must inspect
// structured codes only, never message text.
type Classifier interface {
	Classify(err error) Classification
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(err error) Classification

func (fn ClassifierFunc) Classify(err error) Classification {
	if fn == nil {
		return Classification{Outcome: OutcomeFatal, Err: err}
	}

	return fn(err)
}

// sqlStater is implemented by *pgconn.PgError.
type sqlStater interface {
	SQLState() string
}

// DefaultClassifier recognises ErrConcurrencyConflict and errors exposing a
// Postgres SQLSTATE through a SQLState() method.
type DefaultClassifier struct{}

func (DefaultClassifier) Classify(err error) Classification {
	if err == nil {
		return Classification{Outcome: OutcomeFatal}
	}

	var stater sqlStater
	if errors.As(err, &stater) {
		class := ClassifySQLState(stater.SQLState())
		class.Err = err

		return class
	}

	if errors.Is(err, ErrConcurrencyConflict) {
		return Classification{Outcome: OutcomeRetryable, Kind: ConflictApplication, Err: err}
	}

	return Classification{Outcome: OutcomeFatal, Err: err}
}

// Postgres SQLSTATE codes relevant to retry.
const (
	SQLStateSerializationFailure = "40001"
	SQLStateDeadlockDetected     = "40P01"
	SQLStateUniqueViolation      = "23505"
)

// ClassifySQLState maps a Postgres SQLSTATE. The returned classification
// always carries code, so it counts as database-originated when non-empty.
func ClassifySQLState(code string) Classification {
	switch code {
	case SQLStateSerializationFailure:
		return Classification{Outcome: OutcomeRetryable, Kind: ConflictSerialization, Code: code}
	case SQLStateDeadlockDetected:
		return Classification{Outcome: OutcomeRetryable, Kind: ConflictDeadlock, Code: code}
	case SQLStateUniqueViolation:
		return Classification{Outcome: OutcomeUniqueViolation, Kind: ConflictUnique, Code: code}
	default:
		return Classification{Outcome: OutcomeFatal, Code: code}
	}
}
