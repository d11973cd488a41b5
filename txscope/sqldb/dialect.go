package sqldb

import (
	"fmt"
	"regexp"
	"strings"
)

const maxIdentifierLength = 63

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Dialect renders the statements that scope a session to a namespace.
// local statements last until the end of the current transaction; the
// others last for the session and must be reset before the connection
// returns to the pool.
type Dialect interface {
	ScopeStatement(namespace string, local bool) (string, error)
	ResetStatement(local bool) string
}

// Postgres scopes statements through search_path, keeping public visible
// for shared extensions and types.
type Postgres struct{}

func (Postgres) ScopeStatement(namespace string, local bool) (string, error) {
	if err := ValidateIdentifier(namespace); err != nil {
		return "", err
	}

	if local {
		return "SET LOCAL search_path TO " + QuoteIdentifier(namespace) + ", public", nil
	}

	return "SET search_path TO " + QuoteIdentifier(namespace) + ", public", nil
}

func (Postgres) ResetStatement(local bool) string {
	if local {
		return "SET LOCAL search_path TO DEFAULT"
	}

	return "RESET search_path"
}

// ValidateIdentifier accepts unquoted SQL identifiers of at most 63 bytes.
func ValidateIdentifier(identifier string) error {
	if len(identifier) == 0 || len(identifier) > maxIdentifierLength {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, identifier)
	}

	if !identifierPattern.MatchString(identifier) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, identifier)
	}

	return nil
}

// QuoteIdentifier double-quotes identifier, escaping embedded quotes.
func QuoteIdentifier(identifier string) string {
	identifier = strings.ReplaceAll(identifier, "\x00", "")

	return "\"" + strings.ReplaceAll(identifier, "\"", "\"\"") + "\""
}
