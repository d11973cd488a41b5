// Package sqlerr extracts structured error codes from SQL drivers and
// classifies them for the transaction coordinator.
//
// Supported drivers: pgx (*pgconn.PgError), lib/pq (*pq.Error),
// go-sql-driver/mysql (*mysql.MySQLError) and go-mssqldb (mssql.Error).
// Classification looks at codes only, never at message text.
package sqlerr

import (
	"errors"
	"strconv"

	mssql "github.com/denisenkom/go-mssqldb"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/LerianStudio/lib-txscope/txscope"
)

// Dialect names the database family an error code belongs to.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
	DialectMSSQL    Dialect = "mssql"
)

// ErrorCode is a driver error code tagged with its dialect. Postgres values
// are SQLSTATEs; MySQL and MSSQL values are decimal error numbers.
type ErrorCode struct {
	Dialect Dialect
	Value   string
}

func (c ErrorCode) String() string {
	return string(c.Dialect) + ":" + c.Value
}

// Code extracts the structured code of the first recognised driver error in
// err's chain.
func Code(err error) (ErrorCode, bool) {
	if err == nil {
		return ErrorCode{}, false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return ErrorCode{Dialect: DialectPostgres, Value: pgErr.Code}, true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return ErrorCode{Dialect: DialectPostgres, Value: string(pqErr.Code)}, true
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return ErrorCode{Dialect: DialectMySQL, Value: strconv.FormatUint(uint64(myErr.Number), 10)}, true
	}

	var msErr mssql.Error
	if errors.As(err, &msErr) {
		return ErrorCode{Dialect: DialectMSSQL, Value: strconv.FormatInt(int64(msErr.Number), 10)}, true
	}

	return ErrorCode{}, false
}

// MySQL error numbers relevant to retry.
const (
	MySQLDeadlock          = "1213"
	MySQLLockWaitTimeout   = "1205"
	MySQLDuplicateEntry    = "1062"
	MySQLDuplicateEntryKey = "1586"
)

// MSSQL error numbers relevant to retry.
const (
	MSSQLDeadlockVictim       = "1205"
	MSSQLSnapshotConflict     = "3960"
	MSSQLUniqueConstraint     = "2627"
	MSSQLDuplicateUniqueIndex = "2601"
)

// Classifier recognises the error codes of every supported driver and
// defers to Fallback for errors without one. The zero value falls back to
// txscope.DefaultClassifier.
type Classifier struct {
	Fallback txscope.Classifier
}

var _ txscope.Classifier = Classifier{}

func (c Classifier) Classify(err error) txscope.Classification {
	code, ok := Code(err)
	if !ok {
		if c.Fallback != nil {
			return c.Fallback.Classify(err)
		}

		return txscope.DefaultClassifier{}.Classify(err)
	}

	class := classifyCode(code)
	class.Err = err

	return class
}

func classifyCode(code ErrorCode) txscope.Classification {
	switch code.Dialect {
	case DialectPostgres:
		return txscope.ClassifySQLState(code.Value)
	case DialectMySQL:
		return classifyTable(code.Value, mysqlTable)
	case DialectMSSQL:
		return classifyTable(code.Value, mssqlTable)
	default:
		return txscope.Classification{Outcome: txscope.OutcomeFatal, Code: code.Value}
	}
}

type entry struct {
	outcome txscope.Outcome
	kind    txscope.ConflictKind
}

var mysqlTable = map[string]entry{
	MySQLDeadlock:          {txscope.OutcomeRetryable, txscope.ConflictDeadlock},
	MySQLLockWaitTimeout:   {txscope.OutcomeRetryable, txscope.ConflictDeadlock},
	MySQLDuplicateEntry:    {txscope.OutcomeUniqueViolation, txscope.ConflictUnique},
	MySQLDuplicateEntryKey: {txscope.OutcomeUniqueViolation, txscope.ConflictUnique},
}

var mssqlTable = map[string]entry{
	MSSQLDeadlockVictim:       {txscope.OutcomeRetryable, txscope.ConflictDeadlock},
	MSSQLSnapshotConflict:     {txscope.OutcomeRetryable, txscope.ConflictSerialization},
	MSSQLUniqueConstraint:     {txscope.OutcomeUniqueViolation, txscope.ConflictUnique},
	MSSQLDuplicateUniqueIndex: {txscope.OutcomeUniqueViolation, txscope.ConflictUnique},
}

func classifyTable(value string, table map[string]entry) txscope.Classification {
	e, ok := table[value]
	if !ok {
		return txscope.Classification{Outcome: txscope.OutcomeFatal, Code: value}
	}

	return txscope.Classification{Outcome: e.outcome, Kind: e.kind, Code: value}
}
