package sqldb

import "errors"

var (
	ErrSourceRequired    = errors.New("sqldb: source is required")
	ErrHandleReleased    = errors.New("sqldb: handle already released")
	ErrInvalidIdentifier = errors.New("sqldb: invalid namespace identifier")
	ErrNoReplica         = errors.New("sqldb: no database available for direct reads")
)
