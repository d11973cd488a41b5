package txscope

import "context"

// Handle is one physical begin..commit/rollback cycle. The coordinator
// releases each handle exactly once and never reuses it across retries.
type Handle interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context, cause error) error
}

// Driver begins physical transactions.
type Driver interface {
	Begin(ctx context.Context, opts TxOptions) (Handle, error)
}

// DirectDriver is a Driver that can also hand out non-transactional handles
// for ReadDirect. Commit and Rollback on a direct handle only release it.
type DirectDriver interface {
	Driver
	Direct(ctx context.Context) (Handle, error)
}

// Namespacer is implemented by handles that can scope statements to a
// logical namespace, such as a Postgres schema.
type Namespacer[Q any] interface {
	WithNamespace(name string) Q
}
