package txscope

import "context"

// Manager is the transaction surface application code depends on.
// *Coordinator implements it against a database; NoopManager implements it
// against a fixed handle for tests.
type Manager interface {
	Transaction(ctx context.Context, work Work, opts ...TxOption) error
	Read(ctx context.Context, work Work, opts ...TxOption) error
	ReadDirect(ctx context.Context, work Work) error
}

// Transaction is the generic form of Manager.Transaction. The result of
// the last successful attempt is returned.
func Transaction[T any](ctx context.Context, m Manager, fn func(ctx context.Context, h Handle) (T, error), opts ...TxOption) (T, error) {
	var zero T

	if m == nil {
		return zero, ErrManagerRequired
	}

	if fn == nil {
		return zero, ErrWorkRequired
	}

	var result T

	err := m.Transaction(ctx, func(ctx context.Context, h Handle) error {
		v, err := fn(ctx, h)
		if err != nil {
			return err
		}

		result = v

		return nil
	}, opts...)
	if err != nil {
		return zero, err
	}

	return result, nil
}

// Transactional wraps fn so every call runs inside m.Transaction.
//
//	createOrder := txscope.Transactional(coord, repo.CreateOrder)
//	order, err := createOrder(ctx, input)
func Transactional[In, Out any](m Manager, fn func(ctx context.Context, in In) (Out, error), opts ...TxOption) func(ctx context.Context, in In) (Out, error) {
	return func(ctx context.Context, in In) (Out, error) {
		var zero Out

		if fn == nil {
			return zero, ErrWorkRequired
		}

		return Transaction(ctx, m, func(ctx context.Context, _ Handle) (Out, error) {
			return fn(ctx, in)
		}, opts...)
	}
}

// NoopManager runs every unit of work against Handle without beginning,
// committing or retrying. The handle is still bound to the context, so
// Current and Scope behave as they would inside a real transaction.
// Independent calls get a root state of their own, with a fresh AttemptID.
type NoopManager struct {
	Handle Handle
}

var _ Manager = NoopManager{}

func (m NoopManager) Transaction(ctx context.Context, work Work, opts ...TxOption) error {
	if work == nil {
		return ErrWorkRequired
	}

	if ctx == nil {
		ctx = context.Background()
	}

	o := resolveTxOptions(opts)

	if st, ok := current(ctx); ok && st.joinable() && !o.independent {
		h, err := st.wait(ctx)
		if err != nil {
			return err
		}

		return work(ctx, h)
	}

	st := newState(0, o.tx)
	st.activate(m.Handle, nil)

	defer st.clear()

	return work(bind(ctx, st), m.Handle)
}

func (m NoopManager) Read(ctx context.Context, work Work, opts ...TxOption) error {
	return m.Transaction(ctx, work, opts...)
}

func (m NoopManager) ReadDirect(ctx context.Context, work Work) error {
	return m.Transaction(ctx, work)
}
