package txscope

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

type stateKey struct{}

// txState is the ambient state shared by a root attempt and every
// participant in its call tree.
type txState struct {
	ready chan struct{}

	mu       sync.Mutex
	open     bool
	handle   Handle
	beginErr error
	deferred error

	participants atomic.Int32
	retries      int
	attemptID    uuid.UUID
	opts         TxOptions
}

func newState(retries int, opts TxOptions) *txState {
	return &txState{
		ready:     make(chan struct{}),
		open:      true,
		retries:   retries,
		attemptID: uuid.New(),
		opts:      opts,
	}
}

// activate publishes the acquired handle, or the acquisition error, to
// participants waiting on ready.
func (st *txState) activate(h Handle, err error) {
	st.mu.Lock()
	st.handle = h
	st.beginErr = err

	if err != nil {
		st.open = false
	}
	st.mu.Unlock()

	close(st.ready)
}

// joinable reports whether the state still has a pending or active handle.
func (st *txState) joinable() bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	return st.open
}

// wait blocks until the handle is acquired.
func (st *txState) wait(ctx context.Context) (Handle, error) {
	select {
	case <-st.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.beginErr != nil {
		return nil, st.beginErr
	}

	if !st.open {
		return nil, ErrNilHandle
	}

	return st.handle, nil
}

func (st *txState) setDeferred(err error) {
	st.mu.Lock()
	st.deferred = err
	st.mu.Unlock()
}

func (st *txState) deferredErr() error {
	st.mu.Lock()
	defer st.mu.Unlock()

	return st.deferred
}

// clear detaches the handle once the attempt is resolved. A context that
// outlives its root then classifies as a new root.
func (st *txState) clear() {
	st.mu.Lock()
	st.open = false
	st.handle = nil
	st.mu.Unlock()
}

func current(ctx context.Context) (*txState, bool) {
	if ctx == nil {
		return nil, false
	}

	st, ok := ctx.Value(stateKey{}).(*txState)

	return st, ok && st != nil
}

func bind(ctx context.Context, st *txState) context.Context {
	return context.WithValue(ctx, stateKey{}, st)
}

// Current returns the handle of the transaction bound to ctx, if any.
func Current(ctx context.Context) (Handle, bool) {
	st, ok := current(ctx)
	if !ok {
		return nil, false
	}

	select {
	case <-st.ready:
	default:
		return nil, false
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.open || st.handle == nil {
		return nil, false
	}

	return st.handle, true
}

// InTransaction reports whether ctx carries an open transaction.
func InTransaction(ctx context.Context) bool {
	st, ok := current(ctx)

	return ok && st.joinable()
}

// AttemptID returns the correlation id of the root attempt bound to ctx.
func AttemptID(ctx context.Context) (uuid.UUID, bool) {
	st, ok := current(ctx)
	if !ok {
		return uuid.Nil, false
	}

	return st.attemptID, true
}
