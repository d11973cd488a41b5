//go:build unit

package txscope

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/LerianStudio/lib-txscope/txscope/log"
	"github.com/stretchr/testify/require"
)

// sqlStateError mimics a driver error exposing a Postgres SQLSTATE.
type sqlStateError struct {
	code string
}

func (e *sqlStateError) Error() string    { return fmt.Sprintf("sqlstate %s", e.code) }
func (e *sqlStateError) SQLState() string { return e.code }

func serializationFailure() error { return &sqlStateError{code: SQLStateSerializationFailure} }
func uniqueViolation() error      { return &sqlStateError{code: SQLStateUniqueViolation} }

type fakeHandle struct {
	id int

	mu            sync.Mutex
	commits       int
	rollbacks     int
	rollbackCause error
	commitErr     error
	rollbackErr   error
	settleCtxErr  error
	namespaces    []string
}

func (h *fakeHandle) Commit(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.commits++
	h.settleCtxErr = ctx.Err()

	return h.commitErr
}

func (h *fakeHandle) Rollback(ctx context.Context, cause error) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.rollbacks++
	h.rollbackCause = cause
	h.settleCtxErr = ctx.Err()

	return h.rollbackErr
}

// WithNamespace makes fakeHandle usable through Scope[namespaced].
func (h *fakeHandle) WithNamespace(name string) namespaced {
	h.mu.Lock()
	h.namespaces = append(h.namespaces, name)
	h.mu.Unlock()

	return namespaced{handle: h, name: name}
}

type namespaced struct {
	handle *fakeHandle
	name   string
}

type fakeDriver struct {
	mu          sync.Mutex
	begins      int
	handles     []*fakeHandle
	beginOpts   []TxOptions
	beginErrs   []error
	commitErrs  []error
	beginCtxErr []error
	nilHandle   bool
}

func (d *fakeDriver) Begin(ctx context.Context, opts TxOptions) (Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.begins++
	d.beginOpts = append(d.beginOpts, opts)
	d.beginCtxErr = append(d.beginCtxErr, ctx.Err())

	if len(d.beginErrs) > 0 {
		err := d.beginErrs[0]
		d.beginErrs = d.beginErrs[1:]

		if err != nil {
			return nil, err
		}
	}

	if d.nilHandle {
		return nil, nil
	}

	h := &fakeHandle{id: d.begins}

	if len(d.commitErrs) > 0 {
		h.commitErr = d.commitErrs[0]
		d.commitErrs = d.commitErrs[1:]
	}

	d.handles = append(d.handles, h)

	return h, nil
}

func (d *fakeDriver) beginCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.begins
}

func (d *fakeDriver) totals() (commits, rollbacks int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, h := range d.handles {
		h.mu.Lock()
		commits += h.commits
		rollbacks += h.rollbacks
		h.mu.Unlock()
	}

	return commits, rollbacks
}

type fakeDirectDriver struct {
	fakeDriver

	directs   int
	directErr error
	direct    []*fakeHandle
}

func (d *fakeDirectDriver) Direct(_ context.Context) (Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.directs++
	if d.directErr != nil {
		return nil, d.directErr
	}

	h := &fakeHandle{id: -d.directs}
	d.direct = append(d.direct, h)

	return h, nil
}

type delayRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *delayRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()

	return ctx.Err()
}

func (r *delayRecorder) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]time.Duration(nil), r.delays...)
}

// newTestCoordinator returns a coordinator whose backoff sleeps are recorded
// instead of waited.
func newTestCoordinator(t *testing.T, driver Driver, opts ...Option) (*Coordinator, *delayRecorder) {
	t.Helper()

	c, err := NewCoordinator(driver, opts...)
	require.NoError(t, err)

	recorder := &delayRecorder{}
	c.sleep = recorder.sleep

	return c, recorder
}

type loggedEvent struct {
	msg    string
	fields []log.Field
}

// recordingLogger keeps every event, including the fields bound with With.
type recordingLogger struct {
	mu     *sync.Mutex
	events *[]loggedEvent
	bound  []log.Field
}

func newRecordingLogger() recordingLogger {
	return recordingLogger{mu: &sync.Mutex{}, events: &[]loggedEvent{}}
}

func (l recordingLogger) Log(_ context.Context, _ log.Level, msg string, fields ...log.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()

	all := append(append([]log.Field{}, l.bound...), fields...)
	*l.events = append(*l.events, loggedEvent{msg: msg, fields: all})
}

func (l recordingLogger) With(fields ...log.Field) log.Logger {
	l.bound = append(append([]log.Field{}, l.bound...), fields...)
	return l
}

func (l recordingLogger) WithGroup(string) log.Logger { return l }

func (l recordingLogger) Enabled(log.Level) bool { return true }

func (l recordingLogger) Sync(context.Context) error { return nil }

func (l recordingLogger) find(msg string) (loggedEvent, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, e := range *l.events {
		if e.msg == msg {
			return e, true
		}
	}

	return loggedEvent{}, false
}
