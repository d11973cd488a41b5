package errgroup

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/LerianStudio/lib-txscope/txscope/log"
)

// ErrPanicRecovered matches every *PanicError.
var ErrPanicRecovered = errors.New("errgroup: panic recovered")

// PanicError is what Wait returns for a goroutine that panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("%s: %v", ErrPanicRecovered, e.Value)
}

func (e *PanicError) Is(target error) bool {
	return target == ErrPanicRecovered
}

// Group runs the participants of one fan-out. The zero value is usable and
// never cancels anything.
type Group struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
	logger log.Logger

	wg   sync.WaitGroup
	once sync.Once
	err  error
}

// WithContext returns a Group whose context is canceled with the first
// failure as its cause, so participants still running can report
// context.Cause(ctx) instead of a bare context.Canceled.
func WithContext(ctx context.Context, logger log.Logger) (*Group, context.Context) {
	ctx, cancel := context.WithCancelCause(ctx)

	if logger == nil {
		logger = log.NewNop()
	}

	return &Group{ctx: ctx, cancel: cancel, logger: logger}, ctx
}

// Go runs fn in its own goroutine.
func (grp *Group) Go(fn func() error) {
	grp.wg.Add(1)

	go func() {
		defer grp.wg.Done()

		if err := grp.run(fn); err != nil {
			grp.fail(err)
		}
	}()
}

func (grp *Group) run(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			perr := &PanicError{Value: r, Stack: debug.Stack()}
			grp.report(perr)
			err = perr
		}
	}()

	return fn()
}

func (grp *Group) fail(err error) {
	grp.once.Do(func() {
		grp.err = err

		if grp.cancel != nil {
			grp.cancel(err)
		}
	})
}

func (grp *Group) report(perr *PanicError) {
	if grp.logger == nil {
		return
	}

	ctx := grp.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	grp.logger.Log(ctx, log.LevelError, "participant panicked",
		log.Any("panic", perr.Value),
		log.String("stack", string(perr.Stack)),
	)
}

// Wait returns the first failure once every goroutine has returned.
func (grp *Group) Wait() error {
	grp.wg.Wait()

	if grp.cancel != nil {
		grp.cancel(grp.err)
	}

	return grp.err
}
