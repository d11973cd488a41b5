package txscope

import (
	"context"
	"fmt"
)

// Scope binds a logical namespace to whatever handle is active. Inside a
// transaction every call runs on the exact handle the enclosing work
// received; outside one a call opens its own single-operation root.
type Scope[Q any] struct {
	manager Manager
	name    string
}

// NewScope returns a facade issuing statements in namespace name through m.
func NewScope[Q any](m Manager, name string) *Scope[Q] {
	return &Scope[Q]{manager: m, name: name}
}

// Name returns the bound namespace.
func (s *Scope[Q]) Name() string {
	return s.name
}

func (s *Scope[Q]) bind(h Handle) (Q, error) {
	var zero Q

	ns, ok := h.(Namespacer[Q])
	if !ok {
		return zero, fmt.Errorf("%w: %T", ErrNamespaceUnsupported, h)
	}

	return ns.WithNamespace(s.name), nil
}

func (s *Scope[Q]) wrap(fn func(ctx context.Context, q Q) error) Work {
	return func(ctx context.Context, h Handle) error {
		q, err := s.bind(h)
		if err != nil {
			return err
		}

		return fn(ctx, q)
	}
}

// Transaction runs fn inside a transaction with a namespaced querier.
func (s *Scope[Q]) Transaction(ctx context.Context, fn func(ctx context.Context, q Q) error, opts ...TxOption) error {
	if s == nil || s.manager == nil {
		return ErrManagerRequired
	}

	if fn == nil {
		return ErrWorkRequired
	}

	return s.manager.Transaction(ctx, s.wrap(fn), opts...)
}

// Read is the namespaced form of Manager.Read.
func (s *Scope[Q]) Read(ctx context.Context, fn func(ctx context.Context, q Q) error, opts ...TxOption) error {
	if s == nil || s.manager == nil {
		return ErrManagerRequired
	}

	if fn == nil {
		return ErrWorkRequired
	}

	return s.manager.Read(ctx, s.wrap(fn), opts...)
}

// ReadDirect is the namespaced form of Manager.ReadDirect.
func (s *Scope[Q]) ReadDirect(ctx context.Context, fn func(ctx context.Context, q Q) error) error {
	if s == nil || s.manager == nil {
		return ErrManagerRequired
	}

	if fn == nil {
		return ErrWorkRequired
	}

	return s.manager.ReadDirect(ctx, s.wrap(fn))
}

// Do runs a single operation. Inside a transaction it uses the active
// handle directly; outside one it opens a single-operation root rather than
// executing unguarded.
func (s *Scope[Q]) Do(ctx context.Context, fn func(ctx context.Context, q Q) error) error {
	if s == nil || s.manager == nil {
		return ErrManagerRequired
	}

	if fn == nil {
		return ErrWorkRequired
	}

	if h, ok := Current(ctx); ok {
		return s.wrap(fn)(ctx, h)
	}

	return s.manager.Transaction(ctx, s.wrap(fn))
}
