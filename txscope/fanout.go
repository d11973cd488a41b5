package txscope

import (
	"context"

	"github.com/LerianStudio/lib-txscope/txscope/errgroup"
	"github.com/LerianStudio/lib-txscope/txscope/log"
)

// All runs works concurrently as participants of one transaction and
// returns their results in invocation order. Inside an ambient transaction
// it joins it; otherwise it opens a root first. The participants share one
// handle, so only the logic around their statements runs in parallel.
//
// The first failure cancels the context passed to the remaining works and
// is recorded on the transaction, failing the root.
func All[T any](ctx context.Context, m Manager, works ...func(ctx context.Context, h Handle) (T, error)) ([]T, error) {
	if m == nil {
		return nil, ErrManagerRequired
	}

	for _, w := range works {
		if w == nil {
			return nil, ErrWorkRequired
		}
	}

	return Transaction(ctx, m, func(ctx context.Context, _ Handle) ([]T, error) {
		results := make([]T, len(works))
		group, groupCtx := errgroup.WithContext(ctx, loggerOf(m))

		for i, w := range works {
			group.Go(func() error {
				return m.Transaction(groupCtx, func(ctx context.Context, h Handle) error {
					v, err := w(ctx, h)
					if err != nil {
						return err
					}

					results[i] = v

					return nil
				})
			})
		}

		if err := group.Wait(); err != nil {
			return nil, err
		}

		return results, nil
	})
}

func loggerOf(m Manager) log.Logger {
	if c, ok := m.(*Coordinator); ok && c != nil {
		return c.logger
	}

	return nil
}
