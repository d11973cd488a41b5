// Package txscope coordinates database transactions across arbitrarily deep
// call chains without threading a transaction handle through every signature.
//
// The outermost Transaction call in a call tree is the root: it begins a
// physical transaction, binds it to the context it passes down and owns the
// commit or rollback. Nested calls that receive a derived context join the
// same handle as participants. A participant failure is returned to its
// caller and also recorded on the shared state, where it can veto the root's
// commit. Roots retry retryable failures (serialization conflicts, deadlocks,
// uniqueness races) a bounded number of times with linear jittered backoff.
//
// Typical usage:
//
//	coord, err := txscope.NewCoordinator(driver, txscope.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//
//	err = coord.Transaction(ctx, func(ctx context.Context, h txscope.Handle) error {
//		if err := accounts.Debit(ctx, from, amount); err != nil {
//			return err
//		}
//
//		return accounts.Credit(ctx, to, amount)
//	})
//
// Debit and Credit call coord.Transaction themselves and transparently join
// the outer transaction.
package txscope
