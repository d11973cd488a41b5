// Package sqldb adapts database/sql to the txscope driver contract.
//
// A Driver begins *sql.Tx-backed handles for roots and, for ReadDirect,
// hands out pooled connections outside any transaction. Handles implement
// txscope.Namespacer[Querier]: a namespaced querier switches the session's
// search_path before each statement, under a per-handle lock so concurrent
// participants cannot interleave between the switch and their statement.
//
// Schema is the query facade most repositories use:
//
//	ledger := sqldb.NewSchema(coord, "ledger")
//
//	err := ledger.Transaction(ctx, func(ctx context.Context, q sqldb.Querier) error {
//		_, err := q.ExecContext(ctx, "UPDATE accounts SET balance = balance - $1 WHERE id = $2", amount, id)
//		return err
//	})
package sqldb
