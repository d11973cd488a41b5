//go:build unit

package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/LerianStudio/lib-txscope/txscope"
)

type sqlStateError struct{ code string }

func (e sqlStateError) Error() string    { return "sqlstate " + e.code }
func (e sqlStateError) SQLState() string { return e.code }

type countingHandle struct {
	driver *countingDriver
}

func (h countingHandle) Commit(context.Context) error {
	h.driver.mu.Lock()
	defer h.driver.mu.Unlock()

	h.driver.commits++

	return h.driver.commitErr
}

func (h countingHandle) Rollback(context.Context, error) error {
	h.driver.mu.Lock()
	defer h.driver.mu.Unlock()

	h.driver.rollbacks++

	return nil
}

type countingDriver struct {
	mu        sync.Mutex
	begins    int
	commits   int
	rollbacks int
	readOnly  []bool
	beginErr  error
	commitErr error
}

func (d *countingDriver) Begin(_ context.Context, opts txscope.TxOptions) (txscope.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.begins++
	d.readOnly = append(d.readOnly, opts.ReadOnly)

	if d.beginErr != nil {
		return nil, d.beginErr
	}

	return countingHandle{driver: d}, nil
}

func (d *countingDriver) counts() (begins, commits, rollbacks int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.begins, d.commits, d.rollbacks
}

func newCoordinator(t *testing.T, d *countingDriver) *txscope.Coordinator {
	t.Helper()

	c, err := txscope.NewCoordinator(d, txscope.WithConfig(txscope.Config{MaxRetries: 2}))
	require.NoError(t, err)

	return c
}

func decodeError(t *testing.T, resp *http.Response) ErrorResponse {
	t.Helper()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var out ErrorResponse
	require.NoError(t, json.Unmarshal(body, &out))

	return out
}

func newRequest(method, path string) *http.Request {
	return httptest.NewRequest(method, path, nil)
}

var errBoom = errors.New("boom")
