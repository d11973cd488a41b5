package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/LerianStudio/lib-txscope/txscope"
	"github.com/LerianStudio/lib-txscope/txscope/internal/nilcheck"
	"github.com/LerianStudio/lib-txscope/txscope/log"
)

// errRollbackStatus makes the coordinator roll back a request whose handler
// succeeded but left an error status.
var errRollbackStatus = errors.New("txscope/http: response status requires rollback")

// ErrorResponse is the body written when the transaction, not the handler,
// decides the outcome of a request.
type ErrorResponse struct {
	Code    string `json:"code"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

func writeError(c *fiber.Ctx, status int, title, message string) error {
	return c.Status(status).JSON(ErrorResponse{
		Code:    strconv.Itoa(status),
		Title:   title,
		Message: message,
	})
}

// WithTransaction runs the rest of the handler chain inside a root
// transaction. The transaction commits when the chain returns nil with a
// status below the rollback status and rolls back otherwise.
//
// A Fiber handler chain cannot be replayed, so conflicts are not retried:
// they are answered with 409 Conflict for the client to retry.
func WithTransaction(m txscope.Manager, opts ...Option) fiber.Handler {
	mid := buildOpts(opts...)

	return func(c *fiber.Ctx) error {
		if nilcheck.Interface(m) || mid.skipped(c.Path()) {
			return c.Next()
		}

		var (
			handlerErr error
			ran        bool
		)

		parent := c.UserContext()
		txOpts := mid.txOptions(mid.readOnly(c.Method()), txscope.WithMaxRetries(0))

		err := m.Transaction(parent, func(ctx context.Context, _ txscope.Handle) error {
			ran = true

			c.SetUserContext(ctx)
			defer c.SetUserContext(parent)

			handlerErr = c.Next()
			if handlerErr != nil {
				return handlerErr
			}

			if c.Response().StatusCode() >= mid.rollbackStatus {
				return errRollbackStatus
			}

			return nil
		}, txOpts...)

		if err == nil {
			return nil
		}

		if errors.Is(err, errRollbackStatus) {
			mid.logger.Log(parent, log.LevelDebug, "rolled back request after error status",
				log.String("path", c.Path()), log.Int("status", c.Response().StatusCode()))

			return nil
		}

		class := mid.classifier.Classify(err)

		switch {
		case class.Outcome == txscope.OutcomeUniqueViolation || errors.Is(err, txscope.ErrUniqueConstraintViolation):
			mid.logger.Log(parent, log.LevelWarn, "request rolled back on unique constraint violation", log.String("path", c.Path()))
			return writeError(c, http.StatusConflict, "unique_violation", "the resource conflicts with an existing one")
		case class.Retryable():
			mid.logger.Log(parent, log.LevelWarn, "request rolled back on concurrency conflict",
				log.String("path", c.Path()), log.String("conflict", class.Kind.String()))

			return writeError(c, http.StatusConflict, "concurrency_conflict", "the request conflicted with a concurrent update, retry it")
		case handlerErr != nil:
			return handlerErr
		case !ran:
			mid.logger.Log(parent, log.LevelError, "failed to start request transaction", log.String("path", c.Path()), log.Err(err))
			return writeError(c, http.StatusServiceUnavailable, "service_unavailable", "service unavailable")
		default:
			mid.logger.Log(parent, log.LevelError, "failed to commit request transaction", log.String("path", c.Path()), log.Err(err))
			return writeError(c, http.StatusInternalServerError, "transaction_failed", "internal server error")
		}
	}
}
