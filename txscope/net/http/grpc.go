package http

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/LerianStudio/lib-txscope/txscope"
	"github.com/LerianStudio/lib-txscope/txscope/internal/nilcheck"
	"github.com/LerianStudio/lib-txscope/txscope/log"
)

// WithGrpcTransaction is a gRPC unary interceptor running each call inside
// a root transaction. Unary handlers are plain functions, so conflicts are
// retried by the manager; a conflict that survives every retry is reported
// as Aborted and a unique violation as AlreadyExists.
func WithGrpcTransaction(m txscope.Manager, opts ...Option) grpc.UnaryServerInterceptor {
	mid := buildOpts(opts...)

	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		if nilcheck.Interface(m) || mid.skipped(info.FullMethod) {
			return handler(ctx, req)
		}

		var resp any

		txOpts := mid.txOptions(mid.readOnly(info.FullMethod))

		err := m.Transaction(ctx, func(ctx context.Context, _ txscope.Handle) error {
			var err error

			resp, err = handler(ctx, req)

			return err
		}, txOpts...)
		if err == nil {
			return resp, nil
		}

		if _, ok := status.FromError(err); ok {
			return nil, err
		}

		class := mid.classifier.Classify(err)

		switch {
		case class.Outcome == txscope.OutcomeUniqueViolation || errors.Is(err, txscope.ErrUniqueConstraintViolation):
			mid.logger.Log(ctx, log.LevelWarn, "call rolled back on unique constraint violation", log.String("method", info.FullMethod))
			return nil, status.Error(codes.AlreadyExists, "the resource conflicts with an existing one")
		case class.Retryable():
			mid.logger.Log(ctx, log.LevelWarn, "call rolled back on concurrency conflict",
				log.String("method", info.FullMethod), log.String("conflict", class.Kind.String()))

			return nil, status.Error(codes.Aborted, "the call conflicted with a concurrent update, retry it")
		case class.DatabaseOriginated():
			mid.logger.Log(ctx, log.LevelError, "call rolled back on database error", log.String("method", info.FullMethod), log.Err(err))
			return nil, status.Error(codes.Internal, "internal error")
		default:
			return nil, err
		}
	}
}
