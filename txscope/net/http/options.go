package http

import (
	"net/http"

	"github.com/LerianStudio/lib-txscope/txscope"
	"github.com/LerianStudio/lib-txscope/txscope/internal/nilcheck"
	"github.com/LerianStudio/lib-txscope/txscope/log"
)

type middleware struct {
	logger         log.Logger
	classifier     txscope.Classifier
	txOpts         []txscope.TxOption
	skip           map[string]struct{}
	readOnly       func(method string) bool
	rollbackStatus int
}

// Option configures WithTransaction and WithGrpcTransaction.
type Option func(m *middleware)

// WithLogger sets the logger used to report rolled back requests.
func WithLogger(logger log.Logger) Option {
	return func(m *middleware) {
		if !nilcheck.Interface(logger) {
			m.logger = logger
		}
	}
}

// WithClassifier sets the classifier used to map failed transactions to
// response codes. It should match the coordinator's classifier.
func WithClassifier(classifier txscope.Classifier) Option {
	return func(m *middleware) {
		if !nilcheck.Interface(classifier) {
			m.classifier = classifier
		}
	}
}

// WithTxOptions adds options to every transaction the middleware starts.
func WithTxOptions(opts ...txscope.TxOption) Option {
	return func(m *middleware) {
		m.txOpts = append(m.txOpts, opts...)
	}
}

// WithSkip lists HTTP paths or gRPC full method names that run without a
// transaction.
func WithSkip(names ...string) Option {
	return func(m *middleware) {
		for _, name := range names {
			m.skip[name] = struct{}{}
		}
	}
}

// WithReadOnly decides per HTTP method or gRPC full method name whether the
// request runs in a read-only transaction. By default GET, HEAD and OPTIONS
// requests are read-only and every gRPC method is read-write.
func WithReadOnly(readOnly func(method string) bool) Option {
	return func(m *middleware) {
		if readOnly != nil {
			m.readOnly = readOnly
		}
	}
}

// WithRollbackStatus rolls the transaction back when the handler leaves a
// response status at or above status. The default is 500.
func WithRollbackStatus(status int) Option {
	return func(m *middleware) {
		if status > 0 {
			m.rollbackStatus = status
		}
	}
}

func buildOpts(opts ...Option) *middleware {
	mid := &middleware{
		logger:         log.NewNop(),
		classifier:     txscope.DefaultClassifier{},
		skip:           map[string]struct{}{"/health": {}},
		readOnly:       safeHTTPMethod,
		rollbackStatus: http.StatusInternalServerError,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(mid)
		}
	}

	mid.logger = mid.logger.With(log.String("component", "txscope.http"))

	return mid
}

func safeHTTPMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

func (m *middleware) skipped(name string) bool {
	_, ok := m.skip[name]
	return ok
}

// txOptions returns the options for one request. extra is appended last.
func (m *middleware) txOptions(readOnly bool, extra ...txscope.TxOption) []txscope.TxOption {
	opts := make([]txscope.TxOption, 0, len(m.txOpts)+len(extra)+1)
	if readOnly {
		opts = append(opts, txscope.ReadOnly())
	}

	opts = append(opts, m.txOpts...)

	return append(opts, extra...)
}
