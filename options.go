package rtconn

import (
	"log/slog"

	"github.com/ggoodman/rtconn-go/backend"
	"github.com/ggoodman/rtconn-go/internal/logctx"
)

// Option customizes a Service.
type Option func(*Service)

// ErrorReporter receives callback failures.
type ErrorReporter func(*CallbackError)

// WithIdentity sets the identity passed to Backend.Initialize. It defaults to
// a random UUID.
func WithIdentity(id string) Option {
	return func(s *Service) {
		if id != "" {
			s.identity = id
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = slog.New(logctx.Handler{Handler: l.Handler()})
		}
	}
}

// WithLogHandler builds the logger from h.
func WithLogHandler(h slog.Handler) Option {
	return func(s *Service) {
		if h != nil {
			s.log = slog.New(logctx.Handler{Handler: h})
		}
	}
}

// WithErrorReporter installs the sink for callback failures. By default they
// are logged at error level.
func WithErrorReporter(fn ErrorReporter) Option {
	return func(s *Service) {
		if fn != nil {
			s.report = fn
		}
	}
}

// QueryOption decorates the reference a Listener observes.
type QueryOption func(*query)

type query struct {
	orderBy  string
	hasOrder bool
	startAt  any
	hasStart bool
}

// OrderBy orders children by the value of their child field.
func OrderBy(field string) QueryOption {
	return func(q *query) {
		q.orderBy = field
		q.hasOrder = true
	}
}

// OrderByKey orders children by key.
func OrderByKey() QueryOption { return OrderBy(backend.OrderByKeyField) }

// OrderByValue orders children by their own value.
func OrderByValue() QueryOption { return OrderBy(backend.OrderByValueField) }

// StartAt admits only children whose ordering value is at or after v.
func StartAt(v any) QueryOption {
	return func(q *query) {
		q.startAt = v
		q.hasStart = true
	}
}

func newQuery(opts []QueryOption) query {
	var q query
	for _, opt := range opts {
		if opt != nil {
			opt(&q)
		}
	}
	return q
}

func (q query) apply(ref backend.Reference) backend.Reference {
	if q.hasOrder {
		ref = ref.OrderByChild(q.orderBy)
	}
	if q.hasStart {
		ref = ref.StartAt(q.startAt)
	}
	return ref
}
