// Package memory provides an in-process implementation of backend.Backend.
// Sessions created from the same Backend share one data tree per namespace
// and observe each other's writes; state is local to the process, so this
// implementation suits tests and single-node deployments.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ggoodman/rtconn-go/auth"
	"github.com/ggoodman/rtconn-go/backend"
	"github.com/ggoodman/rtconn-go/internal/dispatchq"
	"github.com/google/uuid"
)

// Backend implements backend.Backend using in-memory trees.
type Backend struct {
	mu    sync.Mutex
	trees map[string]*tree

	authn auth.Authenticator
	now   func() time.Time
	log   *slog.Logger

	initialized   atomic.Int64
	authenticated atomic.Int64
	wentOnline    atomic.Int64
	wentOffline   atomic.Int64
	destroyed     atomic.Int64
}

// Option configures a Backend.
type Option func(*Backend)

// WithAuthenticator validates the tokens passed to Session.Authenticate.
// Without one every token is accepted.
func WithAuthenticator(a auth.Authenticator) Option {
	return func(b *Backend) { b.authn = a }
}

// WithClock overrides the clock used to resolve backend.ServerTimestamp.
func WithClock(now func() time.Time) Option {
	return func(b *Backend) {
		if now != nil {
			b.now = now
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Backend) {
		if l != nil {
			b.log = l
		}
	}
}

// New creates a new memory backend.
func New(opts ...Option) *Backend {
	b := &Backend{
		trees: make(map[string]*tree),
		now:   time.Now,
		log:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Stats counts calls that reached the backend.
type Stats struct {
	Initialized   int64
	Authenticated int64
	GoOnline      int64
	GoOffline     int64
	Destroyed     int64
}

// Stats returns the current counters.
func (b *Backend) Stats() Stats {
	return Stats{
		Initialized:   b.initialized.Load(),
		Authenticated: b.authenticated.Load(),
		GoOnline:      b.wentOnline.Load(),
		GoOffline:     b.wentOffline.Load(),
		Destroyed:     b.destroyed.Load(),
	}
}

// Initialize implements backend.Backend.Initialize. The returned session is
// online but not authenticated.
func (b *Backend) Initialize(ctx context.Context, cfg backend.Config, identity string) (backend.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := &session{
		b:        b,
		id:       uuid.NewString(),
		identity: identity,
		tree:     b.tree(cfg.NamespaceOrDefault()),
		queue:    dispatchq.New(),
	}
	s.online.Store(true)
	b.initialized.Add(1)
	b.log.Debug("memory session initialized", slog.String("identity", identity), slog.String("session_id", s.id))
	return s, nil
}

// Write stores v at path in namespace ns as if a session had written it.
func (b *Backend) Write(ns, path string, v any) error {
	n, err := backend.Normalize(v)
	if err != nil {
		return err
	}
	b.tree(ns).write(backend.SplitPath(path), backend.ResolveServerValues(n, b.now()))
	return nil
}

// Read returns the value at path in namespace ns.
func (b *Backend) Read(ns, path string) any {
	return backend.Copy(b.tree(ns).read(backend.SplitPath(path)))
}

func (b *Backend) tree(ns string) *tree {
	if ns == "" {
		ns = backend.Config{}.NamespaceOrDefault()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.trees[ns]
	if !ok {
		t = &tree{listeners: make(map[*listener]struct{})}
		b.trees[ns] = t
	}
	return t
}

var _ backend.Backend = (*Backend)(nil)
