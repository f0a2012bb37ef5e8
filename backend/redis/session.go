package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ggoodman/rtconn-go/auth"
	"github.com/ggoodman/rtconn-go/backend"
	"github.com/ggoodman/rtconn-go/internal/dispatchq"
	goredis "github.com/redis/go-redis/v9"
)

type session struct {
	b        *Backend
	id       string
	identity string
	ns       string

	// sync serializes snapshot reads and diffing; queue runs handlers.
	sync  *dispatchq.Queue
	queue *dispatchq.Queue

	online    atomic.Bool
	destroyed atomic.Bool

	mu        sync.Mutex
	ps        *goredis.PubSub
	listeners map[*listener]struct{}
	user      auth.UserInfo
}

// listener is a single Subscribe call.
type listener struct {
	ref     *reference
	kind    backend.EventKind
	handler backend.Handler

	// touched only from the sync queue
	last   any
	primed bool

	active atomic.Bool
}

func (s *session) Authenticate(ctx context.Context, token string) error {
	if s.destroyed.Load() {
		return backend.ErrDestroyed
	}
	var user auth.UserInfo = auth.StaticUser(s.identity)
	if s.b.authn != nil {
		ui, err := s.b.authn.CheckAuthentication(ctx, token)
		if err != nil {
			return err
		}
		user = ui
	}
	s.mu.Lock()
	s.user = user
	s.mu.Unlock()
	return nil
}

// User returns the principal established by Authenticate, or nil.
func (s *session) User() auth.UserInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

func (s *session) Ref(path string) backend.Reference {
	return &reference{sess: s, segs: backend.SplitPath(path), att: &attachments{}}
}

// GoOnline re-establishes the change subscription and catches every listener
// up. When already online it checks the connection with PING.
func (s *session) GoOnline(ctx context.Context) (any, error) {
	if s.destroyed.Load() {
		return nil, backend.ErrDestroyed
	}
	if s.online.Load() {
		if err := s.b.client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		return nil, nil
	}
	if err := s.subscribe(ctx); err != nil {
		return nil, err
	}
	s.online.Store(true)
	s.mu.Lock()
	for l := range s.listeners {
		s.schedule(l)
	}
	s.mu.Unlock()
	return nil, nil
}

func (s *session) GoOffline() {
	if s.destroyed.Load() {
		return
	}
	s.online.Store(false)
	s.unsubscribe()
}

func (s *session) Destroy(ctx context.Context) error {
	if s.destroyed.Swap(true) {
		return nil
	}
	s.online.Store(false)
	s.unsubscribe()
	s.mu.Lock()
	for l := range s.listeners {
		l.active.Store(false)
	}
	s.listeners = map[*listener]struct{}{}
	s.mu.Unlock()
	s.sync.Close()
	s.queue.Close()
	s.b.log.Debug("redis session destroyed", slog.String("identity", s.identity), slog.String("session_id", s.id))
	return nil
}

// subscribe opens the Pub/Sub subscription and waits for its confirmation so
// that no write committed after it returns goes unnoticed.
func (s *session) subscribe(ctx context.Context) error {
	ps := s.b.client.Subscribe(ctx, s.b.changesKey(s.ns))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}
	s.mu.Lock()
	old := s.ps
	s.ps = ps
	s.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	go s.consume(ps.Channel())
	return nil
}

func (s *session) unsubscribe() {
	s.mu.Lock()
	ps := s.ps
	s.ps = nil
	s.mu.Unlock()
	if ps != nil {
		// Best-effort close; the consumer exits when the channel closes.
		_ = ps.Close()
	}
}

// consume turns change notifications into refreshes of related listeners.
func (s *session) consume(ch <-chan *goredis.Message) {
	for msg := range ch {
		segs := backend.SplitPath(msg.Payload)
		s.mu.Lock()
		for l := range s.listeners {
			if backend.Related(l.ref.segs, segs) {
				s.schedule(l)
			}
		}
		s.mu.Unlock()
	}
}

func (s *session) attach(l *listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l.active.Store(true)
	s.listeners[l] = struct{}{}
	if s.online.Load() {
		s.schedule(l)
	}
}

func (s *session) detach(l *listener) {
	l.active.Store(false)
	s.mu.Lock()
	delete(s.listeners, l)
	s.mu.Unlock()
}

func (s *session) schedule(l *listener) {
	s.sync.Push(func() { s.refresh(l) })
}

// refresh reads the location observed by l and delivers what changed since
// its last snapshot. It runs on the sync queue only.
func (s *session) refresh(l *listener) {
	if !l.active.Load() || !s.online.Load() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()
	root, err := s.b.read(ctx, s.ns)
	if err != nil {
		s.b.log.Warn("redis refresh failed",
			slog.String("session_id", s.id),
			slog.String("path", l.ref.Path()),
			slog.String("err", err.Error()))
		return
	}
	cur := backend.Lookup(root, l.ref.segs)
	var changes []backend.Change
	if l.primed {
		changes = l.ref.query.Diff(l.kind, l.ref.Key(), l.last, cur)
	} else {
		changes = l.ref.query.Initial(l.kind, l.ref.Key(), cur)
		l.primed = true
	}
	l.last = cur
	for _, c := range changes {
		ev := backend.Event{Kind: c.Kind, Key: c.Key, Value: c.Value, Ref: l.ref.eventRef(c)}
		s.queue.Push(func() {
			if !l.active.Load() || !s.online.Load() {
				return
			}
			l.handler(ev)
		})
	}
}

// usable reports why reads and writes are rejected, if they are.
func (s *session) usable() error {
	if s.destroyed.Load() {
		return backend.ErrDestroyed
	}
	if !s.online.Load() {
		return backend.ErrOffline
	}
	return nil
}

var _ backend.Session = (*session)(nil)
