package memory

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ggoodman/rtconn-go/auth"
	"github.com/ggoodman/rtconn-go/backend"
	"github.com/ggoodman/rtconn-go/internal/dispatchq"
)

type session struct {
	b        *Backend
	id       string
	identity string
	tree     *tree
	queue    *dispatchq.Queue

	online    atomic.Bool
	destroyed atomic.Bool

	mu   sync.Mutex
	user auth.UserInfo
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
	s.b.authenticated.Add(1)
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

func (s *session) GoOnline(ctx context.Context) (any, error) {
	if s.destroyed.Load() {
		return nil, backend.ErrDestroyed
	}
	s.b.wentOnline.Add(1)
	if !s.online.Swap(true) {
		s.tree.resync(s)
	}
	return nil, nil
}

func (s *session) GoOffline() {
	if s.destroyed.Load() {
		return
	}
	s.b.wentOffline.Add(1)
	s.online.Store(false)
}

func (s *session) Destroy(ctx context.Context) error {
	if s.destroyed.Swap(true) {
		return nil
	}
	s.online.Store(false)
	s.tree.detachSession(s)
	s.queue.Close()
	s.b.destroyed.Add(1)
	s.b.log.Debug("memory session destroyed", slog.String("identity", s.identity), slog.String("session_id", s.id))
	return nil
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
