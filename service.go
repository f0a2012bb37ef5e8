package rtconn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/ggoodman/rtconn-go/backend"
	"github.com/ggoodman/rtconn-go/internal/logctx"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// Service is one logical connection to a backend. It is safe for concurrent
// use. The zero value is not usable; construct with New.
type Service struct {
	b        backend.Backend
	identity string
	log      *slog.Logger
	report   ErrorReporter

	connects singleflight.Group

	mu    sync.Mutex
	state State
	epoch uint64
	// session is the committed session while CONNECTED, or while CONNECTING
	// during a resume.
	session backend.Session
	// pending holds the sessions of in-flight initial connects. Each is owned
	// by its attempt until it commits or Terminate takes it.
	pending map[*pendingSession]struct{}
	// idle is a session left offline by Disconnect. The next fresh connect or
	// Terminate destroys it.
	idle backend.Session
	// subs lists every reference a callback was attached through. References
	// need not be comparable; Unsubscribe tolerates repeats.
	subs []backend.Reference
}

type pendingSession struct {
	sess backend.Session
}

// New creates a Service in the UNINITIALIZED state.
func New(b backend.Backend, opts ...Option) *Service {
	s := &Service{
		b:        b,
		identity: uuid.NewString(),
		log:      slog.New(logctx.Handler{Handler: slog.DiscardHandler}),
		state:    StateUninitialized,
		pending:  make(map[*pendingSession]struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.report == nil {
		s.report = s.logCallbackError
	}
	return s
}

// Identity returns the identity the Service registers with the backend.
func (s *Service) Identity() string { return s.identity }

// State returns the current connection state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsConnected reports whether the Service is CONNECTED.
func (s *Service) IsConnected() bool { return s.State() == StateConnected }

// ActiveSubscriptions returns the number of attached callbacks.
func (s *Service) ActiveSubscriptions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Connect opens a session, or resumes the committed one when already
// connected, and returns the value reported by the backend's GoOnline (nil for
// a fresh session).
//
// Callers that arrive while an attempt is in flight share its outcome and
// its ctx. An attempt overtaken by Disconnect is not shared with callers
// that arrive afterwards. Authentication failures are returned as produced by
// the backend.
func (s *Service) Connect(ctx context.Context, cfg backend.Config, token string) (any, error) {
	s.mu.Lock()
	if s.state == StateTerminated {
		s.mu.Unlock()
		return nil, s.lifecycleError()
	}
	key := strconv.FormatUint(s.epoch, 10)
	s.mu.Unlock()
	if s.b == nil {
		return nil, errors.New("rtconn: nil backend")
	}

	v, err, _ := s.connects.Do(key, func() (any, error) {
		return s.connect(ctx, cfg, token)
	})
	return v, err
}

func (s *Service) connect(ctx context.Context, cfg backend.Config, token string) (any, error) {
	s.mu.Lock()
	switch s.state {
	case StateTerminated:
		s.mu.Unlock()
		return nil, s.lifecycleError()
	case StateConnected:
		return s.resumeLocked(ctx)
	}

	epoch := s.epoch
	idle := s.idle
	s.idle = nil
	s.state = StateConnecting
	s.mu.Unlock()

	log := s.log
	lctx := s.logContext(StateConnecting, epoch)
	log.DebugContext(lctx, "connecting", slog.String("namespace", cfg.NamespaceOrDefault()))

	if idle != nil {
		if err := idle.Destroy(context.WithoutCancel(ctx)); err != nil {
			log.WarnContext(lctx, "destroy idle session failed", slog.String("err", err.Error()))
		}
	}

	sess, err := s.b.Initialize(ctx, cfg, s.identity)
	s.mu.Lock()
	if s.epoch != epoch {
		aborted := s.abortErrLocked()
		s.mu.Unlock()
		if err == nil {
			s.release(ctx, lctx, sess)
		}
		return nil, aborted
	}
	if err != nil {
		s.state = StateUninitialized
		s.mu.Unlock()
		log.WarnContext(lctx, "initialize failed", slog.String("err", err.Error()))
		return nil, fmt.Errorf("initialize: %w", err)
	}
	p := &pendingSession{sess: sess}
	s.pending[p] = struct{}{}
	s.mu.Unlock()

	authErr := sess.Authenticate(ctx, token)

	s.mu.Lock()
	_, owned := s.pending[p]
	delete(s.pending, p)
	if s.epoch != epoch {
		aborted := s.abortErrLocked()
		s.mu.Unlock()
		if owned {
			s.release(ctx, lctx, sess)
		}
		return nil, aborted
	}
	if authErr != nil {
		s.state = StateUninitialized
		s.mu.Unlock()
		s.release(ctx, lctx, sess)
		log.InfoContext(lctx, "authentication failed", slog.String("err", authErr.Error()))
		return nil, authErr
	}
	s.session = sess
	s.state = StateConnected
	s.mu.Unlock()

	log.InfoContext(s.logContext(StateConnected, epoch), "connected")
	return nil, nil
}

// resumeLocked brings the committed session back online. s.mu is held on
// entry and released before GoOnline.
func (s *Service) resumeLocked(ctx context.Context) (any, error) {
	sess := s.session
	epoch := s.epoch
	s.state = StateConnecting
	s.mu.Unlock()

	v, err := sess.GoOnline(ctx)

	s.mu.Lock()
	if s.epoch != epoch {
		// A single Disconnect since GoOnline started parked sess as idle.
		// GoOnline may have brought it back; take it offline again.
		if s.state != StateTerminated && s.epoch == epoch+1 && s.idle != nil {
			s.idle.GoOffline()
		}
		aborted := s.abortErrLocked()
		s.mu.Unlock()
		return nil, aborted
	}
	if err != nil {
		s.detachLocked()
		s.mu.Unlock()
		s.log.WarnContext(s.logContext(StateUninitialized, epoch+1), "resume failed", slog.String("err", err.Error()))
		return nil, fmt.Errorf("go online: %w", err)
	}
	s.state = StateConnected
	s.mu.Unlock()
	return v, nil
}

// Disconnect detaches every subscription and takes the session offline. It
// is a no-op when the Service is UNINITIALIZED or TERMINATED. An in-flight
// Connect fails with ErrConnectAborted.
func (s *Service) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateUninitialized || s.state == StateTerminated {
		return
	}
	n := len(s.subs)
	s.detachLocked()
	s.log.InfoContext(s.logContext(s.state, s.epoch), "disconnected", slog.Int("detached", n))
}

// Terminate performs the Disconnect cleanup, destroys every session the
// Service holds and moves to TERMINATED for good. Only the first call does
// any work.
func (s *Service) Terminate(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateTerminated {
		s.mu.Unlock()
		return nil
	}
	s.detachLocked()
	s.state = StateTerminated
	var victims []backend.Session
	if s.idle != nil {
		victims = append(victims, s.idle)
	}
	for p := range s.pending {
		victims = append(victims, p.sess)
	}
	s.idle = nil
	clear(s.pending)
	epoch := s.epoch
	s.mu.Unlock()

	var errs []error
	for _, sess := range victims {
		if err := sess.Destroy(ctx); err != nil {
			errs = append(errs, fmt.Errorf("destroy session: %w", err))
		}
	}
	s.log.InfoContext(s.logContext(StateTerminated, epoch), "terminated", slog.Int("destroyed", len(victims)))
	return errors.Join(errs...)
}

// detachLocked unsubscribes every registered reference, takes the committed
// session offline and parks it as idle, and moves to UNINITIALIZED under a
// new epoch.
func (s *Service) detachLocked() {
	for _, ref := range s.subs {
		ref.Unsubscribe()
	}
	s.subs = nil
	if s.session != nil {
		s.session.GoOffline()
		s.idle = s.session
		s.session = nil
	}
	s.epoch++
	s.state = StateUninitialized
}

func (s *Service) abortErrLocked() error {
	if s.state == StateTerminated {
		return s.lifecycleError()
	}
	return ErrConnectAborted
}

func (s *Service) lifecycleError() error {
	return &LifecycleError{Identity: s.identity}
}

// release disposes of a session that never got committed. lctx carries the
// log context of the attempt that created it.
func (s *Service) release(ctx, lctx context.Context, sess backend.Session) {
	sess.GoOffline()
	if err := sess.Destroy(context.WithoutCancel(ctx)); err != nil {
		s.log.WarnContext(lctx, "release session failed", slog.String("err", err.Error()))
	}
}

// connectedSession returns the committed session, or a *NotConnectedError
// naming op and the last segment of path.
func (s *Service) connectedSession(op, path string) (backend.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnected {
		return nil, &NotConnectedError{Op: op, Hint: backend.LastSegment(path)}
	}
	return s.session, nil
}

// GetValuesAtPath reads the value stored at path once.
func (s *Service) GetValuesAtPath(ctx context.Context, path string) (any, error) {
	sess, err := s.connectedSession("GetValuesAtPath", path)
	if err != nil {
		return nil, err
	}
	v, err := sess.Ref(path).Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", backend.CleanPath(path), err)
	}
	return v, nil
}

// SetValueAtPath writes v at path. A nil v deletes the location.
func (s *Service) SetValueAtPath(ctx context.Context, path string, v any) error {
	sess, err := s.connectedSession("SetValueAtPath", path)
	if err != nil {
		return err
	}
	if err := sess.Ref(path).Set(ctx, v); err != nil {
		return fmt.Errorf("set %s: %w", backend.CleanPath(path), err)
	}
	return nil
}

// GetServerTime writes the server timestamp placeholder at path, reads the
// resolved value back and returns it as milliseconds since the Unix epoch.
func (s *Service) GetServerTime(ctx context.Context, path string) (int64, error) {
	sess, err := s.connectedSession("GetServerTime", path)
	if err != nil {
		return 0, err
	}
	ref := sess.Ref(path)
	if err := ref.Set(ctx, backend.ServerTimestamp); err != nil {
		return 0, fmt.Errorf("write server time at %s: %w", ref.Path(), err)
	}
	v, err := ref.Get(ctx)
	if err != nil {
		return 0, fmt.Errorf("read server time at %s: %w", ref.Path(), err)
	}
	switch ms := v.(type) {
	case float64:
		return int64(ms), nil
	case int64:
		return ms, nil
	}
	return 0, fmt.Errorf("read server time at %s: unexpected value %T", ref.Path(), v)
}

func (s *Service) logContext(state State, epoch uint64) context.Context {
	return logctx.WithServiceData(context.Background(), &logctx.ServiceData{
		Identity: s.identity,
		State:    string(state),
		Epoch:    epoch,
	})
}
