package rtconn

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/rtconn-go/backend"
	"github.com/ggoodman/rtconn-go/backend/memory"
)

// fakeBackend wraps the memory backend, counting calls and optionally
// failing or blocking Authenticate and GoOnline.
type fakeBackend struct {
	inner *memory.Backend

	mu         sync.Mutex
	calls      fakeCounts
	identities []string
	initErr    error
	authErr    error
	onlineErr  error

	// When non-nil, Initialize / Authenticate / GoOnline signal on *Started
	// and then wait for *Gate to be closed.
	initStarted   chan struct{}
	initGate      chan struct{}
	authStarted   chan struct{}
	authGate      chan struct{}
	onlineStarted chan struct{}
	onlineGate    chan struct{}
}

type fakeCounts struct {
	Initialize   int
	Authenticate int
	GoOnline     int
	GoOffline    int
	Destroy      int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{inner: memory.New()}
}

func (f *fakeBackend) counts() fakeCounts {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeBackend) blockInitialize() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initStarted = make(chan struct{}, 16)
	f.initGate = make(chan struct{})
}

func (f *fakeBackend) blockAuthenticate() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authStarted = make(chan struct{}, 16)
	f.authGate = make(chan struct{})
}

func (f *fakeBackend) blockGoOnline() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onlineStarted = make(chan struct{}, 16)
	f.onlineGate = make(chan struct{})
}

func (f *fakeBackend) setAuthErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authErr = err
}

func (f *fakeBackend) setOnlineErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onlineErr = err
}

func (f *fakeBackend) Initialize(ctx context.Context, cfg backend.Config, identity string) (backend.Session, error) {
	f.mu.Lock()
	f.calls.Initialize++
	f.identities = append(f.identities, identity)
	started, gate, err := f.initStarted, f.initGate, f.initErr
	f.mu.Unlock()
	if started != nil {
		started <- struct{}{}
		<-gate
	}
	if err != nil {
		return nil, err
	}
	s, err := f.inner.Initialize(ctx, cfg, identity)
	if err != nil {
		return nil, err
	}
	return &fakeSession{Session: s, f: f}, nil
}

type fakeSession struct {
	backend.Session
	f *fakeBackend
}

func (s *fakeSession) Authenticate(ctx context.Context, token string) error {
	s.f.mu.Lock()
	s.f.calls.Authenticate++
	started, gate, err := s.f.authStarted, s.f.authGate, s.f.authErr
	s.f.mu.Unlock()
	if started != nil {
		started <- struct{}{}
		<-gate
	}
	if err != nil {
		return err
	}
	return s.Session.Authenticate(ctx, token)
}

func (s *fakeSession) GoOnline(ctx context.Context) (any, error) {
	s.f.mu.Lock()
	s.f.calls.GoOnline++
	started, gate, err := s.f.onlineStarted, s.f.onlineGate, s.f.onlineErr
	s.f.mu.Unlock()
	if started != nil {
		started <- struct{}{}
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return s.Session.GoOnline(ctx)
}

func (s *fakeSession) GoOffline() {
	s.f.mu.Lock()
	s.f.calls.GoOffline++
	s.f.mu.Unlock()
	s.Session.GoOffline()
}

func (s *fakeSession) Destroy(ctx context.Context) error {
	s.f.mu.Lock()
	s.f.calls.Destroy++
	s.f.mu.Unlock()
	return s.Session.Destroy(ctx)
}

var _ backend.Backend = (*fakeBackend)(nil)

// connected returns a Service connected to b.
func connected(t *testing.T, b backend.Backend, opts ...Option) *Service {
	t.Helper()
	svc := New(b, opts...)
	if _, err := svc.Connect(context.Background(), backend.Config{}, "token"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = svc.Terminate(context.Background()) })
	return svc
}

func waitSignal(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for signal")
	}
}

// eventSink records events from a Callback.
type eventSink struct {
	ch chan Event
}

func newEventSink() *eventSink { return &eventSink{ch: make(chan Event, 64)} }

func (s *eventSink) callback() Callback {
	return func(ev Event) Result {
		s.ch <- ev
		return Done
	}
}

func (s *eventSink) next(t *testing.T) Event {
	t.Helper()
	select {
	case ev := <-s.ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
		return Event{}
	}
}

func (s *eventSink) none(t *testing.T) {
	t.Helper()
	select {
	case ev := <-s.ch:
		t.Fatalf("unexpected event: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}
