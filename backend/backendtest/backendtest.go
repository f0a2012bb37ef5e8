// Package backendtest is a conformance suite for backend.Backend
// implementations.
package backendtest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/rtconn-go/backend"
)

// BackendFactory creates a new Backend instance for testing.
type BackendFactory func(t *testing.T) backend.Backend

// RunBackendTests runs the complete Backend test suite against the provided factory.
func RunBackendTests(t *testing.T, factory BackendFactory) {
	t.Run("Session_InitializeAndAuthenticate", func(t *testing.T) { testInitializeAndAuthenticate(t, factory) })
	t.Run("Data_SetAndGet", func(t *testing.T) { testSetAndGet(t, factory) })
	t.Run("Data_GetWithQuery", func(t *testing.T) { testGetWithQuery(t, factory) })
	t.Run("Data_ServerTimestampResolved", func(t *testing.T) { testServerTimestamp(t, factory) })

	t.Run("Events_ValueInitialAndChanges", func(t *testing.T) { testValueEvents(t, factory) })
	t.Run("Events_ChildAddedChangedRemoved", func(t *testing.T) { testChildEvents(t, factory) })
	t.Run("Events_OrderByStartAtFilters", func(t *testing.T) { testOrderByStartAt(t, factory) })
	t.Run("Events_RefFromEventIsUsable", func(t *testing.T) { testEventRef(t, factory) })
	t.Run("Events_UnsubscribeStopsDelivery", func(t *testing.T) { testUnsubscribe(t, factory) })
	t.Run("Events_UnsupportedKindRejected", func(t *testing.T) { testUnsupportedKind(t, factory) })

	t.Run("Isolation_BetweenSessions", func(t *testing.T) { testSessionIsolation(t, factory) })
	t.Run("Lifecycle_OfflineRejectsReadsUntilOnline", func(t *testing.T) { testOfflineOnline(t, factory) })
	t.Run("Lifecycle_DestroyIsFinal", func(t *testing.T) { testDestroy(t, factory) })
}

const eventTimeout = 3 * time.Second

// recorder collects events delivered to a handler.
type recorder struct {
	mu     sync.Mutex
	events []backend.Event
	notify chan struct{}
}

func newRecorder() *recorder {
	return &recorder{notify: make(chan struct{}, 1024)}
}

func (r *recorder) handle(ev backend.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	r.notify <- struct{}{}
}

func (r *recorder) snapshot() []backend.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]backend.Event(nil), r.events...)
}

// waitN waits until at least n events were recorded.
func (r *recorder) waitN(t *testing.T, n int) []backend.Event {
	t.Helper()
	deadline := time.After(eventTimeout)
	for {
		if evs := r.snapshot(); len(evs) >= n {
			return evs
		}
		select {
		case <-r.notify:
		case <-deadline:
			t.Fatalf("timeout waiting for %d events, got %d: %v", n, len(r.snapshot()), r.snapshot())
		}
	}
}

// quiet asserts no further events arrive beyond n within a short window.
func (r *recorder) quiet(t *testing.T, n int) {
	t.Helper()
	time.Sleep(150 * time.Millisecond)
	if evs := r.snapshot(); len(evs) != n {
		t.Fatalf("expected %d events, got %d: %v", n, len(evs), evs)
	}
}

func uniqueConfig(t *testing.T) backend.Config {
	name := strings.NewReplacer("/", "-", " ", "-").Replace(t.Name())
	return backend.Config{Namespace: fmt.Sprintf("%s-%d", name, time.Now().UnixNano())}
}

func open(t *testing.T, b backend.Backend, cfg backend.Config, identity string) backend.Session {
	t.Helper()
	ctx := context.Background()
	s, err := b.Initialize(ctx, cfg, identity)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := s.Authenticate(ctx, "test-token"); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	t.Cleanup(func() { _ = s.Destroy(context.Background()) })
	return s
}

func mustSet(t *testing.T, ref backend.Reference, v any) {
	t.Helper()
	if err := ref.Set(context.Background(), v); err != nil {
		t.Fatalf("set %s: %v", ref.Path(), err)
	}
}

func testInitializeAndAuthenticate(t *testing.T, factory BackendFactory) {
	b := factory(t)
	s := open(t, b, uniqueConfig(t), "svc-init")
	ref := s.Ref("/rooms//lobby/")
	if ref.Path() != "rooms/lobby" || ref.Key() != "lobby" {
		t.Fatalf("unexpected ref path=%q key=%q", ref.Path(), ref.Key())
	}
	if root := s.Ref(""); root.Key() != "" {
		t.Fatalf("root key should be empty, got %q", root.Key())
	}
}

func testSetAndGet(t *testing.T, factory BackendFactory) {
	b := factory(t)
	s := open(t, b, uniqueConfig(t), "svc-data")
	ctx := context.Background()

	mustSet(t, s.Ref("users/alice"), map[string]any{"name": "Alice", "age": 30})
	got, err := s.Ref("users/alice/name").Get(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "Alice" {
		t.Fatalf("want Alice, got %v", got)
	}

	whole, err := s.Ref("users").Get(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	want := map[string]any{"alice": map[string]any{"name": "Alice", "age": 30.0}}
	if !backend.Equal(whole, want) {
		t.Fatalf("want %v, got %v", want, whole)
	}

	mustSet(t, s.Ref("users/alice"), nil)
	gone, err := s.Ref("users").Get(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if gone != nil {
		t.Fatalf("expected deleted subtree to read as nil, got %v", gone)
	}
}

func testGetWithQuery(t *testing.T, factory BackendFactory) {
	b := factory(t)
	s := open(t, b, uniqueConfig(t), "svc-query")
	mustSet(t, s.Ref("scores"), map[string]any{
		"a": map[string]any{"rank": 2},
		"b": map[string]any{"rank": 0},
	})
	got, err := s.Ref("scores").OrderByChild("rank").StartAt(1).Get(context.Background())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	want := map[string]any{"a": map[string]any{"rank": 2.0}}
	if !backend.Equal(got, want) {
		t.Fatalf("want %v, got %v", want, got)
	}
}

func testServerTimestamp(t *testing.T, factory BackendFactory) {
	b := factory(t)
	s := open(t, b, uniqueConfig(t), "svc-time")
	ref := s.Ref("meta/now")
	mustSet(t, ref, backend.ServerTimestamp)
	got, err := ref.Get(context.Background())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	ms, ok := got.(float64)
	if !ok || ms <= 0 {
		t.Fatalf("expected a positive millisecond timestamp, got %T %v", got, got)
	}
}

func testValueEvents(t *testing.T, factory BackendFactory) {
	b := factory(t)
	s := open(t, b, uniqueConfig(t), "svc-value")
	rec := newRecorder()
	ref := s.Ref("rooms/a")
	if err := ref.Subscribe(backend.EventValue, rec.handle); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	first := rec.waitN(t, 1)
	if first[0].Kind != backend.EventValue || first[0].Value != nil || first[0].Key != "a" {
		t.Fatalf("unexpected initial event: %+v", first[0])
	}

	mustSet(t, s.Ref("rooms/a/topic"), "go")
	evs := rec.waitN(t, 2)
	if !backend.Equal(evs[1].Value, map[string]any{"topic": "go"}) {
		t.Fatalf("unexpected value: %v", evs[1].Value)
	}

	mustSet(t, s.Ref("rooms/b/topic"), "rust")
	rec.quiet(t, 2)
}

func testChildEvents(t *testing.T, factory BackendFactory) {
	b := factory(t)
	s := open(t, b, uniqueConfig(t), "svc-child")
	ref := s.Ref("rooms")
	mustSet(t, ref.Child("a"), 1)

	added, changed, removed := newRecorder(), newRecorder(), newRecorder()
	for kind, rec := range map[backend.EventKind]*recorder{
		backend.EventChildAdded:   added,
		backend.EventChildChanged: changed,
		backend.EventChildRemoved: removed,
	} {
		if err := ref.Subscribe(kind, rec.handle); err != nil {
			t.Fatalf("subscribe %s: %v", kind, err)
		}
	}
	// Existing children are reported as added on subscribe.
	if evs := added.waitN(t, 1); evs[0].Key != "a" || evs[0].Value != 1.0 {
		t.Fatalf("unexpected initial child: %+v", evs[0])
	}

	mustSet(t, ref.Child("b"), 2)
	mustSet(t, ref.Child("a"), 3)
	mustSet(t, ref.Child("b"), nil)

	if evs := added.waitN(t, 2); evs[1].Key != "b" {
		t.Fatalf("unexpected added: %+v", evs[1])
	}
	if evs := changed.waitN(t, 1); evs[0].Key != "a" || evs[0].Value != 3.0 {
		t.Fatalf("unexpected changed: %+v", evs[0])
	}
	if evs := removed.waitN(t, 1); evs[0].Key != "b" || evs[0].Value != 2.0 {
		t.Fatalf("unexpected removed: %+v", evs[0])
	}
	added.quiet(t, 2)
}

func testOrderByStartAt(t *testing.T, factory BackendFactory) {
	b := factory(t)
	s := open(t, b, uniqueConfig(t), "svc-filter")
	rec := newRecorder()
	base := s.Ref("leaderboard")
	if err := base.OrderByChild("rank").StartAt(1).Subscribe(backend.EventChildAdded, rec.handle); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	mustSet(t, base.Child("p2"), map[string]any{"rank": 2})
	mustSet(t, base.Child("p1"), map[string]any{"rank": 1})
	mustSet(t, base.Child("p0"), map[string]any{"rank": 0})
	mustSet(t, base.Child("pnil"), map[string]any{"rank": nil, "name": "unranked"})

	evs := rec.waitN(t, 2)
	rec.quiet(t, 2)
	keys := map[string]bool{}
	for _, ev := range evs {
		keys[ev.Key] = true
	}
	if !keys["p2"] || !keys["p1"] {
		t.Fatalf("expected p2 and p1, got %v", evs)
	}
}

func testEventRef(t *testing.T, factory BackendFactory) {
	b := factory(t)
	s := open(t, b, uniqueConfig(t), "svc-ref")
	mustSet(t, s.Ref("threads/t1/title"), "hello")

	rec := newRecorder()
	if err := s.Ref("threads").Subscribe(backend.EventChildAdded, rec.handle); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	ev := rec.waitN(t, 1)[0]
	if ev.Ref == nil || ev.Ref.Path() != "threads/t1" {
		t.Fatalf("unexpected event ref: %+v", ev.Ref)
	}

	inner := newRecorder()
	child := ev.Ref.Child("replies")
	if err := child.Subscribe(backend.EventChildAdded, inner.handle); err != nil {
		t.Fatalf("subscribe child: %v", err)
	}
	mustSet(t, s.Ref("threads/t1/replies/r1"), "first")
	if evs := inner.waitN(t, 1); evs[0].Key != "r1" {
		t.Fatalf("unexpected reply event: %+v", evs[0])
	}
}

func testUnsubscribe(t *testing.T, factory BackendFactory) {
	b := factory(t)
	s := open(t, b, uniqueConfig(t), "svc-unsub")
	rec := newRecorder()
	ref := s.Ref("feed")
	if err := ref.Subscribe(backend.EventChildAdded, rec.handle); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	mustSet(t, ref.Child("one"), true)
	rec.waitN(t, 1)

	ref.Unsubscribe()
	ref.Unsubscribe()
	mustSet(t, ref.Child("two"), true)
	rec.quiet(t, 1)
}

func testUnsupportedKind(t *testing.T, factory BackendFactory) {
	b := factory(t)
	s := open(t, b, uniqueConfig(t), "svc-kind")
	err := s.Ref("x").Subscribe(backend.EventKind("child_moved_sideways"), func(backend.Event) {})
	if !errors.Is(err, backend.ErrUnsupportedEvent) {
		t.Fatalf("want ErrUnsupportedEvent, got %v", err)
	}
}

func testSessionIsolation(t *testing.T, factory BackendFactory) {
	b := factory(t)
	cfg := uniqueConfig(t)
	sa := open(t, b, cfg, "svc-a")
	sb := open(t, b, cfg, "svc-b")

	ra, rb := newRecorder(), newRecorder()
	refA, refB := sa.Ref("shared"), sb.Ref("shared")
	if err := refA.Subscribe(backend.EventChildAdded, ra.handle); err != nil {
		t.Fatalf("subscribe a: %v", err)
	}
	if err := refB.Subscribe(backend.EventChildAdded, rb.handle); err != nil {
		t.Fatalf("subscribe b: %v", err)
	}

	mustSet(t, sa.Ref("shared/k1"), 1)
	ra.waitN(t, 1)
	rb.waitN(t, 1)

	refA.Unsubscribe()
	sa.GoOffline()

	mustSet(t, sb.Ref("shared/k2"), 2)
	if evs := rb.waitN(t, 2); evs[1].Key != "k2" {
		t.Fatalf("unexpected event for b: %+v", evs[1])
	}
	ra.quiet(t, 1)
}

func testOfflineOnline(t *testing.T, factory BackendFactory) {
	b := factory(t)
	s := open(t, b, uniqueConfig(t), "svc-offline")
	ctx := context.Background()
	ref := s.Ref("status")
	mustSet(t, ref, "up")

	s.GoOffline()
	if _, err := ref.Get(ctx); !errors.Is(err, backend.ErrOffline) {
		t.Fatalf("want ErrOffline, got %v", err)
	}
	if _, err := s.GoOnline(ctx); err != nil {
		t.Fatalf("go online: %v", err)
	}
	got, err := ref.Get(ctx)
	if err != nil || got != "up" {
		t.Fatalf("unexpected read after going online: %v %v", got, err)
	}
	// Going online while online is a keep-alive.
	if _, err := s.GoOnline(ctx); err != nil {
		t.Fatalf("keep-alive: %v", err)
	}
}

func testDestroy(t *testing.T, factory BackendFactory) {
	b := factory(t)
	ctx := context.Background()
	s, err := b.Initialize(ctx, uniqueConfig(t), "svc-destroy")
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := s.Destroy(ctx); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if err := s.Destroy(ctx); err != nil {
		t.Fatalf("second destroy: %v", err)
	}
	if _, err := s.Ref("x").Get(ctx); !errors.Is(err, backend.ErrDestroyed) {
		t.Fatalf("want ErrDestroyed from Get, got %v", err)
	}
	if err := s.Ref("x").Set(ctx, 1); !errors.Is(err, backend.ErrDestroyed) {
		t.Fatalf("want ErrDestroyed from Set, got %v", err)
	}
	if _, err := s.GoOnline(ctx); !errors.Is(err, backend.ErrDestroyed) {
		t.Fatalf("want ErrDestroyed from GoOnline, got %v", err)
	}
	if err := s.Authenticate(ctx, "tok"); !errors.Is(err, backend.ErrDestroyed) {
		t.Fatalf("want ErrDestroyed from Authenticate, got %v", err)
	}
}
