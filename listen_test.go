package rtconn

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/ggoodman/rtconn-go/backend"
	"github.com/ggoodman/rtconn-go/backend/memory"
)

func TestListenOrderByStartAt(t *testing.T) {
	b := memory.New()
	svc := connected(t, b)
	ctx := context.Background()
	for key, v := range map[string]any{
		"p2":   map[string]any{"rank": 2},
		"p1":   map[string]any{"rank": 1},
		"p0":   map[string]any{"rank": 0},
		"pnil": map[string]any{"rank": nil, "name": "unranked"},
	} {
		if err := svc.SetValueAtPath(ctx, "players/"+key, v); err != nil {
			t.Fatalf("set %s: %v", key, err)
		}
	}

	l, err := svc.ListenOnPath("players", OrderBy("rank"), StartAt(1))
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	sink := newEventSink()
	if err := l.On(backend.EventChildAdded).Call(sink.callback()); err != nil {
		t.Fatalf("call: %v", err)
	}
	got := []string{sink.next(t).Key, sink.next(t).Key}
	sink.none(t)
	if got[0] != "p1" || got[1] != "p2" {
		t.Fatalf("want [p1 p2] in rank order, got %v", got)
	}
}

func TestListenOrderByKeyAndValue(t *testing.T) {
	svc := connected(t, memory.New())
	ctx := context.Background()
	_ = svc.SetValueAtPath(ctx, "scores", map[string]any{"a": 30, "b": 10, "c": 20})

	l, err := svc.ListenOnPath("scores", OrderByValue(), StartAt(15))
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	sink := newEventSink()
	if err := l.On(backend.EventValue).Call(sink.callback()); err != nil {
		t.Fatalf("call: %v", err)
	}
	ev := sink.next(t)
	want := map[string]any{"a": 30.0, "c": 20.0}
	if !backend.Equal(ev.Value, want) {
		t.Fatalf("want %v, got %v", want, ev.Value)
	}

	l, err = svc.ListenOnPath("scores", OrderByKey(), StartAt("b"))
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	keys := newEventSink()
	if err := l.On(backend.EventChildAdded).Call(keys.callback()); err != nil {
		t.Fatalf("call: %v", err)
	}
	got := []string{keys.next(t).Key, keys.next(t).Key}
	sort.Strings(got)
	if got[0] != "b" || got[1] != "c" {
		t.Fatalf("want b and c, got %v", got)
	}
}

func TestListenOrderByStartAtFiltersLaterWrites(t *testing.T) {
	svc := connected(t, memory.New())
	ctx := context.Background()

	l, err := svc.ListenOnPath("players", OrderBy("rank"), StartAt(1))
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	sink := newEventSink()
	if err := l.On(backend.EventChildAdded).Call(sink.callback()); err != nil {
		t.Fatalf("call: %v", err)
	}
	sink.none(t)

	for _, p := range []struct {
		key  string
		rank any
	}{{"p2", 2}, {"p1", 1}, {"p0", 0}, {"pnil", nil}} {
		v := map[string]any{"rank": p.rank, "name": p.key}
		if err := svc.SetValueAtPath(ctx, "players/"+p.key, v); err != nil {
			t.Fatalf("set %s: %v", p.key, err)
		}
	}
	got := []string{sink.next(t).Key, sink.next(t).Key}
	sink.none(t)
	if got[0] != "p2" || got[1] != "p1" {
		t.Fatalf("want [p2 p1] in write order, got %v", got)
	}
}

func TestNoCallbacksAfterDisconnect(t *testing.T) {
	b := memory.New()
	svc := connected(t, b)
	l, err := svc.ListenOnPath("feed")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	sink := newEventSink()
	if err := l.On(backend.EventChildAdded).Call(sink.callback()); err != nil {
		t.Fatalf("call: %v", err)
	}
	if err := b.Write("", "feed/one", 1); err != nil {
		t.Fatalf("write: %v", err)
	}
	sink.next(t)

	svc.Disconnect()
	if n := svc.ActiveSubscriptions(); n != 0 {
		t.Fatalf("want no subscriptions, got %d", n)
	}
	_ = b.Write("", "feed/two", 2)
	sink.none(t)

	// Reconnecting does not revive old subscriptions.
	if _, err := svc.Connect(context.Background(), backend.Config{}, "tok"); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	_ = b.Write("", "feed/three", 3)
	sink.none(t)
}

func TestListenerFromPreviousConnectionCannotAttach(t *testing.T) {
	svc := connected(t, memory.New())
	l, err := svc.ListenOnPath("rooms/lobby")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	svc.Disconnect()
	if _, err := svc.Connect(context.Background(), backend.Config{}, "tok"); err != nil {
		t.Fatalf("reconnect: %v", err)
	}

	err = l.On(backend.EventValue).Call(newEventSink().callback())
	var nce *NotConnectedError
	if !errors.As(err, &nce) || nce.Hint != "lobby" {
		t.Fatalf("want *NotConnectedError for lobby, got %v", err)
	}
	if n := svc.ActiveSubscriptions(); n != 0 {
		t.Fatalf("stale listener must not register, got %d", n)
	}
}

func TestListenerSurvivesResume(t *testing.T) {
	svc := connected(t, memory.New())
	l, err := svc.ListenOnPath("rooms/lobby")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	if _, err := svc.Connect(context.Background(), backend.Config{}, "tok"); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if err := l.On(backend.EventValue).Call(newEventSink().callback()); err != nil {
		t.Fatalf("listener created before a resume should attach: %v", err)
	}
}

func TestNestedListenerIsDetachedOnDisconnect(t *testing.T) {
	b := memory.New()
	svc := connected(t, b)
	ctx := context.Background()
	if err := svc.SetValueAtPath(ctx, "threads/t1/title", "hello"); err != nil {
		t.Fatalf("set: %v", err)
	}

	replies := newEventSink()
	attached := make(chan error, 1)
	l, err := svc.ListenOnPath("threads")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	err = l.On(backend.EventChildAdded).Call(Handle(func(ev Event) error {
		inner, err := svc.ListenOnReference(ev.Ref.Child("replies"))
		if err != nil {
			attached <- err
			return err
		}
		err = inner.On(backend.EventChildAdded).Call(replies.callback())
		attached <- err
		return err
	}))
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if err := <-attached; err != nil {
		t.Fatalf("nested attach: %v", err)
	}
	if n := svc.ActiveSubscriptions(); n != 2 {
		t.Fatalf("want 2 subscriptions, got %d", n)
	}

	if err := svc.SetValueAtPath(ctx, "threads/t1/replies/r1", "first"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if ev := replies.next(t); ev.Key != "r1" {
		t.Fatalf("unexpected reply %+v", ev)
	}

	svc.Disconnect()
	if n := svc.ActiveSubscriptions(); n != 0 {
		t.Fatalf("want 0 subscriptions, got %d", n)
	}
	_ = b.Write("", "threads/t1/replies/r2", "second")
	replies.none(t)
}

func TestListenOnReferenceRequiresConnected(t *testing.T) {
	b := memory.New()
	svc := connected(t, b)
	l, err := svc.ListenOnPath("rooms/lobby")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ref := l.Ref()
	svc.Disconnect()

	_, err = svc.ListenOnReference(ref.Child("members"))
	var nce *NotConnectedError
	if !errors.As(err, &nce) || nce.Hint != "members" {
		t.Fatalf("want *NotConnectedError for members, got %v", err)
	}
	if _, err := svc.ListenOnReference(nil); err == nil {
		t.Fatal("expected error for nil reference")
	}
}

func TestCallValidatesArguments(t *testing.T) {
	svc := connected(t, memory.New())
	l, err := svc.ListenOnPath("x")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	if err := l.On(backend.EventValue).Call(nil); err == nil {
		t.Fatal("expected error for nil callback")
	}
	if err := l.On("child_moved").Call(newEventSink().callback()); !errors.Is(err, backend.ErrUnsupportedEvent) {
		t.Fatalf("want ErrUnsupportedEvent, got %v", err)
	}
	if n := svc.ActiveSubscriptions(); n != 0 {
		t.Fatalf("rejected calls must not register, got %d", n)
	}
}

func TestTerminateDetachesSubscriptions(t *testing.T) {
	b := memory.New()
	svc := connected(t, b)
	l, err := svc.ListenOnPath("feed")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	sink := newEventSink()
	if err := l.On(backend.EventChildAdded).Call(sink.callback()); err != nil {
		t.Fatalf("call: %v", err)
	}
	if err := svc.Terminate(context.Background()); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if n := svc.ActiveSubscriptions(); n != 0 {
		t.Fatalf("want 0 subscriptions, got %d", n)
	}
	_ = b.Write("", "feed/x", 1)
	sink.none(t)
	if got := b.Stats().Destroyed; got != 1 {
		t.Fatalf("want one destroyed session, got %d", got)
	}
}

// taggedRef is a Reference whose dynamic type is not comparable.
type taggedRef struct {
	backend.Reference
	tags []string
}

func TestUncomparableReferenceIsDetached(t *testing.T) {
	b := memory.New()
	svc := connected(t, b)
	l, err := svc.ListenOnPath("feed")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	tl, err := svc.ListenOnReference(taggedRef{Reference: l.Ref(), tags: []string{"feed"}})
	if err != nil {
		t.Fatalf("listen on reference: %v", err)
	}
	added, values := newEventSink(), newEventSink()
	if err := tl.On(backend.EventChildAdded).Call(added.callback()); err != nil {
		t.Fatalf("call child_added: %v", err)
	}
	if err := tl.On(backend.EventValue).Call(values.callback()); err != nil {
		t.Fatalf("call value: %v", err)
	}
	if n := svc.ActiveSubscriptions(); n != 2 {
		t.Fatalf("want 2 subscriptions, got %d", n)
	}
	values.next(t)

	if err := b.Write("", "feed/one", 1); err != nil {
		t.Fatalf("write: %v", err)
	}
	if ev := added.next(t); ev.Key != "one" {
		t.Fatalf("unexpected event %+v", ev)
	}
	values.next(t)

	svc.Disconnect()
	if n := svc.ActiveSubscriptions(); n != 0 {
		t.Fatalf("want 0 subscriptions, got %d", n)
	}
	_ = b.Write("", "feed/two", 2)
	added.none(t)
	values.none(t)
}
