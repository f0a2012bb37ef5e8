package memory

import (
	"sync"
	"sync/atomic"

	"github.com/ggoodman/rtconn-go/backend"
)

// tree is one namespace: the current root value and every attached listener.
type tree struct {
	mu        sync.Mutex
	root      any
	listeners map[*listener]struct{}
}

// listener is a single Subscribe call.
type listener struct {
	sess    *session
	ref     *reference
	kind    backend.EventKind
	handler backend.Handler

	// guarded by tree.mu
	last   any
	primed bool

	active atomic.Bool
}

func (t *tree) read(segs []string) any {
	t.mu.Lock()
	defer t.mu.Unlock()
	return backend.Lookup(t.root, segs)
}

// write commits v at segs and queues the resulting events for every online
// listener. Offline listeners keep their last snapshot so resync can catch
// them up.
func (t *tree) write(segs []string, v any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.root = backend.Assign(t.root, segs, v)
	for l := range t.listeners {
		if !backend.Related(l.ref.segs, segs) || !l.sess.online.Load() {
			continue
		}
		t.refreshLocked(l)
	}
}

func (t *tree) attach(l *listener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l.active.Store(true)
	t.listeners[l] = struct{}{}
	if l.sess.online.Load() {
		t.refreshLocked(l)
	}
}

func (t *tree) detach(l *listener) {
	l.active.Store(false)
	t.mu.Lock()
	delete(t.listeners, l)
	t.mu.Unlock()
}

// resync refreshes every listener owned by s, after s comes back online.
func (t *tree) resync(s *session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for l := range t.listeners {
		if l.sess == s {
			t.refreshLocked(l)
		}
	}
}

// detachSession removes every listener owned by s.
func (t *tree) detachSession(s *session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for l := range t.listeners {
		if l.sess == s {
			l.active.Store(false)
			delete(t.listeners, l)
		}
	}
}

func (t *tree) refreshLocked(l *listener) {
	cur := backend.Lookup(t.root, l.ref.segs)
	var changes []backend.Change
	if l.primed {
		changes = l.ref.query.Diff(l.kind, l.ref.Key(), l.last, cur)
	} else {
		changes = l.ref.query.Initial(l.kind, l.ref.Key(), cur)
		l.primed = true
	}
	l.last = cur
	for _, c := range changes {
		l.deliver(c)
	}
}

func (l *listener) deliver(c backend.Change) {
	ev := backend.Event{
		Kind:  c.Kind,
		Key:   c.Key,
		Value: backend.Copy(c.Value),
		Ref:   l.ref.eventRef(c),
	}
	l.sess.queue.Push(func() {
		if !l.active.Load() || !l.sess.online.Load() {
			return
		}
		l.handler(ev)
	})
}
