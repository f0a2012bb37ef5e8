package rtconn

import (
	"errors"
	"fmt"

	"github.com/ggoodman/rtconn-go/backend"
)

// Event is a change delivered to a Callback. Event.Ref may be passed to
// ListenOnReference to observe a location below the one that changed.
type Event = backend.Event

// Listener is a decorated reference waiting for a callback. It belongs to
// the connection it was created on: after Disconnect or Terminate it can no
// longer attach.
type Listener struct {
	svc   *Service
	ref   backend.Reference
	epoch uint64
}

// Binding pairs a Listener with an event kind.
type Binding struct {
	l    *Listener
	kind backend.EventKind
}

// ListenOnPath prepares a subscription on path.
func (s *Service) ListenOnPath(path string, opts ...QueryOption) (*Listener, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnected {
		return nil, &NotConnectedError{Op: "ListenOnPath", Hint: backend.LastSegment(path)}
	}
	return s.listenerLocked(s.session.Ref(path), opts), nil
}

// ListenOnReference prepares a subscription on a reference obtained from the
// backend, typically an Event.Ref or a child of one.
func (s *Service) ListenOnReference(ref backend.Reference, opts ...QueryOption) (*Listener, error) {
	if ref == nil {
		return nil, errors.New("rtconn: nil reference")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnected {
		return nil, &NotConnectedError{Op: "ListenOnReference", Hint: ref.Key()}
	}
	return s.listenerLocked(ref, opts), nil
}

func (s *Service) listenerLocked(ref backend.Reference, opts []QueryOption) *Listener {
	return &Listener{svc: s, ref: newQuery(opts).apply(ref), epoch: s.epoch}
}

// Ref returns the decorated reference the Listener observes.
func (l *Listener) Ref() backend.Reference { return l.ref }

// On selects the event kind to observe.
func (l *Listener) On(kind backend.EventKind) *Binding {
	return &Binding{l: l, kind: kind}
}

// Call attaches cb. It fails with *NotConnectedError when the Service is no
// longer connected, or was disconnected since the Listener was created.
func (b *Binding) Call(cb Callback) error {
	if cb == nil {
		return errors.New("rtconn: nil callback")
	}
	if !b.kind.Valid() {
		return fmt.Errorf("%w: %q", backend.ErrUnsupportedEvent, b.kind)
	}
	l, s := b.l, b.l.svc

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnected || s.epoch != l.epoch {
		return &NotConnectedError{Op: "Call", Hint: l.ref.Key()}
	}
	if err := l.ref.Subscribe(b.kind, s.guard(l.ref.Path(), b.kind, cb)); err != nil {
		return fmt.Errorf("subscribe %s %s: %w", b.kind, l.ref.Path(), err)
	}
	s.subs = append(s.subs, l.ref)
	return nil
}
