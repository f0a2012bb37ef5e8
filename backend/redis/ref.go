package redis

import (
	"context"
	"fmt"
	"sync"

	"github.com/ggoodman/rtconn-go/backend"
)

type reference struct {
	sess  *session
	segs  []string
	query backend.Query
	att   *attachments
}

// attachments tracks the listeners attached through one reference value.
type attachments struct {
	mu        sync.Mutex
	listeners []*listener
}

func (r *reference) Key() string {
	if len(r.segs) == 0 {
		return ""
	}
	return r.segs[len(r.segs)-1]
}

func (r *reference) Path() string { return backend.JoinPath(r.segs) }

func (r *reference) Child(path string) backend.Reference {
	return &reference{sess: r.sess, segs: backend.ChildPath(r.segs, path), att: &attachments{}}
}

func (r *reference) OrderByChild(field string) backend.Reference {
	return &reference{sess: r.sess, segs: r.segs, query: r.query.WithOrderBy(field), att: &attachments{}}
}

func (r *reference) StartAt(v any) backend.Reference {
	return &reference{sess: r.sess, segs: r.segs, query: r.query.WithStartAt(v), att: &attachments{}}
}

func (r *reference) Subscribe(kind backend.EventKind, h backend.Handler) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", backend.ErrUnsupportedEvent, kind)
	}
	if h == nil {
		return fmt.Errorf("subscribe %s: nil handler", r.Path())
	}
	if r.sess.destroyed.Load() {
		return backend.ErrDestroyed
	}
	l := &listener{ref: r, kind: kind, handler: h}
	r.att.mu.Lock()
	defer r.att.mu.Unlock()
	r.att.listeners = append(r.att.listeners, l)
	r.sess.attach(l)
	return nil
}

func (r *reference) Unsubscribe() {
	r.att.mu.Lock()
	ls := r.att.listeners
	r.att.listeners = nil
	r.att.mu.Unlock()
	for _, l := range ls {
		r.sess.detach(l)
	}
}

func (r *reference) Get(ctx context.Context) (any, error) {
	if err := r.sess.usable(); err != nil {
		return nil, err
	}
	root, err := r.sess.b.read(ctx, r.sess.ns)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", r.Path(), err)
	}
	return r.query.View(backend.Lookup(root, r.segs)), nil
}

func (r *reference) Set(ctx context.Context, v any) error {
	if err := r.sess.usable(); err != nil {
		return err
	}
	n, err := backend.Normalize(v)
	if err != nil {
		return fmt.Errorf("set %s: %w", r.Path(), err)
	}
	if err := r.sess.b.write(ctx, r.sess.ns, r.segs, n); err != nil {
		return fmt.Errorf("set %s: %w", r.Path(), err)
	}
	return nil
}

// eventRef is the reference handed out with an event: the changed child for
// child events, the observed location for value events.
func (r *reference) eventRef(c backend.Change) backend.Reference {
	plain := &reference{sess: r.sess, segs: r.segs, att: &attachments{}}
	if c.Kind == backend.EventValue {
		return plain
	}
	return plain.Child(c.Key)
}

var _ backend.Reference = (*reference)(nil)
