// Package backend defines the contract rtconn needs from a real-time database
// backend: sessions that authenticate, go online and offline, and hand out
// references into a hierarchical data tree that can be read, written and
// observed.
//
// Two implementations ship with this module:
//
//	memory : in-process reference used for tests and single-process setups
//	redis  : Redis backed implementation shared across processes
//
// Both are validated by the conformance suite in backendtest.
package backend

import (
	"context"
	"errors"
)

var (
	// ErrOffline is returned by reads and writes on a session that has gone
	// offline.
	ErrOffline = errors.New("backend: session offline")
	// ErrDestroyed is returned by every operation on a destroyed session.
	ErrDestroyed = errors.New("backend: session destroyed")
	// ErrUnsupportedEvent is returned by Subscribe for an unknown EventKind.
	ErrUnsupportedEvent = errors.New("backend: unsupported event kind")
)

// Config scopes a session to a logical database within a backend.
type Config struct {
	// Namespace selects the data tree. Empty means "default".
	Namespace string
	// Options carries backend specific settings.
	Options map[string]string
}

// NamespaceOrDefault returns the configured namespace or "default".
func (c Config) NamespaceOrDefault() string {
	if c.Namespace == "" {
		return "default"
	}
	return c.Namespace
}

// Backend creates sessions. Sessions created from the same Backend share the
// same data but are otherwise independent.
type Backend interface {
	// Initialize creates a new session scoped to identity. The session is not
	// authenticated yet.
	Initialize(ctx context.Context, cfg Config, identity string) (Session, error)
}

// Session is an exclusively owned connection to a backend.
type Session interface {
	// Authenticate exchanges token for an authenticated session. Errors are
	// produced by the backend's authenticator and callers should surface them
	// unchanged.
	Authenticate(ctx context.Context, token string) error

	// Ref resolves a slash separated path to a reference.
	Ref(path string) Reference

	// GoOnline resumes a session that is offline or keeps an online session
	// alive. The returned value is backend specific.
	GoOnline(ctx context.Context) (any, error)

	// GoOffline stops event delivery and rejects reads and writes until
	// GoOnline is called.
	GoOffline()

	// Destroy releases every resource held by the session. It is irreversible.
	Destroy(ctx context.Context) error
}

// Reference identifies a location in the data tree, optionally decorated with
// ordering and range filters. Decorating methods return new references and
// never modify the receiver.
type Reference interface {
	// Key is the last path segment, or "" for the root.
	Key() string
	// Path is the normalized slash separated path.
	Path() string
	// Child resolves a path relative to this reference. Decorations are not
	// inherited.
	Child(path string) Reference

	// OrderByChild orders children by the value at field. The special fields
	// "$key" and "$value" order by key and by the child value itself.
	OrderByChild(field string) Reference
	// StartAt restricts children to those at or after v under the active
	// ordering.
	StartAt(v any) Reference

	// Subscribe attaches h for events of kind. Events are delivered
	// asynchronously; Subscribe never invokes h before returning.
	Subscribe(kind EventKind, h Handler) error
	// Unsubscribe detaches every handler attached through this reference. It
	// is safe to call more than once.
	Unsubscribe()

	// Get reads the value at this location once, with decorations applied.
	Get(ctx context.Context) (any, error)
	// Set replaces the value at this location. A nil value deletes it.
	Set(ctx context.Context, v any) error
}

// EventKind is the category of change being observed.
type EventKind string

const (
	EventValue        EventKind = "value"
	EventChildAdded   EventKind = "child_added"
	EventChildChanged EventKind = "child_changed"
	EventChildRemoved EventKind = "child_removed"
)

// Valid reports whether k is a known event kind.
func (k EventKind) Valid() bool {
	switch k {
	case EventValue, EventChildAdded, EventChildChanged, EventChildRemoved:
		return true
	}
	return false
}

// Event is a single change delivered to a Handler.
type Event struct {
	Kind EventKind
	// Key is the key of the changed child for child events and the key of the
	// observed location for value events.
	Key string
	// Value is the new value (the last value for child_removed).
	Value any
	// Ref points at Key. Callers may resolve further references from it.
	Ref Reference
}

// Handler receives events for a subscription.
type Handler func(Event)

// ServerValue is a placeholder that the backend replaces at commit time.
type ServerValue struct {
	Kind string `json:".sv"`
}

// ServerTimestamp resolves to the backend clock, in milliseconds since the
// Unix epoch, when the write carrying it is committed.
var ServerTimestamp = ServerValue{Kind: "timestamp"}
