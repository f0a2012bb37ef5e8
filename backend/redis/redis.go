package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ggoodman/rtconn-go/auth"
	"github.com/ggoodman/rtconn-go/backend"
	"github.com/ggoodman/rtconn-go/internal/dispatchq"
	"github.com/google/uuid"
	"github.com/joeshaw/envdecode"
	goredis "github.com/redis/go-redis/v9"
)

// Config for the Redis backend. Defaults can be loaded via envdecode.
type Config struct {
	// Addr like "localhost:6379". ENV: RTCONN_REDIS_ADDR
	Addr string `env:"RTCONN_REDIS_ADDR,default=localhost:6379"`
	// Password for AUTH, if any. ENV: RTCONN_REDIS_PASSWORD
	Password string `env:"RTCONN_REDIS_PASSWORD"`
	// DB selects the logical database. ENV: RTCONN_REDIS_DB
	DB int `env:"RTCONN_REDIS_DB,default=0"`
	// KeyPrefix for all keys and channels. ENV: RTCONN_KEY_PREFIX
	KeyPrefix string `env:"RTCONN_KEY_PREFIX,default=rtconn:"`
}

const (
	defaultAddr   = "localhost:6379"
	defaultPrefix = "rtconn:"

	// maxWriteAttempts bounds retries of a write that lost a WATCH race.
	maxWriteAttempts = 16
	// refreshTimeout bounds the read issued for each change notification.
	refreshTimeout = 5 * time.Second
)

// Backend implements backend.Backend using Redis.
type Backend struct {
	client    *goredis.Client
	keyPrefix string
	authn     auth.Authenticator
	log       *slog.Logger
}

// Option configures a Backend.
type Option func(*Backend)

// WithAuthenticator validates the tokens passed to Session.Authenticate.
// Without one every token is accepted.
func WithAuthenticator(a auth.Authenticator) Option {
	return func(b *Backend) { b.authn = a }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Backend) {
		if l != nil {
			b.log = l
		}
	}
}

// New connects to Redis and verifies the connection with PING.
func New(cfg Config, opts ...Option) (*Backend, error) {
	addr := cfg.Addr
	if addr == "" {
		addr = defaultAddr
	}
	cl := goredis.NewClient(&goredis.Options{Addr: addr, Password: cfg.Password, DB: cfg.DB})
	if err := cl.Ping(context.Background()).Err(); err != nil {
		_ = cl.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	b := &Backend{
		client:    cl,
		keyPrefix: prefix,
		log:       slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b, nil
}

// NewFromEnv builds a Backend using envdecode to populate Config.
func NewFromEnv(opts ...Option) (*Backend, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode redis config: %w", err)
	}
	return New(cfg, opts...)
}

// Close closes the Redis client.
func (b *Backend) Close() error { return b.client.Close() }

// --- Key helpers ---

func (b *Backend) treeKey(ns string) string    { return b.keyPrefix + "tree:" + ns }
func (b *Backend) changesKey(ns string) string { return b.keyPrefix + "changes:" + ns }

// Initialize implements backend.Backend.Initialize. The returned session is
// online, with its change subscription established, but not authenticated.
func (b *Backend) Initialize(ctx context.Context, cfg backend.Config, identity string) (backend.Session, error) {
	s := &session{
		b:         b,
		id:        uuid.NewString(),
		identity:  identity,
		ns:        cfg.NamespaceOrDefault(),
		sync:      dispatchq.New(),
		queue:     dispatchq.New(),
		listeners: make(map[*listener]struct{}),
	}
	if err := s.subscribe(ctx); err != nil {
		s.sync.Close()
		s.queue.Close()
		return nil, err
	}
	s.online.Store(true)
	b.log.Debug("redis session initialized", slog.String("identity", identity), slog.String("session_id", s.id), slog.String("namespace", s.ns))
	return s, nil
}

// read returns the whole tree of namespace ns.
func (b *Backend) read(ctx context.Context, ns string) (any, error) {
	raw, err := b.client.Get(ctx, b.treeKey(ns)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	return decodeTree(raw)
}

// write assigns v at segs in namespace ns and publishes the written path.
func (b *Backend) write(ctx context.Context, ns string, segs []string, v any) error {
	key := b.treeKey(ns)
	path := backend.JoinPath(segs)
	txf := func(tx *goredis.Tx) error {
		var root any
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, goredis.Nil):
		case err != nil:
			return err
		default:
			if root, err = decodeTree(raw); err != nil {
				return err
			}
		}
		now, err := tx.Time(ctx).Result()
		if err != nil {
			return fmt.Errorf("redis time: %w", err)
		}
		root = backend.Assign(root, segs, backend.ResolveServerValues(v, now))
		_, err = tx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			if root == nil {
				p.Del(ctx, key)
			} else {
				data, err := json.Marshal(root)
				if err != nil {
					return err
				}
				p.Set(ctx, key, data, 0)
			}
			p.Publish(ctx, b.changesKey(ns), path)
			return nil
		})
		return err
	}
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		err := b.client.Watch(ctx, txf, key)
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("write %s: too much contention", path)
}

func decodeTree(raw []byte) (any, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode tree: %w", err)
	}
	return v, nil
}

var _ backend.Backend = (*Backend)(nil)
