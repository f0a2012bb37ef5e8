package auth

import (
	"context"
	"errors"
	"time"

	"github.com/ggoodman/rtconn-go/internal/jwtauth"
)

// AccessTokenAuthOption configures optional aspects of token validation
// (scopes, algorithms, leeway, typ header).
type AccessTokenAuthOption func(*jwtauth.Config)

// WithRequiredScopes requires all of the provided scopes to be present in the
// space-delimited "scope" claim.
func WithRequiredScopes(scopes ...string) AccessTokenAuthOption {
	return func(c *jwtauth.Config) {
		c.RequiredScopes = append([]string(nil), scopes...)
		c.ScopeModeAny = false
	}
}

// WithAnyRequiredScope requires at least one of the provided scopes to be present.
func WithAnyRequiredScope(scopes ...string) AccessTokenAuthOption {
	return func(c *jwtauth.Config) {
		c.RequiredScopes = append([]string(nil), scopes...)
		c.ScopeModeAny = true
	}
}

// WithAllowedAlgs restricts allowed JWS algorithms. "none" is never allowed.
func WithAllowedAlgs(algs ...string) AccessTokenAuthOption {
	return func(c *jwtauth.Config) {
		c.AllowedAlgs = append([]string(nil), algs...)
	}
}

// WithLeeway sets clock skew tolerance for time-based claims.
func WithLeeway(d time.Duration) AccessTokenAuthOption {
	return func(c *jwtauth.Config) { c.Leeway = d }
}

// WithAudiences accepts tokens whose "aud" claim contains any of auds.
func WithAudiences(auds ...string) AccessTokenAuthOption {
	return func(c *jwtauth.Config) {
		c.ExpectedAudiences = append([]string(nil), auds...)
	}
}

// WithIssuer enforces the "iss" claim for shared secret tokens.
func WithIssuer(issuer string) AccessTokenAuthOption {
	return func(c *jwtauth.Config) { c.Issuer = issuer }
}

// WithAccessTokenType requires the RFC 9068 "at+jwt" typ header.
func WithAccessTokenType() AccessTokenAuthOption {
	return func(c *jwtauth.Config) { c.RequireAccessTokenType = true }
}

func newConfig(opts []AccessTokenAuthOption) *jwtauth.Config {
	cfg := &jwtauth.Config{}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// NewFromDiscovery returns an Authenticator that verifies JWTs using keys
// found via OpenID Connect discovery at issuer. audience is the expected
// "aud" claim, typically the database the sessions connect to.
func NewFromDiscovery(ctx context.Context, issuer string, audience string, opts ...AccessTokenAuthOption) (Authenticator, error) {
	if audience == "" {
		return nil, errors.New("audience is required")
	}
	cfg := newConfig(append([]AccessTokenAuthOption{WithAudiences(audience)}, opts...))
	cfg.Issuer = issuer
	internal, err := jwtauth.NewFromDiscovery(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &adapter{a: internal}, nil
}

// NewStatic returns an Authenticator that verifies JWTs against a fixed JWKS
// URI, skipping discovery.
func NewStatic(ctx context.Context, issuer string, jwksURI string, opts ...AccessTokenAuthOption) (Authenticator, error) {
	cfg := newConfig(opts)
	cfg.Issuer = issuer
	internal, err := jwtauth.NewStatic(ctx, cfg, jwksURI)
	if err != nil {
		return nil, err
	}
	return &adapter{a: internal}, nil
}

// NewSharedSecret returns an Authenticator for HS256 tokens signed with secret.
func NewSharedSecret(secret []byte, opts ...AccessTokenAuthOption) (Authenticator, error) {
	internal, err := jwtauth.NewSharedSecret(newConfig(opts), secret)
	if err != nil {
		return nil, err
	}
	return &adapter{a: internal}, nil
}

// adapter wraps the internal authenticator to satisfy the public interface.
type adapter struct {
	a jwtauth.Authenticator
}

func (ad *adapter) CheckAuthentication(ctx context.Context, tok string) (UserInfo, error) {
	ui, err := ad.a.CheckAuthentication(ctx, tok)
	if err != nil {
		// Map internal sentinel errors to public errors.
		if errors.Is(err, jwtauth.ErrInsufficientScope) {
			return nil, errors.Join(ErrInsufficientScope, err)
		}
		return nil, errors.Join(ErrUnauthorized, err)
	}
	return userInfoAdapter{ui: ui}, nil
}

type userInfoAdapter struct{ ui jwtauth.UserInfo }

func (u userInfoAdapter) UserID() string       { return u.ui.UserID() }
func (u userInfoAdapter) Claims(ref any) error { return u.ui.Claims(ref) }
