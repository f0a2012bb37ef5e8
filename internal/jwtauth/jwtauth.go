// Package jwtauth validates the bearer tokens presented to backend sessions.
// Keys come from OIDC discovery, a static JWKS URI or a shared HMAC secret;
// claim validation is the same for all three.
package jwtauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthorized indicates that the token failed validation (signature,
// issuer, audience, exp/nbf, missing subject).
var ErrUnauthorized = errors.New("jwtauth: unauthorized")

// ErrInsufficientScope indicates the token was valid but did not satisfy the
// required scopes policy.
var ErrInsufficientScope = errors.New("jwtauth: insufficient_scope")

// Config controls validation of tokens regardless of where keys come from.
type Config struct {
	Issuer string
	// ExpectedAudiences lists accepted "aud" values. Empty disables the
	// audience check.
	ExpectedAudiences []string
	RequiredScopes    []string
	ScopeModeAny      bool // if true, any of RequiredScopes is sufficient; else all are required
	AllowedAlgs       []string
	Leeway            time.Duration
	// RequireAccessTokenType enforces the RFC 9068 "at+jwt" typ header.
	RequireAccessTokenType bool
}

// DefaultConfig returns a Config with safe defaults for algorithm and leeway.
func DefaultConfig() *Config {
	return &Config{
		AllowedAlgs: []string{"RS256"},
		Leeway:      60 * time.Second,
	}
}

func (c *Config) applyDefaults(algs ...string) {
	if len(c.AllowedAlgs) == 0 {
		c.AllowedAlgs = append([]string(nil), algs...)
	}
	if c.Leeway == 0 {
		c.Leeway = 60 * time.Second
	}
}

// UserInfo is the validated principal behind a token.
type UserInfo interface {
	UserID() string
	Claims(ref any) error
}

type userInfo struct {
	sub    string
	claims map[string]any
}

func (u *userInfo) UserID() string { return u.sub }
func (u *userInfo) Claims(ref any) error {
	b, err := json.Marshal(u.claims)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, ref)
}

// Authenticator validates tokens and returns the principal they carry.
type Authenticator interface {
	CheckAuthentication(ctx context.Context, tok string) (UserInfo, error)
}

// validator holds the parts shared by every key source.
type validator struct {
	cfg     *Config
	issuer  string
	keyfunc jwt.Keyfunc
}

// restrictAlgs wraps kf so tokens signed with an algorithm outside allowed
// are rejected before any key is looked up.
func restrictAlgs(allowed []string, kf jwt.Keyfunc) jwt.Keyfunc {
	return func(t *jwt.Token) (any, error) {
		alg := t.Method.Alg()
		if !slices.Contains(allowed, alg) {
			return nil, fmt.Errorf("disallowed alg: %s", alg)
		}
		return kf(t)
	}
}

func (v *validator) CheckAuthentication(ctx context.Context, tok string) (UserInfo, error) {
	if tok == "" {
		return nil, fmt.Errorf("%w: empty token", ErrUnauthorized)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods(v.cfg.AllowedAlgs),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.cfg.Leeway),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	parsed, err := jwt.NewParser(opts...).Parse(tok, v.keyfunc)
	if err != nil {
		return nil, fmt.Errorf("%w: token parse/verify failed: %v", ErrUnauthorized, err)
	}

	if v.cfg.RequireAccessTokenType {
		if typ, _ := parsed.Header["typ"].(string); typ != "at+jwt" && typ != "application/at+jwt" {
			return nil, fmt.Errorf("%w: invalid typ; want at+jwt", ErrUnauthorized)
		}
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid claims type")
	}

	if len(v.cfg.ExpectedAudiences) > 0 && !audIntersects(claims["aud"], v.cfg.ExpectedAudiences) {
		return nil, fmt.Errorf("%w: audience mismatch", ErrUnauthorized)
	}

	if iatf, ok := claims["iat"].(float64); ok {
		iat := time.Unix(int64(iatf), 0)
		if iat.After(time.Now().Add(v.cfg.Leeway).Add(5 * time.Minute)) {
			return nil, fmt.Errorf("%w: iat too far in future", ErrUnauthorized)
		}
	}

	if err := checkScopes(claims, v.cfg); err != nil {
		return nil, err
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("%w: missing sub", ErrUnauthorized)
	}

	return &userInfo{sub: sub, claims: claims}, nil
}

func checkScopes(claims jwt.MapClaims, cfg *Config) error {
	if len(cfg.RequiredScopes) == 0 {
		return nil
	}
	scopeStr, _ := claims["scope"].(string)
	have := map[string]bool{}
	for _, s := range strings.Fields(scopeStr) {
		have[s] = true
	}
	if cfg.ScopeModeAny {
		for _, want := range cfg.RequiredScopes {
			if have[want] {
				return nil
			}
		}
		return ErrInsufficientScope
	}
	for _, want := range cfg.RequiredScopes {
		if !have[want] {
			return ErrInsufficientScope
		}
	}
	return nil
}

func audIntersects(aud any, wants []string) bool {
	switch v := aud.(type) {
	case string:
		return slices.Contains(wants, v)
	case []any:
		for _, e := range v {
			if s, ok := e.(string); ok && slices.Contains(wants, s) {
				return true
			}
		}
	case []string:
		for _, s := range v {
			if slices.Contains(wants, s) {
				return true
			}
		}
	}
	return false
}

var _ Authenticator = (*validator)(nil)
