package jwtauth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
)

// NewFromDiscovery performs OIDC discovery against cfg.Issuer to find the
// jwks_uri and builds an Authenticator whose keys auto-refresh.
func NewFromDiscovery(ctx context.Context, cfg *Config) (Authenticator, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	cfg.applyDefaults("RS256")

	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery failed: %w", err)
	}
	var meta struct {
		Issuer  string `json:"issuer"`
		JwksURI string `json:"jwks_uri"`
	}
	if err := provider.Claims(&meta); err != nil {
		return nil, fmt.Errorf("invalid discovery metadata: %w", err)
	}
	missing := []string{}
	if meta.JwksURI == "" {
		missing = append(missing, "jwks_uri")
	}
	if meta.Issuer == "" {
		missing = append(missing, "issuer")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("discovery incomplete: missing %s", strings.Join(missing, ", "))
	}

	kf, err := keyfunc.NewDefaultCtx(ctx, []string{meta.JwksURI})
	if err != nil {
		return nil, fmt.Errorf("jwks init failed: %w", err)
	}

	return &validator{
		cfg:     cfg,
		issuer:  meta.Issuer,
		keyfunc: restrictAlgs(cfg.AllowedAlgs, kf.Keyfunc),
	}, nil
}

// NewStatic builds an Authenticator whose keys come from a fixed JWKS URI,
// skipping discovery.
func NewStatic(ctx context.Context, cfg *Config, jwksURI string) (Authenticator, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if jwksURI == "" {
		return nil, errors.New("jwks uri required")
	}
	cfg.applyDefaults("RS256")

	kf, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURI})
	if err != nil {
		return nil, fmt.Errorf("jwks init failed: %w", err)
	}
	return &validator{
		cfg:     cfg,
		issuer:  cfg.Issuer,
		keyfunc: restrictAlgs(cfg.AllowedAlgs, kf.Keyfunc),
	}, nil
}

// NewSharedSecret builds an Authenticator for HMAC signed tokens. Issuer is
// only enforced when cfg.Issuer is set.
func NewSharedSecret(cfg *Config, secret []byte) (Authenticator, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if len(secret) == 0 {
		return nil, errors.New("secret is required")
	}
	cfg.applyDefaults("HS256")
	key := append([]byte(nil), secret...)
	return &validator{
		cfg:    cfg,
		issuer: cfg.Issuer,
		keyfunc: restrictAlgs(cfg.AllowedAlgs, func(*jwt.Token) (any, error) {
			return key, nil
		}),
	}, nil
}
