// Package auth provides the token check behind backend.Session.Authenticate.
//
// An Authenticator validates a bearer token string and returns a UserInfo (or
// an error). Backends call it from Authenticate and return its error
// unchanged, so callers of rtconn's Connect can match the sentinels below.
//
// # JWT Authentication
//
// Three constructors cover the usual key sources:
//
//	NewFromDiscovery : OpenID Connect discovery of issuer + jwks_uri
//	NewStatic        : a fixed JWKS URI, no discovery
//	NewSharedSecret  : HMAC (HS256) tokens signed with a shared secret
//
// Example:
//
//	authn, err := auth.NewFromDiscovery(ctx, "https://issuer.example", "rtdb://chat-prod",
//	    auth.WithRequiredScopes("db:read", "db:write"),
//	)
//	if err != nil { log.Fatal(err) }
//	b := memory.New(memory.WithAuthenticator(authn))
//
// # Scopes
//
// WithRequiredScopes enforces that all provided scopes are present in the
// token's space-delimited scope claim; WithAnyRequiredScope relaxes this so
// at least one matches.
//
// # Errors
//
// ErrUnauthorized signals the token is invalid (signature, expiry, audience,
// etc.). ErrInsufficientScope signals successful authentication but missing
// required scope(s).
package auth
