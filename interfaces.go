package auth

import "context"

// TokenIssuer validates a grant request against the client registry and
// mints a signed access token for the already-authenticated principal.
// Implementations: issuer/ (RS256 JWT), fake/ (testing).
type TokenIssuer interface {
	// Issue returns a signed token, or an error from the grant taxonomy.
	// It is all-or-nothing: no partial token is ever returned.
	Issue(ctx context.Context, req GrantRequest, principal Principal) (*AccessToken, error)
}

// RefreshTokenGranter redeems a refresh token for a new access token of
// the same or narrower scope. Implemented by issuer/.
type RefreshTokenGranter interface {
	Refresh(ctx context.Context, req GrantRequest) (*AccessToken, error)
}

// TokenVerifier checks a bearer token's signature, expiry and claims, and
// resolves it into an authentication context.
// Implementations: verifier/ (local public key), jwks/ (remote key set),
// fake/ (testing).
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*AuthContext, error)
}

// ClaimsEnhancer appends custom claims to a token before it is signed.
// Enhancers run in a fixed order; each may read but must not remove claims
// set by a prior enhancer. Enhancing the same token twice with the same
// inputs must yield the same claim set.
type ClaimsEnhancer interface {
	Enhance(token *AccessToken, principal Principal)
}

// PasswordAuthenticator authenticates a resource-owner password credential
// into a local principal. The issuer never sees raw passwords; the caller
// authenticates first and passes the principal to Issue.
type PasswordAuthenticator interface {
	Authenticate(ctx context.Context, username, password string) (*Principal, error)
}

// IdentityBridge turns a third-party provider's proof of authentication
// into a locally valid principal. One bridge per configured provider.
// Implementation: bridge/.
type IdentityBridge interface {
	// Begin starts a login attempt and returns the provider authorization
	// URL the user agent should be redirected to.
	Begin(ctx context.Context, clientState string) (authURL string, err error)

	// Complete consumes the provider callback: exchanges the code,
	// fetches user info and normalizes it into a principal. The state must
	// match an attempt created by Begin; replayed or out-of-order
	// callbacks fail with ErrInvalidFlowState.
	Complete(ctx context.Context, state, code string) (*Principal, error)
}
