package auth

import "time"

// GrantType is an OAuth2 grant type as it appears on the wire.
type GrantType string

// Grant types accepted by the token endpoint.
const (
	GrantClientCredentials GrantType = "client_credentials"
	GrantPassword          GrantType = "password"
	GrantRefreshToken      GrantType = "refresh_token"
	GrantAuthorizationCode GrantType = "authorization_code"
	GrantImplicit          GrantType = "implicit"
)

// Client is a registered OAuth2 client. Clients are loaded once at startup
// and never mutated afterwards.
type Client struct {
	ID string

	// SecretHash is the bcrypt hash of the client secret. A plaintext
	// secret from a dev config is also accepted; the issuer detects the
	// bcrypt prefix and falls back to a constant-time compare.
	SecretHash string

	GrantTypes  []GrantType
	Scopes      []string
	AutoApprove bool

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// AllowsGrant reports whether the client may use the given grant type.
func (c *Client) AllowsGrant(gt GrantType) bool {
	for _, g := range c.GrantTypes {
		if g == gt {
			return true
		}
	}
	return false
}

// AllowsScope reports whether the scope is within the client's allowed set.
func (c *Client) AllowsScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Principal is the authenticated identity a token is issued for. It covers
// both local logins (username + authorities) and federated logins (provider
// id + fields normalized from the provider's user-info payload).
type Principal struct {
	SubjectID   string
	DisplayName string
	Authorities []string

	// Provider is the federated provider id ("facebook", "github", ...),
	// or empty for a local principal.
	Provider string

	// RawClaims holds the provider's user-info payload for federated
	// principals. Nil for local principals.
	RawClaims map[string]any
}

// GrantRequest is one token-endpoint request. It is transient and never
// persisted.
type GrantRequest struct {
	GrantType    GrantType
	ClientID     string
	ClientSecret string
	Scopes       []string

	// Grant-specific credentials. Only the fields for the requested grant
	// type are consulted.
	Username     string
	Password     string
	RefreshToken string
	Code         string
	RedirectURI  string
}

// AccessToken is a minted, signed access token. It is self-contained:
// signature plus embedded expiry is authoritative and verification needs no
// server-side lookup.
type AccessToken struct {
	Value     string
	TokenType string // always "bearer"
	IssuedAt  time.Time
	ExpiresAt time.Time
	Scopes    []string
	Subject   string

	// AdditionalClaims are custom claims appended by the enrichment chain
	// before signing.
	AdditionalClaims map[string]any

	// RefreshToken is present only when the client's grant types include
	// refresh_token and the grant is eligible for one.
	RefreshToken *RefreshToken
}

// ExpiresIn returns the remaining lifetime in whole seconds.
func (t *AccessToken) ExpiresIn(now time.Time) int64 {
	return int64(t.ExpiresAt.Sub(now).Seconds())
}

// RefreshToken mints a replacement access token of the same or narrower
// scope. It is a signed value like the access token; presenting it after
// ExpiresAt fails verification.
type RefreshToken struct {
	Value     string
	ExpiresAt time.Time
	Subject   string
	ClientID  string
}

// AuthContext is the authentication context reconstructed from a verified
// bearer token.
type AuthContext struct {
	Subject     string
	ClientID    string
	Scopes      []string
	Authorities []string
	IssuedAt    time.Time
	ExpiresAt   time.Time

	// Claims holds the non-standard claims embedded in the token.
	Claims map[string]any
}

// HasScope reports whether the context carries the given scope.
func (a *AuthContext) HasScope(scope string) bool {
	for _, s := range a.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// ProviderConfig describes one federated identity provider. Loaded at
// startup, read-only afterwards.
type ProviderConfig struct {
	ID           string
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
	Scopes       []string
}
