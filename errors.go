package auth

import "errors"

// Grant errors. Surfaced to callers as 4xx-equivalents with a stable
// OAuth2 error code (see OAuthCode).
var (
	ErrUnknownClient            = errors.New("auth: unknown client")
	ErrInvalidClientCredentials = errors.New("auth: invalid client credentials")
	ErrUnsupportedGrantType     = errors.New("auth: grant type not allowed for client")
	ErrInvalidScope             = errors.New("auth: requested scope exceeds client scopes")
	ErrInvalidGrant             = errors.New("auth: invalid grant credentials")
)

// Token errors. Always surfaced as unauthenticated, never as a server
// fault.
var (
	ErrMalformedToken   = errors.New("auth: malformed token")
	ErrInvalidSignature = errors.New("auth: invalid token signature")
	ErrTokenExpired     = errors.New("auth: token expired")
)

// Provider errors. Surfaced as a login failure; provider-side faults are
// swallowed and converted, never propagated raw.
var (
	ErrProviderUnreachable  = errors.New("auth: identity provider unreachable")
	ErrProviderRejectedCode = errors.New("auth: identity provider rejected authorization code")
	ErrInvalidProviderToken = errors.New("auth: provider token did not authenticate")
	ErrInvalidFlowState     = errors.New("auth: login callback does not match a pending attempt")
)

// OAuthCode maps an error from the taxonomy above to its RFC 6749 error
// code. Unrecognized errors map to "server_error".
func OAuthCode(err error) string {
	switch {
	case errors.Is(err, ErrUnknownClient), errors.Is(err, ErrInvalidClientCredentials):
		return "invalid_client"
	case errors.Is(err, ErrUnsupportedGrantType):
		return "unsupported_grant_type"
	case errors.Is(err, ErrInvalidScope):
		return "invalid_scope"
	case errors.Is(err, ErrInvalidGrant),
		errors.Is(err, ErrTokenExpired),
		errors.Is(err, ErrMalformedToken),
		errors.Is(err, ErrInvalidSignature),
		errors.Is(err, ErrProviderRejectedCode),
		errors.Is(err, ErrInvalidProviderToken):
		return "invalid_grant"
	default:
		return "server_error"
	}
}

// IsClientError reports whether the error is caller-attributable (4xx)
// rather than a server fault.
func IsClientError(err error) bool {
	return OAuthCode(err) != "server_error"
}
