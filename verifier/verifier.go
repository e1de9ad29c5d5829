// Package verifier provides stateless verification of bearer tokens
// against the local signing key's public half.
//
// A valid, unexpired, correctly signed token is resolved into an
// authentication context from its embedded claims alone; no network or
// storage lookup is involved.
package verifier

import (
	"context"
	"crypto/rsa"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	auth "github.com/zdesk/auth-go"
	"github.com/zdesk/auth-go/metrics"
)

// Verifier implements auth.TokenVerifier with a fixed RSA public key.
type Verifier struct {
	public  *rsa.PublicKey
	metrics *metrics.Metrics
}

// compile-time check
var _ auth.TokenVerifier = (*Verifier)(nil)

// Option configures the Verifier.
type Option func(*Verifier)

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Metrics) Option {
	return func(v *Verifier) { v.metrics = m }
}

// New creates a verifier checking signatures against the given public key.
func New(public *rsa.PublicKey, opts ...Option) *Verifier {
	v := &Verifier{public: public}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Verify parses and validates the token and reconstructs its
// authentication context. Failures map onto the token error taxonomy:
// ErrMalformedToken, ErrInvalidSignature or ErrTokenExpired.
func (v *Verifier) Verify(ctx context.Context, tokenString string) (*auth.AuthContext, error) {
	start := time.Now()
	ac, err := v.verify(tokenString)
	if v.metrics != nil {
		result := "success"
		if err != nil {
			result = resultLabel(err)
		}
		v.metrics.RecordVerification(result, time.Since(start).Seconds())
	}
	return ac, err
}

func (v *Verifier) verify(tokenString string) (*auth.AuthContext, error) {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{"RS256"}), jwt.WithExpirationRequired())

	token, err := parser.Parse(tokenString, func(t *jwt.Token) (any, error) {
		return v.public, nil
	})
	if err != nil {
		return nil, mapJWTError(err)
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, auth.ErrMalformedToken
	}

	// Refresh tokens never authenticate a request directly.
	if use, _ := mapClaims["use"].(string); use == "refresh" {
		return nil, auth.ErrMalformedToken
	}

	return ToAuthContext(mapClaims), nil
}

// ToAuthContext converts a verified claim set into an AuthContext.
func ToAuthContext(m jwt.MapClaims) *auth.AuthContext {
	ac := &auth.AuthContext{
		Claims: make(map[string]any),
	}

	if v, ok := m["sub"].(string); ok {
		ac.Subject = v
	}
	if v, ok := m["client_id"].(string); ok {
		ac.ClientID = v
	}
	if v, ok := m["exp"].(float64); ok {
		ac.ExpiresAt = time.Unix(int64(v), 0)
	}
	if v, ok := m["iat"].(float64); ok {
		ac.IssuedAt = time.Unix(int64(v), 0)
	}
	ac.Scopes = toStrings(m["scope"])
	ac.Authorities = toStrings(m["authorities"])

	// Non-standard claims are preserved for access checks downstream.
	standard := map[string]bool{
		"sub": true, "client_id": true, "scope": true, "authorities": true,
		"iss": true, "exp": true, "iat": true, "aud": true, "nbf": true, "jti": true,
	}
	for k, v := range m {
		if !standard[k] {
			ac.Claims[k] = v
		}
	}

	return ac
}

func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return auth.ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return auth.ErrInvalidSignature
	default:
		return auth.ErrMalformedToken
	}
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, auth.ErrTokenExpired):
		return "expired"
	case errors.Is(err, auth.ErrInvalidSignature):
		return "bad_signature"
	default:
		return "malformed"
	}
}

func toStrings(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
