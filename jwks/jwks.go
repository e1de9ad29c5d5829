// Package jwks publishes the signing key's public half as a JWKS (JSON
// Web Key Set, RFC 7517) and verifies tokens against a remote key set.
//
// The remote verifier is the check-token read path for trusted services
// that must validate bearer tokens without holding the private key: they
// fetch the RSA public keys from the key set endpoint, cache them locally,
// and verify RS256 signatures offline.
package jwks

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	auth "github.com/zdesk/auth-go"
	"github.com/zdesk/auth-go/keys"
	"github.com/zdesk/auth-go/verifier"
)

// KeySet is the JWKS document for the server's signing keys.
type KeySet struct {
	Keys []Key `json:"keys"`
}

// Key is one JWK entry.
type Key struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// FromPair builds the published key set for a signing key pair.
func FromPair(pair *keys.Pair) KeySet {
	return KeySet{Keys: []Key{{
		Kty: "RSA",
		Use: "sig",
		Kid: pair.KeyID,
		Alg: "RS256",
		N:   base64.RawURLEncoding.EncodeToString(pair.Public.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pair.Public.E)).Bytes()),
	}}}
}

// Handler serves the key set at a well-known endpoint.
func Handler(pair *keys.Pair) http.Handler {
	set := FromPair(pair)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(set)
	})
}

// RemoteVerifier implements auth.TokenVerifier against a remote JWKS
// endpoint.
type RemoteVerifier struct {
	jwksURL         string
	httpClient      *http.Client
	refreshInterval time.Duration

	sf singleflight.Group

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey // kid → public key
	lastFetch time.Time
}

// compile-time check
var _ auth.TokenVerifier = (*RemoteVerifier)(nil)

// Option configures the RemoteVerifier.
type Option func(*RemoteVerifier)

// WithHTTPClient sets a custom HTTP client for fetching the key set.
func WithHTTPClient(c *http.Client) Option {
	return func(v *RemoteVerifier) { v.httpClient = c }
}

// WithRefreshInterval sets how often cached keys are refreshed.
// Default: 1 hour.
func WithRefreshInterval(d time.Duration) Option {
	return func(v *RemoteVerifier) { v.refreshInterval = d }
}

// NewRemoteVerifier creates a verifier that fetches public keys from the
// given JWKS URL.
func NewRemoteVerifier(jwksURL string, opts ...Option) *RemoteVerifier {
	v := &RemoteVerifier{
		jwksURL:         jwksURL,
		httpClient:      http.DefaultClient,
		refreshInterval: 1 * time.Hour,
		keys:            make(map[string]*rsa.PublicKey),
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Verify validates a bearer token against the remote key set and returns
// its authentication context.
func (v *RemoteVerifier) Verify(ctx context.Context, tokenString string) (*auth.AuthContext, error) {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{"RS256"}), jwt.WithExpirationRequired())

	token, err := parser.Parse(tokenString, func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		return v.getKey(ctx, kid)
	})
	if err != nil {
		return nil, mapJWTError(err)
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, auth.ErrMalformedToken
	}
	if use, _ := mapClaims["use"].(string); use == "refresh" {
		return nil, auth.ErrMalformedToken
	}

	return verifier.ToAuthContext(mapClaims), nil
}

// getKey returns the RSA public key for the given kid, fetching/refreshing
// as needed.
func (v *RemoteVerifier) getKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	v.mu.RLock()
	key, found := v.keys[kid]
	stale := time.Since(v.lastFetch) > v.refreshInterval
	v.mu.RUnlock()

	if found && !stale {
		return key, nil
	}

	// Fetch fresh keys (kid mismatch or cache expired). Concurrent
	// requests collapse onto one fetch.
	if _, err, _ := v.sf.Do("refresh", func() (any, error) {
		return nil, v.refresh(ctx)
	}); err != nil {
		if found {
			return key, nil // use stale key if refresh fails
		}
		return nil, err
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	if key, ok := v.keys[kid]; ok {
		return key, nil
	}

	// No kid specified — use the first available key
	if kid == "" {
		for _, k := range v.keys {
			return k, nil
		}
	}

	return nil, fmt.Errorf("auth/jwks: key not found for kid %q", kid)
}

// refresh fetches the key set from the configured URL and updates the
// cache.
func (v *RemoteVerifier) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.jwksURL, nil)
	if err != nil {
		return fmt.Errorf("auth/jwks: create request: %w", err)
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("auth/jwks: fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("auth/jwks: fetch returned status %d", resp.StatusCode)
	}

	var set KeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("auth/jwks: decode: %w", err)
	}

	fresh := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, jwk := range set.Keys {
		if jwk.Kty != "RSA" || (jwk.Use != "" && jwk.Use != "sig") {
			continue
		}
		pub, err := jwk.rsaPublicKey()
		if err != nil {
			continue // skip malformed keys
		}
		fresh[jwk.Kid] = pub
	}

	if len(fresh) == 0 {
		return fmt.Errorf("auth/jwks: no valid RSA signing keys found")
	}

	v.mu.Lock()
	v.keys = fresh
	v.lastFetch = time.Now()
	v.mu.Unlock()

	return nil
}

func (k *Key) rsaPublicKey() (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(new(big.Int).SetBytes(eBytes).Int64()),
	}, nil
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
