// Package issuer implements token issuance: grant validation against the
// client registry and minting of signed, claims-enriched bearer tokens.
//
// Issuance is a pure function of its validated inputs plus the current
// time. On any validation failure no partial token is returned.
package issuer

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	auth "github.com/zdesk/auth-go"
	"github.com/zdesk/auth-go/audit"
	"github.com/zdesk/auth-go/keys"
	"github.com/zdesk/auth-go/metrics"
)

// Issuer mints RS256-signed JWT access tokens.
type Issuer struct {
	clients   *auth.ClientRegistry
	pair      *keys.Pair
	chain     auth.ClaimsEnhancer
	issuerURL string
	logger    *slog.Logger
	metrics   *metrics.Metrics
	auditor   *audit.Logger
	now       func() time.Time
}

// compile-time checks
var (
	_ auth.TokenIssuer         = (*Issuer)(nil)
	_ auth.RefreshTokenGranter = (*Issuer)(nil)
)

// Option configures the Issuer.
type Option func(*Issuer)

// WithEnhancerChain sets the claims enrichment chain run before signing.
func WithEnhancerChain(c auth.ClaimsEnhancer) Option {
	return func(i *Issuer) { i.chain = c }
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(i *Issuer) { i.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Metrics) Option {
	return func(i *Issuer) { i.metrics = m }
}

// WithAuditor sets the audit logger.
func WithAuditor(a *audit.Logger) Option {
	return func(i *Issuer) { i.auditor = a }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) { i.now = now }
}

// New creates a token issuer signing with the given key pair. issuerURL
// becomes the "iss" claim of every minted token.
func New(clients *auth.ClientRegistry, pair *keys.Pair, issuerURL string, opts ...Option) *Issuer {
	i := &Issuer{
		clients:   clients,
		pair:      pair,
		issuerURL: issuerURL,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, o := range opts {
		o(i)
	}
	return i
}

// Issue validates the grant request and mints a signed access token for
// the authenticated principal. Grant-type-specific authentication of the
// principal (password check, federated bridge, client-only identity) is
// the caller's responsibility.
func (i *Issuer) Issue(ctx context.Context, req auth.GrantRequest, principal auth.Principal) (*auth.AccessToken, error) {
	client, ok := i.clients.Lookup(req.ClientID)
	if !ok {
		return nil, i.deny(req, "", auth.ErrUnknownClient)
	}
	if !secretMatches(client.SecretHash, req.ClientSecret) {
		return nil, i.deny(req, principal.SubjectID, auth.ErrInvalidClientCredentials)
	}
	if !client.AllowsGrant(req.GrantType) {
		return nil, i.deny(req, principal.SubjectID, auth.ErrUnsupportedGrantType)
	}

	scopes, err := resolveScopes(client, req.Scopes)
	if err != nil {
		return nil, i.deny(req, principal.SubjectID, err)
	}

	now := i.now()
	token := &auth.AccessToken{
		TokenType:        "bearer",
		IssuedAt:         now,
		ExpiresAt:        now.Add(client.AccessTokenTTL),
		Scopes:           scopes,
		Subject:          principal.SubjectID,
		AdditionalClaims: make(map[string]any),
	}

	if refreshEligible(client, req.GrantType) {
		refresh, err := i.mintRefresh(client, principal, scopes, now)
		if err != nil {
			return nil, fmt.Errorf("auth/issuer: mint refresh token: %w", err)
		}
		token.RefreshToken = refresh
	}

	if i.chain != nil {
		i.chain.Enhance(token, principal)
	}

	if err := i.sign(token, client, principal, now); err != nil {
		return nil, fmt.Errorf("auth/issuer: sign token: %w", err)
	}

	i.logger.Debug("token issued",
		"client_id", client.ID,
		"grant_type", string(req.GrantType),
		"subject", principal.SubjectID,
		"scopes", scopes)
	if i.metrics != nil {
		i.metrics.RecordTokenIssued(string(req.GrantType))
	}
	if i.auditor != nil {
		i.auditor.Log(audit.Event{
			Action:   audit.ActionTokenIssued,
			Subject:  principal.SubjectID,
			ClientID: client.ID,
			Result:   audit.ResultSuccess,
			Details:  strings.Join(scopes, " "),
		})
	}

	return token, nil
}

// Refresh redeems a refresh token for a new access token of the same or
// narrower scope. The refresh token must verify against the signing key
// and must not be expired.
func (i *Issuer) Refresh(ctx context.Context, req auth.GrantRequest) (*auth.AccessToken, error) {
	claims, err := i.parseRefresh(req.RefreshToken)
	if err != nil {
		return nil, err
	}
	if claims.ClientID != req.ClientID {
		return nil, i.deny(req, claims.Subject, auth.ErrInvalidGrant)
	}

	// Default to the original scopes; an explicit request may only narrow.
	scopes := req.Scopes
	if len(scopes) == 0 {
		scopes = claims.Scopes
	} else {
		for _, s := range scopes {
			if !contains(claims.Scopes, s) {
				return nil, i.deny(req, claims.Subject, auth.ErrInvalidScope)
			}
		}
	}

	principal := auth.Principal{
		SubjectID:   claims.Subject,
		DisplayName: claims.DisplayName,
		Authorities: claims.Authorities,
		Provider:    claims.Provider,
	}
	next := req
	next.Scopes = scopes
	return i.Issue(ctx, next, principal)
}

// refreshClaims is the claim set carried by a refresh token. Enough is
// embedded to reconstruct the principal without any server-side state.
type refreshClaims struct {
	Subject     string
	ClientID    string
	Scopes      []string
	DisplayName string
	Authorities []string
	Provider    string
}

func (i *Issuer) parseRefresh(value string) (*refreshClaims, error) {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{"RS256"}), jwt.WithExpirationRequired())
	token, err := parser.Parse(value, func(t *jwt.Token) (any, error) {
		return i.pair.Public, nil
	})
	if err != nil {
		return nil, mapJWTError(err)
	}
	mc, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, auth.ErrMalformedToken
	}
	if use, _ := mc["use"].(string); use != "refresh" {
		return nil, auth.ErrInvalidGrant
	}

	rc := &refreshClaims{}
	rc.Subject, _ = mc["sub"].(string)
	rc.ClientID, _ = mc["client_id"].(string)
	rc.DisplayName, _ = mc["display_name"].(string)
	rc.Provider, _ = mc["provider"].(string)
	rc.Scopes = stringSlice(mc["scope"])
	rc.Authorities = stringSlice(mc["authorities"])
	return rc, nil
}

func (i *Issuer) sign(token *auth.AccessToken, client *auth.Client, principal auth.Principal, now time.Time) error {
	claims := jwt.MapClaims{
		"iss":       i.issuerURL,
		"sub":       token.Subject,
		"iat":       now.Unix(),
		"exp":       token.ExpiresAt.Unix(),
		"jti":       randomID(),
		"client_id": client.ID,
		"scope":     token.Scopes,
	}
	if len(principal.Authorities) > 0 {
		claims["authorities"] = principal.Authorities
	}
	for k, v := range token.AdditionalClaims {
		claims[k] = v
	}

	jt := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	jt.Header["kid"] = i.pair.KeyID
	signed, err := jt.SignedString(i.pair.Private)
	if err != nil {
		return err
	}
	token.Value = signed
	return nil
}

func (i *Issuer) mintRefresh(client *auth.Client, principal auth.Principal, scopes []string, now time.Time) (*auth.RefreshToken, error) {
	expiresAt := now.Add(client.RefreshTokenTTL)
	claims := jwt.MapClaims{
		"iss":       i.issuerURL,
		"sub":       principal.SubjectID,
		"iat":       now.Unix(),
		"exp":       expiresAt.Unix(),
		"jti":       randomID(),
		"use":       "refresh",
		"client_id": client.ID,
		"scope":     scopes,
	}
	if principal.DisplayName != "" {
		claims["display_name"] = principal.DisplayName
	}
	if principal.Provider != "" {
		claims["provider"] = principal.Provider
	}
	if len(principal.Authorities) > 0 {
		claims["authorities"] = principal.Authorities
	}

	jt := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	jt.Header["kid"] = i.pair.KeyID
	signed, err := jt.SignedString(i.pair.Private)
	if err != nil {
		return nil, err
	}
	return &auth.RefreshToken{
		Value:     signed,
		ExpiresAt: expiresAt,
		Subject:   principal.SubjectID,
		ClientID:  client.ID,
	}, nil
}

// deny records a failed grant and returns the error unchanged.
func (i *Issuer) deny(req auth.GrantRequest, subject string, err error) error {
	i.logger.Info("grant denied",
		"client_id", req.ClientID,
		"grant_type", string(req.GrantType),
		"reason", err.Error())
	if i.metrics != nil {
		i.metrics.RecordGrantDenied(string(req.GrantType), auth.OAuthCode(err))
	}
	if i.auditor != nil {
		i.auditor.Log(audit.Event{
			Action:   audit.ActionGrantDenied,
			Subject:  subject,
			ClientID: req.ClientID,
			Result:   audit.ResultDenied,
			Error:    err.Error(),
		})
	}
	return err
}

// secretMatches compares the presented secret against the stored one in
// constant time. Bcrypt hashes are recognized by prefix; anything else is
// treated as a plaintext dev secret.
func secretMatches(stored, presented string) bool {
	if strings.HasPrefix(stored, "$2a$") || strings.HasPrefix(stored, "$2b$") || strings.HasPrefix(stored, "$2y$") {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(presented)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) == 1
}

// resolveScopes applies the scope policy: empty request defaults to the
// client's full scope set; out-of-set scopes fail unless the client is
// auto-approve, in which case the request is silently narrowed to the
// intersection.
func resolveScopes(client *auth.Client, requested []string) ([]string, error) {
	if len(requested) == 0 {
		out := make([]string, len(client.Scopes))
		copy(out, client.Scopes)
		return out, nil
	}

	var granted []string
	for _, s := range requested {
		if client.AllowsScope(s) {
			granted = append(granted, s)
		} else if !client.AutoApprove {
			return nil, auth.ErrInvalidScope
		}
	}
	if len(granted) == 0 {
		return nil, auth.ErrInvalidScope
	}
	return granted, nil
}

// refreshEligible reports whether this grant should carry a refresh token.
// The client must allow the refresh_token grant, and token-only flows
// (implicit, client_credentials) never get one.
func refreshEligible(client *auth.Client, gt auth.GrantType) bool {
	if gt == auth.GrantImplicit || gt == auth.GrantClientCredentials {
		return false
	}
	return client.AllowsGrant(auth.GrantRefreshToken)
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

func stringSlice(v any) []string {
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

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func randomID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand never fails on supported platforms
		panic(err)
	}
	return hex.EncodeToString(b)
}
