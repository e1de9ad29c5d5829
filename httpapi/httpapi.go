// Package httpapi exposes the authorization server over HTTP using Gin:
// the token endpoint, the check-token endpoint, the published key set and
// the per-provider login endpoints.
package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	auth "github.com/zdesk/auth-go"
	"github.com/zdesk/auth-go/issuer"
	"github.com/zdesk/auth-go/jwks"
	"github.com/zdesk/auth-go/keys"
)

// Handler wires the server core into Gin routes.
type Handler struct {
	srv   *auth.Server
	pair  *keys.Pair
	codes *issuer.CodeStore
	now   func() time.Time

	// ssoClientID names the local application client that SSO logins are
	// issued under.
	ssoClientID     string
	ssoClientSecret string
}

// Option configures the Handler.
type Option func(*Handler)

// WithKeyPair enables the published JWKS endpoint for the signing key.
func WithKeyPair(pair *keys.Pair) Option {
	return func(h *Handler) { h.pair = pair }
}

// WithCodeStore enables the authorization_code grant at the token
// endpoint.
func WithCodeStore(codes *issuer.CodeStore) Option {
	return func(h *Handler) { h.codes = codes }
}

// WithSSOClient sets the local client that federated logins mint tokens
// for.
func WithSSOClient(clientID, clientSecret string) Option {
	return func(h *Handler) {
		h.ssoClientID = clientID
		h.ssoClientSecret = clientSecret
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// New creates an HTTP handler for the given server core.
func New(srv *auth.Server, opts ...Option) *Handler {
	h := &Handler{srv: srv, now: time.Now}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Register mounts all routes on the Gin engine.
func (h *Handler) Register(r *gin.Engine) {
	r.POST("/oauth/token", h.Token)
	r.POST("/oauth/check_token", h.CheckToken)
	if h.pair != nil {
		r.GET("/.well-known/jwks.json", gin.WrapH(jwks.Handler(h.pair)))
	}
	r.GET("/login/:provider", h.Login)
	r.GET("/login/:provider/callback", h.Callback)
}

// tokenResponse is the success body of the token endpoint. Additional
// claims are flattened alongside the standard fields.
func (h *Handler) tokenResponse(token *auth.AccessToken) gin.H {
	body := gin.H{
		"access_token": token.Value,
		"token_type":   token.TokenType,
		"expires_in":   token.ExpiresIn(h.now()),
		"scope":        strings.Join(token.Scopes, " "),
	}
	if token.RefreshToken != nil {
		body["refresh_token"] = token.RefreshToken.Value
	}
	for k, v := range token.AdditionalClaims {
		body[k] = v
	}
	return body
}

// Token handles the grant endpoint for all supported grant types.
func (h *Handler) Token(c *gin.Context) {
	req := grantRequest(c)

	var (
		token *auth.AccessToken
		err   error
	)
	switch req.GrantType {
	case auth.GrantClientCredentials:
		principal := auth.Principal{
			SubjectID:   req.ClientID,
			DisplayName: req.ClientID,
			Authorities: []string{"ROLE_CLIENT"},
		}
		token, err = h.srv.Issuer().Issue(c.Request.Context(), req, principal)

	case auth.GrantPassword, auth.GrantImplicit:
		passwords := h.srv.Passwords()
		if passwords == nil {
			writeError(c, http.StatusBadRequest, "unsupported_grant_type", "password login not configured")
			return
		}
		principal, authErr := passwords.Authenticate(c.Request.Context(), req.Username, req.Password)
		if authErr != nil {
			writeError(c, http.StatusBadRequest, "invalid_grant", "bad user credentials")
			return
		}
		token, err = h.srv.Issuer().Issue(c.Request.Context(), req, *principal)

	case auth.GrantRefreshToken:
		granter, ok := h.srv.Issuer().(auth.RefreshTokenGranter)
		if !ok {
			writeError(c, http.StatusBadRequest, "unsupported_grant_type", "refresh not supported")
			return
		}
		token, err = granter.Refresh(c.Request.Context(), req)

	case auth.GrantAuthorizationCode:
		if h.codes == nil {
			writeError(c, http.StatusBadRequest, "unsupported_grant_type", "authorization codes not configured")
			return
		}
		principal, scopes, codeErr := h.codes.Consume(req.Code, req.ClientID, req.RedirectURI)
		if codeErr != nil {
			writeGrantError(c, codeErr)
			return
		}
		if len(req.Scopes) == 0 {
			req.Scopes = scopes
		}
		token, err = h.srv.Issuer().Issue(c.Request.Context(), req, principal)

	default:
		writeError(c, http.StatusBadRequest, "unsupported_grant_type", "unknown grant_type")
		return
	}

	if err != nil {
		writeGrantError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.tokenResponse(token))
}

// CheckToken verifies a bearer token for trusted callers and returns its
// decoded claims, or 401 on any verification failure.
func (h *Handler) CheckToken(c *gin.Context) {
	verifier := h.srv.Verifier()
	if verifier == nil {
		writeError(c, http.StatusInternalServerError, "server_error", "verifier not configured")
		return
	}

	tokenValue := c.PostForm("token")
	if tokenValue == "" {
		tokenValue = bearerToken(c.Request)
	}
	if tokenValue == "" {
		writeError(c, http.StatusUnauthorized, "invalid_token", "no token supplied")
		return
	}

	ac, err := verifier.Verify(c.Request.Context(), tokenValue)
	if err != nil {
		writeError(c, http.StatusUnauthorized, "invalid_token", err.Error())
		return
	}

	body := gin.H{
		"active":      true,
		"sub":         ac.Subject,
		"client_id":   ac.ClientID,
		"scope":       strings.Join(ac.Scopes, " "),
		"exp":         ac.ExpiresAt.Unix(),
		"iat":         ac.IssuedAt.Unix(),
		"authorities": ac.Authorities,
	}
	for k, v := range ac.Claims {
		body[k] = v
	}
	c.JSON(http.StatusOK, body)
}

// Login starts a federated login by redirecting to the provider.
func (h *Handler) Login(c *gin.Context) {
	providerID := c.Param("provider")
	bridge, ok := h.srv.Bridge(providerID)
	if !ok {
		writeError(c, http.StatusNotFound, "invalid_request", "unknown provider")
		return
	}

	authURL, err := bridge.Begin(c.Request.Context(), c.Query("state"))
	if err != nil {
		h.srv.Logger().Error("begin login failed", "provider", providerID, "error", err)
		writeError(c, http.StatusInternalServerError, "server_error", "could not start login")
		return
	}
	c.Redirect(http.StatusFound, authURL)
}

// Callback consumes the provider redirect, drives the bridge, and issues
// a local token for the application client.
func (h *Handler) Callback(c *gin.Context) {
	providerID := c.Param("provider")
	bridge, ok := h.srv.Bridge(providerID)
	if !ok {
		writeError(c, http.StatusNotFound, "invalid_request", "unknown provider")
		return
	}

	if errParam := c.Query("error"); errParam != "" {
		writeError(c, http.StatusUnauthorized, "access_denied", errParam)
		return
	}

	state := c.Query("state")
	principal, err := bridge.Complete(c.Request.Context(), state, c.Query("code"))
	if err != nil {
		writeLoginError(c, err)
		return
	}

	req := auth.GrantRequest{
		GrantType:    auth.GrantPassword,
		ClientID:     h.ssoClientID,
		ClientSecret: h.ssoClientSecret,
	}
	token, err := h.srv.Issuer().Issue(c.Request.Context(), req, *principal)
	if err != nil {
		writeGrantError(c, err)
		return
	}

	if marker, ok := bridge.(interface{ MarkIssued(string) }); ok {
		marker.MarkIssued(state)
	}
	c.JSON(http.StatusOK, h.tokenResponse(token))
}

// grantRequest reads the token-endpoint form. Client credentials are
// accepted both as form fields and HTTP basic auth.
func grantRequest(c *gin.Context) auth.GrantRequest {
	clientID := c.PostForm("client_id")
	clientSecret := c.PostForm("client_secret")
	if basicID, basicSecret, ok := c.Request.BasicAuth(); ok {
		clientID, clientSecret = basicID, basicSecret
	}

	var scopes []string
	if raw := strings.TrimSpace(c.PostForm("scope")); raw != "" {
		scopes = strings.Fields(raw)
	}

	return auth.GrantRequest{
		GrantType:    auth.GrantType(c.PostForm("grant_type")),
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Scopes:       scopes,
		Username:     c.PostForm("username"),
		Password:     c.PostForm("password"),
		RefreshToken: c.PostForm("refresh_token"),
		Code:         c.PostForm("code"),
		RedirectURI:  c.PostForm("redirect_uri"),
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}

// writeGrantError maps a taxonomy error onto an RFC 6749 error body.
func writeGrantError(c *gin.Context, err error) {
	code := auth.OAuthCode(err)
	status := http.StatusBadRequest
	switch {
	case code == "invalid_client":
		status = http.StatusUnauthorized
	case !auth.IsClientError(err):
		status = http.StatusInternalServerError
	}
	writeError(c, status, code, err.Error())
}

// writeLoginError maps bridge failures onto login responses. Provider
// faults surface as authentication failures, never server errors.
func writeLoginError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidFlowState):
		writeError(c, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, auth.ErrProviderUnreachable),
		errors.Is(err, auth.ErrProviderRejectedCode),
		errors.Is(err, auth.ErrInvalidProviderToken):
		writeError(c, http.StatusUnauthorized, "access_denied", err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "server_error", err.Error())
	}
}

func writeError(c *gin.Context, status int, code, description string) {
	c.JSON(status, gin.H{"error": code, "error_description": description})
}
