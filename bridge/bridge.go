// Package bridge exchanges a third-party identity provider's proof of
// authentication for a verified local principal.
//
// One Bridge is built per configured provider. A login attempt walks a
// strict state machine (initiated → redirected → callback received →
// token exchanged → user-info fetched → principal normalized → local
// token issued); a callback that does not match a pending attempt fails
// with ErrInvalidFlowState rather than guessing.
//
// Provider faults are deliberately swallowed: a user-info fetch that
// fails for any reason yields the sentinel error map instead of an
// exception, so a flaky provider degrades to a clean login failure and
// never crashes the authentication path.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	auth "github.com/zdesk/auth-go"
	"github.com/zdesk/auth-go/audit"
	"github.com/zdesk/auth-go/metrics"
)

// SentinelError is the value of the "error" key in the map returned when
// user details cannot be fetched from the provider.
const SentinelError = "Could not fetch user details"

// DefaultTimeout bounds each outbound provider call.
const DefaultTimeout = 10 * time.Second

// Bridge drives federated login against one identity provider.
type Bridge struct {
	provider   auth.ProviderConfig
	oauth      *oauth2.Config
	httpClient *http.Client
	timeout    time.Duration
	attempts   *attemptStore

	principalExtractor   PrincipalExtractor
	authoritiesExtractor AuthoritiesExtractor

	logger  *slog.Logger
	metrics *metrics.Metrics
	auditor *audit.Logger
}

// compile-time check
var _ auth.IdentityBridge = (*Bridge)(nil)

// Option configures the Bridge.
type Option func(*Bridge)

// WithHTTPClient sets a custom HTTP client for provider calls.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Bridge) { b.httpClient = c }
}

// WithTimeout bounds each outbound provider call. A call exceeding the
// timeout fails ErrProviderUnreachable instead of hanging the login.
func WithTimeout(d time.Duration) Option {
	return func(b *Bridge) { b.timeout = d }
}

// WithPrincipalExtractor overrides the fallback principal extractor used
// when the payload does not carry the nested principal shape.
func WithPrincipalExtractor(e PrincipalExtractor) Option {
	return func(b *Bridge) { b.principalExtractor = e }
}

// WithAuthoritiesExtractor overrides the authorities extractor.
func WithAuthoritiesExtractor(e AuthoritiesExtractor) Option {
	return func(b *Bridge) { b.authoritiesExtractor = e }
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) { b.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Bridge) { b.metrics = m }
}

// WithAuditor sets the audit logger.
func WithAuditor(a *audit.Logger) Option {
	return func(b *Bridge) { b.auditor = a }
}

// New creates a bridge for the given provider configuration. callbackURL
// is the local endpoint the provider redirects back to.
func New(provider auth.ProviderConfig, callbackURL string, opts ...Option) *Bridge {
	b := &Bridge{
		provider: provider,
		oauth: &oauth2.Config{
			ClientID:     provider.ClientID,
			ClientSecret: provider.ClientSecret,
			RedirectURL:  callbackURL,
			Scopes:       provider.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  provider.AuthURL,
				TokenURL: provider.TokenURL,
			},
		},
		httpClient:           &http.Client{Timeout: DefaultTimeout},
		timeout:              DefaultTimeout,
		attempts:             newAttemptStore(attemptTTL, time.Now),
		principalExtractor:   GenericPrincipalExtractor{},
		authoritiesExtractor: FixedAuthoritiesExtractor{},
		logger:               slog.Default(),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// ProviderID returns the id of the provider this bridge talks to.
func (b *Bridge) ProviderID() string { return b.provider.ID }

// Begin starts a login attempt: it records a one-time state value and
// returns the provider authorization URL to redirect the user agent to.
func (b *Bridge) Begin(ctx context.Context, clientState string) (string, error) {
	attempt := b.attempts.create(clientState)
	attempt.transition(StateProviderRedirected)
	return b.oauth.AuthCodeURL(attempt.id), nil
}

// Complete consumes the provider callback. It validates the state against
// a pending attempt, exchanges the code for a provider token, fetches the
// user info and normalizes it into a principal.
func (b *Bridge) Complete(ctx context.Context, state, code string) (*auth.Principal, error) {
	attempt, ok := b.attempts.consume(state)
	if !ok {
		b.failed(nil, "", auth.ErrInvalidFlowState)
		return nil, auth.ErrInvalidFlowState
	}
	attempt.transition(StateCallbackReceived)

	providerToken, err := b.ExchangeCode(ctx, code)
	if err != nil {
		return nil, b.failed(attempt, "", err)
	}
	attempt.transition(StateTokenExchanged)

	info := b.FetchUserInfo(ctx, providerToken.AccessToken)
	if errMsg, present := info["error"]; present {
		b.logger.Debug("userinfo returned error", "provider", b.provider.ID, "error", errMsg)
		return nil, b.failed(attempt, "", auth.ErrInvalidProviderToken)
	}
	attempt.transition(StateUserInfoFetched)

	principal := b.NormalizePrincipal(info)
	attempt.transition(StatePrincipalNormalized)

	b.logger.Info("federated login normalized",
		"provider", b.provider.ID,
		"subject", principal.SubjectID)
	return &principal, nil
}

// MarkIssued records that the local token issuance for this attempt
// completed, closing the state machine. It is a no-op for unknown states
// so the bridge-to-issuer hand-off stays atomic from the caller's view.
func (b *Bridge) MarkIssued(state string) {
	if attempt := b.attempts.get(state); attempt != nil {
		attempt.transition(StateLocalTokenIssued)
	}
	if b.metrics != nil {
		b.metrics.RecordSSOLogin(b.provider.ID, "success")
	}
	if b.auditor != nil {
		b.auditor.Log(audit.Event{
			Action:   audit.ActionSSOLogin,
			Provider: b.provider.ID,
			Result:   audit.ResultSuccess,
		})
	}
}

// AttemptState reports the state of a login attempt, for diagnostics and
// tests. Returns StateFailed for unknown attempts that were never created.
func (b *Bridge) AttemptState(state string) State {
	if attempt := b.attempts.get(state); attempt != nil {
		return attempt.state()
	}
	return StateFailed
}

// ExchangeCode exchanges an authorization code at the provider's token
// endpoint. A rejected code fails ErrProviderRejectedCode; transport
// faults and timeouts fail ErrProviderUnreachable.
func (b *Bridge) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, b.httpClient)

	start := time.Now()
	token, err := b.oauth.Exchange(ctx, code)
	if b.metrics != nil {
		b.metrics.RecordProviderCall(b.provider.ID, "exchange", time.Since(start).Seconds())
	}
	if err != nil {
		var retrieve *oauth2.RetrieveError
		if errors.As(err, &retrieve) {
			return nil, fmt.Errorf("%w: %s", auth.ErrProviderRejectedCode, retrieve.Response.Status)
		}
		return nil, fmt.Errorf("%w: %v", auth.ErrProviderUnreachable, err)
	}
	return token, nil
}

// FetchUserInfo calls the provider's user-info endpoint bearing the
// provider access token. It never returns an error: any transport fault,
// non-2xx response or undecodable body yields the sentinel error map so
// the caller can react uniformly.
func (b *Bridge) FetchUserInfo(ctx context.Context, providerAccessToken string) map[string]any {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if b.metrics != nil {
			b.metrics.RecordProviderCall(b.provider.ID, "userinfo", time.Since(start).Seconds())
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.provider.UserInfoURL, nil)
	if err != nil {
		return b.sentinel(err)
	}
	req.Header.Set("Authorization", "Bearer "+providerAccessToken)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return b.sentinel(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return b.sentinel(fmt.Errorf("userinfo returned status %d", resp.StatusCode))
	}

	var info map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return b.sentinel(err)
	}
	return info
}

// NormalizePrincipal extracts a principal from the provider's user-info
// payload. A payload carrying the nested principal shape maps directly;
// anything else goes through the configured fallback extractor, which
// defaults the subject to "unknown" when no identifier is found.
func (b *Bridge) NormalizePrincipal(info map[string]any) auth.Principal {
	principal := auth.Principal{
		Provider:  b.provider.ID,
		RawClaims: info,
	}

	if nested, ok := info["principal"].(map[string]any); ok {
		principal.SubjectID, _ = nested["id"].(string)
		principal.DisplayName, _ = nested["name"].(string)
	} else {
		principal.SubjectID, principal.DisplayName = b.principalExtractor.ExtractPrincipal(info)
	}
	if principal.SubjectID == "" {
		principal.SubjectID = "unknown"
	}
	if principal.DisplayName == "" {
		principal.DisplayName = principal.SubjectID
	}

	principal.Authorities = b.authoritiesExtractor.ExtractAuthorities(info)
	return principal
}

// sentinel logs the swallowed provider fault and returns the uniform
// error map.
func (b *Bridge) sentinel(err error) map[string]any {
	b.logger.Warn("could not fetch user details",
		"provider", b.provider.ID,
		"error", err)
	return map[string]any{"error": SentinelError}
}

// failed moves the attempt to its terminal state, records the outcome and
// returns the error.
func (b *Bridge) failed(attempt *attempt, subject string, err error) error {
	if attempt != nil {
		attempt.transition(StateFailed)
	}
	if b.metrics != nil {
		b.metrics.RecordSSOLogin(b.provider.ID, "failure")
	}
	if b.auditor != nil {
		b.auditor.Log(audit.Event{
			Action:   audit.ActionSSOLogin,
			Subject:  subject,
			Provider: b.provider.ID,
			Result:   audit.ResultFailure,
			Error:    err.Error(),
		})
	}
	return err
}
