package httpapi_test

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	auth "github.com/zdesk/auth-go"
	"github.com/zdesk/auth-go/bridge"
	"github.com/zdesk/auth-go/enhancer"
	"github.com/zdesk/auth-go/fake"
	"github.com/zdesk/auth-go/httpapi"
	"github.com/zdesk/auth-go/issuer"
	"github.com/zdesk/auth-go/keys"
	"github.com/zdesk/auth-go/verifier"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeProvider backs the SSO callback tests with a controllable identity
// provider.
type fakeProvider struct {
	srv      *httptest.Server
	token    http.HandlerFunc
	userInfo http.HandlerFunc
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	p := &fakeProvider{}
	p.token = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"provider-token","token_type":"bearer"}`))
	}
	p.userInfo = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"principal":{"id":"42","name":"alice"}}`))
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) { p.token(w, r) })
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) { p.userInfo(w, r) })
	p.srv = httptest.NewServer(mux)
	t.Cleanup(p.srv.Close)
	return p
}

type testServer struct {
	engine   *gin.Engine
	codes    *issuer.CodeStore
	provider *fakeProvider
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	pair := keys.FromPrivateKey(key, "test-key")

	registry, err := auth.NewClientRegistry(auth.Client{
		ID:         "zdesk",
		SecretHash: "zdesksecret",
		GrantTypes: []auth.GrantType{
			auth.GrantClientCredentials, auth.GrantPassword,
			auth.GrantRefreshToken, auth.GrantAuthorizationCode,
		},
		Scopes:          []string{"read", "write"},
		AutoApprove:     true,
		AccessTokenTTL:  600 * time.Second,
		RefreshTokenTTL: 1200 * time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}

	iss := issuer.New(registry, pair, "https://auth.test",
		issuer.WithEnhancerChain(enhancer.NewChain(enhancer.Organization("facebook"))))

	provider := newFakeProvider(t)
	br := bridge.New(auth.ProviderConfig{
		ID:           "corp-sso",
		ClientID:     "bridge-client",
		ClientSecret: "bridge-secret",
		AuthURL:      provider.srv.URL + "/authorize",
		TokenURL:     provider.srv.URL + "/token",
		UserInfoURL:  provider.srv.URL + "/userinfo",
	}, "https://auth.test/login/corp-sso/callback")

	srv, err := auth.NewServer(auth.Config{Issuer: "https://auth.test"},
		auth.WithClientRegistry(registry),
		auth.WithTokenIssuer(iss),
		auth.WithTokenVerifier(verifier.New(pair.Public)),
		auth.WithPasswordAuthenticator(fake.NewPasswordAuthenticator(
			fake.WithUser("alice", "s3cret", "user-42", []string{"ROLE_USER"}),
		)),
		auth.WithBridge("corp-sso", br),
	)
	if err != nil {
		t.Fatal(err)
	}

	codes := issuer.NewCodeStore(0)
	handler := httpapi.New(srv,
		httpapi.WithKeyPair(pair),
		httpapi.WithCodeStore(codes),
		httpapi.WithSSOClient("zdesk", "zdesksecret"),
	)

	engine := gin.New()
	handler.Register(engine)
	return &testServer{engine: engine, codes: codes, provider: provider}
}

func (ts *testServer) post(t *testing.T, path string, form url.Values) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	ts.engine.ServeHTTP(w, req)
	return w, decodeBody(t, w)
}

func (ts *testServer) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	ts.engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("undecodable response body %q: %v", w.Body.String(), err)
	}
	return body
}

func passwordForm(scope string) url.Values {
	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("client_id", "zdesk")
	form.Set("client_secret", "zdesksecret")
	form.Set("username", "alice")
	form.Set("password", "s3cret")
	if scope != "" {
		form.Set("scope", scope)
	}
	return form
}

func TestToken_PasswordGrant(t *testing.T) {
	ts := newTestServer(t)

	w, body := ts.post(t, "/oauth/token", passwordForm("read write"))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if tok, _ := body["access_token"].(string); tok == "" {
		t.Error("missing access_token")
	}
	if body["token_type"] != "bearer" {
		t.Errorf("token_type = %v, want bearer", body["token_type"])
	}
	if exp, _ := body["expires_in"].(float64); exp <= 0 || exp > 600 {
		t.Errorf("expires_in = %v, want (0, 600]", body["expires_in"])
	}
	if body["scope"] != "read write" {
		t.Errorf("scope = %v, want \"read write\"", body["scope"])
	}
	if body["refresh_token"] == nil {
		t.Error("missing refresh_token")
	}
	if body["organization"] != "facebook" {
		t.Errorf("organization = %v, want facebook (flattened claim)", body["organization"])
	}
}

func TestToken_ClientCredentials(t *testing.T) {
	ts := newTestServer(t)

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	req := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth("zdesk", "zdesksecret")
	w := httptest.NewRecorder()
	ts.engine.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["refresh_token"] != nil {
		t.Error("client_credentials response must not carry a refresh token")
	}
}

func TestToken_BadClientSecret(t *testing.T) {
	ts := newTestServer(t)

	form := passwordForm("")
	form.Set("client_secret", "wrong")
	w, body := ts.post(t, "/oauth/token", form)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if body["error"] != "invalid_client" {
		t.Errorf("error = %v, want invalid_client", body["error"])
	}
}

func TestToken_BadUserCredentials(t *testing.T) {
	ts := newTestServer(t)

	form := passwordForm("")
	form.Set("password", "wrong")
	w, body := ts.post(t, "/oauth/token", form)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if body["error"] != "invalid_grant" {
		t.Errorf("error = %v, want invalid_grant", body["error"])
	}
}

func TestToken_UnknownGrantType(t *testing.T) {
	ts := newTestServer(t)

	form := url.Values{}
	form.Set("grant_type", "telepathy")
	form.Set("client_id", "zdesk")
	form.Set("client_secret", "zdesksecret")
	w, body := ts.post(t, "/oauth/token", form)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if body["error"] != "unsupported_grant_type" {
		t.Errorf("error = %v, want unsupported_grant_type", body["error"])
	}
}

func TestToken_RefreshGrant(t *testing.T) {
	ts := newTestServer(t)

	_, body := ts.post(t, "/oauth/token", passwordForm("read write"))
	refresh, _ := body["refresh_token"].(string)
	if refresh == "" {
		t.Fatal("no refresh token issued")
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", "zdesk")
	form.Set("client_secret", "zdesksecret")
	form.Set("refresh_token", refresh)
	form.Set("scope", "read")
	w, next := ts.post(t, "/oauth/token", form)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if next["scope"] != "read" {
		t.Errorf("scope = %v, want read (narrowed)", next["scope"])
	}
	if next["access_token"] == body["access_token"] {
		t.Error("refresh must mint a fresh access token")
	}
}

func TestToken_AuthorizationCode(t *testing.T) {
	ts := newTestServer(t)

	code := ts.codes.Create(auth.Principal{SubjectID: "user-42", DisplayName: "alice"},
		"zdesk", "https://app.test/cb", []string{"read"})

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("client_id", "zdesk")
	form.Set("client_secret", "zdesksecret")
	form.Set("code", code)
	form.Set("redirect_uri", "https://app.test/cb")
	w, body := ts.post(t, "/oauth/token", form)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if body["scope"] != "read" {
		t.Errorf("scope = %v, want read (bound to the code)", body["scope"])
	}

	// A replayed code must be rejected.
	w, body = ts.post(t, "/oauth/token", form)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("replayed code: status = %d, want 400", w.Code)
	}
	if body["error"] != "invalid_grant" {
		t.Errorf("error = %v, want invalid_grant", body["error"])
	}
}

func TestCheckToken(t *testing.T) {
	ts := newTestServer(t)

	_, issued := ts.post(t, "/oauth/token", passwordForm("read"))
	token, _ := issued["access_token"].(string)

	form := url.Values{}
	form.Set("token", token)
	w, body := ts.post(t, "/oauth/check_token", form)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if body["active"] != true {
		t.Error("token should be reported active")
	}
	if body["sub"] != "user-42" {
		t.Errorf("sub = %v, want user-42", body["sub"])
	}
	if body["organization"] != "facebook" {
		t.Errorf("organization = %v, want facebook", body["organization"])
	}
}

func TestCheckToken_Invalid(t *testing.T) {
	ts := newTestServer(t)

	form := url.Values{}
	form.Set("token", "garbage")
	w, body := ts.post(t, "/oauth/check_token", form)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if body["error"] != "invalid_token" {
		t.Errorf("error = %v, want invalid_token", body["error"])
	}
}

func TestJWKSEndpoint(t *testing.T) {
	ts := newTestServer(t)

	w := ts.get(t, "/.well-known/jwks.json")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := decodeBody(t, w)
	keySet, _ := body["keys"].([]any)
	if len(keySet) != 1 {
		t.Fatalf("keys = %v, want one entry", body["keys"])
	}
}

func TestLogin_Redirects(t *testing.T) {
	ts := newTestServer(t)

	w := ts.get(t, "/login/corp-sso")
	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", w.Code)
	}
	location := w.Header().Get("Location")
	u, err := url.Parse(location)
	if err != nil {
		t.Fatal(err)
	}
	if u.Path != "/authorize" {
		t.Errorf("redirect path = %q, want /authorize", u.Path)
	}
	if u.Query().Get("state") == "" {
		t.Errorf("redirect %q carries no state", location)
	}
}

func TestLogin_UnknownProvider(t *testing.T) {
	ts := newTestServer(t)

	if w := ts.get(t, "/login/nowhere"); w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestCallback(t *testing.T) {
	ts := newTestServer(t)

	redirect := ts.get(t, "/login/corp-sso")
	u, err := url.Parse(redirect.Header().Get("Location"))
	if err != nil {
		t.Fatal(err)
	}
	state := u.Query().Get("state")

	w := ts.get(t, "/login/corp-sso/callback?state="+state+"&code=good-code")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	tok, _ := body["access_token"].(string)
	if tok == "" {
		t.Fatal("missing access_token")
	}

	form := url.Values{}
	form.Set("token", tok)
	_, checked := ts.post(t, "/oauth/check_token", form)
	if checked["sub"] != "42" {
		t.Errorf("sub = %v, want 42 (normalized from the provider)", checked["sub"])
	}
}

func TestCallback_BadState(t *testing.T) {
	ts := newTestServer(t)

	w := ts.get(t, "/login/corp-sso/callback?state=never-issued&code=x")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if body := decodeBody(t, w); body["error"] != "invalid_request" {
		t.Errorf("error = %v, want invalid_request", body["error"])
	}
}

func TestCallback_ProviderError(t *testing.T) {
	ts := newTestServer(t)

	w := ts.get(t, "/login/corp-sso/callback?error=access_denied")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestCallback_ProviderRejectsCode(t *testing.T) {
	ts := newTestServer(t)
	ts.provider.token = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	}

	redirect := ts.get(t, "/login/corp-sso")
	u, err := url.Parse(redirect.Header().Get("Location"))
	if err != nil {
		t.Fatal(err)
	}
	state := u.Query().Get("state")

	w := ts.get(t, "/login/corp-sso/callback?state="+state+"&code=bad-code")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if body := decodeBody(t, w); body["error"] != "access_denied" {
		t.Errorf("error = %v, want access_denied", body["error"])
	}
}
