package bridge_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	auth "github.com/zdesk/auth-go"
	"github.com/zdesk/auth-go/bridge"
)

// fakeProvider is an httptest identity provider with a token endpoint and
// a user-info endpoint whose behavior tests can swap out.
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

func (p *fakeProvider) config() auth.ProviderConfig {
	return auth.ProviderConfig{
		ID:           "corp-sso",
		ClientID:     "bridge-client",
		ClientSecret: "bridge-secret",
		AuthURL:      p.srv.URL + "/authorize",
		TokenURL:     p.srv.URL + "/token",
		UserInfoURL:  p.srv.URL + "/userinfo",
		Scopes:       []string{"openid"},
	}
}

// beginState starts an attempt and extracts the state parameter from the
// authorization redirect URL.
func beginState(t *testing.T, b *bridge.Bridge) string {
	t.Helper()
	redirect, err := b.Begin(context.Background(), "")
	if err != nil {
		t.Fatalf("Begin() unexpected error: %v", err)
	}
	u, err := url.Parse(redirect)
	if err != nil {
		t.Fatal(err)
	}
	state := u.Query().Get("state")
	if state == "" {
		t.Fatalf("redirect URL %q carries no state", redirect)
	}
	return state
}

func TestLoginFlow(t *testing.T) {
	p := newFakeProvider(t)
	b := bridge.New(p.config(), "https://auth.test/login/corp-sso/callback")

	state := beginState(t, b)
	principal, err := b.Complete(context.Background(), state, "good-code")
	if err != nil {
		t.Fatalf("Complete() unexpected error: %v", err)
	}
	if principal.SubjectID != "42" {
		t.Errorf("SubjectID = %q, want 42", principal.SubjectID)
	}
	if principal.DisplayName != "alice" {
		t.Errorf("DisplayName = %q, want alice", principal.DisplayName)
	}
	if principal.Provider != "corp-sso" {
		t.Errorf("Provider = %q, want corp-sso", principal.Provider)
	}
	if len(principal.Authorities) != 1 || principal.Authorities[0] != bridge.DefaultAuthority {
		t.Errorf("Authorities = %v, want [%s]", principal.Authorities, bridge.DefaultAuthority)
	}
	if got := b.AttemptState(state); got != bridge.StatePrincipalNormalized {
		t.Errorf("attempt state = %v, want %v", got, bridge.StatePrincipalNormalized)
	}

	b.MarkIssued(state)
	if got := b.AttemptState(state); got != bridge.StateLocalTokenIssued {
		t.Errorf("attempt state after issue = %v, want %v", got, bridge.StateLocalTokenIssued)
	}
}

func TestComplete_UnknownState(t *testing.T) {
	p := newFakeProvider(t)
	b := bridge.New(p.config(), "https://auth.test/cb")

	if _, err := b.Complete(context.Background(), "never-issued", "code"); !errors.Is(err, auth.ErrInvalidFlowState) {
		t.Fatalf("err = %v, want ErrInvalidFlowState", err)
	}
}

func TestComplete_ReplayedCallback(t *testing.T) {
	p := newFakeProvider(t)
	b := bridge.New(p.config(), "https://auth.test/cb")

	state := beginState(t, b)
	if _, err := b.Complete(context.Background(), state, "good-code"); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Complete(context.Background(), state, "good-code"); !errors.Is(err, auth.ErrInvalidFlowState) {
		t.Fatalf("replayed callback: err = %v, want ErrInvalidFlowState", err)
	}
}

func TestComplete_ProviderRejectsCode(t *testing.T) {
	p := newFakeProvider(t)
	p.token = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	}
	b := bridge.New(p.config(), "https://auth.test/cb")

	state := beginState(t, b)
	if _, err := b.Complete(context.Background(), state, "bad-code"); !errors.Is(err, auth.ErrProviderRejectedCode) {
		t.Fatalf("err = %v, want ErrProviderRejectedCode", err)
	}
	if got := b.AttemptState(state); got != bridge.StateFailed {
		t.Errorf("attempt state = %v, want %v", got, bridge.StateFailed)
	}
}

func TestComplete_ProviderUnreachable(t *testing.T) {
	p := newFakeProvider(t)
	cfg := p.config()
	p.srv.Close()
	b := bridge.New(cfg, "https://auth.test/cb")

	state := beginState(t, b)
	if _, err := b.Complete(context.Background(), state, "code"); !errors.Is(err, auth.ErrProviderUnreachable) {
		t.Fatalf("err = %v, want ErrProviderUnreachable", err)
	}
}

func TestComplete_UserInfoFailure(t *testing.T) {
	p := newFakeProvider(t)
	p.userInfo = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}
	b := bridge.New(p.config(), "https://auth.test/cb")

	state := beginState(t, b)
	if _, err := b.Complete(context.Background(), state, "good-code"); !errors.Is(err, auth.ErrInvalidProviderToken) {
		t.Fatalf("err = %v, want ErrInvalidProviderToken", err)
	}
	if got := b.AttemptState(state); got != bridge.StateFailed {
		t.Errorf("attempt state = %v, want %v", got, bridge.StateFailed)
	}
}

func TestFetchUserInfo_SwallowsFaults(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}},
		{"undecodable body", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("not json"))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newFakeProvider(t)
			p.userInfo = tt.handler
			b := bridge.New(p.config(), "https://auth.test/cb")

			info := b.FetchUserInfo(context.Background(), "provider-token")
			if got := info["error"]; got != bridge.SentinelError {
				t.Errorf(`info["error"] = %v, want %q`, got, bridge.SentinelError)
			}
		})
	}
}

func TestFetchUserInfo_SendsBearerToken(t *testing.T) {
	p := newFakeProvider(t)
	var gotAuth string
	p.userInfo = func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"id":"7"}`))
	}
	b := bridge.New(p.config(), "https://auth.test/cb")

	b.FetchUserInfo(context.Background(), "provider-token")
	if gotAuth != "Bearer provider-token" {
		t.Errorf("Authorization = %q, want Bearer provider-token", gotAuth)
	}
}

func TestNormalizePrincipal(t *testing.T) {
	p := newFakeProvider(t)
	b := bridge.New(p.config(), "https://auth.test/cb")

	tests := []struct {
		name        string
		info        map[string]any
		wantSubject string
		wantDisplay string
	}{
		{
			name:        "nested principal",
			info:        map[string]any{"principal": map[string]any{"id": "42", "name": "alice"}},
			wantSubject: "42",
			wantDisplay: "alice",
		},
		{
			name:        "flat login",
			info:        map[string]any{"login": "bob", "name": "Bob B"},
			wantSubject: "bob",
			wantDisplay: "Bob B",
		},
		{
			name:        "numeric id",
			info:        map[string]any{"id": float64(7), "name": "carol"},
			wantSubject: "7",
			wantDisplay: "carol",
		},
		{
			name:        "unrecognized shape",
			info:        map[string]any{"shape": "mystery"},
			wantSubject: "unknown",
			wantDisplay: "unknown",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			principal := b.NormalizePrincipal(tt.info)
			if principal.SubjectID != tt.wantSubject {
				t.Errorf("SubjectID = %q, want %q", principal.SubjectID, tt.wantSubject)
			}
			if principal.DisplayName != tt.wantDisplay {
				t.Errorf("DisplayName = %q, want %q", principal.DisplayName, tt.wantDisplay)
			}
			if principal.Provider != "corp-sso" {
				t.Errorf("Provider = %q, want corp-sso", principal.Provider)
			}
		})
	}
}

type uidExtractor struct{}

func (uidExtractor) ExtractPrincipal(info map[string]any) (string, string) {
	id, _ := info["uid"].(string)
	return id, id
}

func TestNormalizePrincipal_CustomExtractor(t *testing.T) {
	p := newFakeProvider(t)
	b := bridge.New(p.config(), "https://auth.test/cb",
		bridge.WithPrincipalExtractor(uidExtractor{}))

	principal := b.NormalizePrincipal(map[string]any{"uid": "u-9"})
	if principal.SubjectID != "u-9" {
		t.Errorf("SubjectID = %q, want u-9 (custom extractor)", principal.SubjectID)
	}
}
