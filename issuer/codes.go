package issuer

import (
	"sync"
	"time"

	auth "github.com/zdesk/auth-go"
)

// CodeStore holds pending authorization codes for the authorization_code
// grant. Codes are single-use and expire after a short TTL; consuming a
// code removes it, so a replayed code always fails.
type CodeStore struct {
	ttl time.Duration
	now func() time.Time

	mu    sync.Mutex
	codes map[string]*codeEntry
}

type codeEntry struct {
	principal   auth.Principal
	clientID    string
	redirectURI string
	scopes      []string
	expiresAt   time.Time
}

// CodeOption configures the CodeStore.
type CodeOption func(*CodeStore)

// WithCodeClock overrides the time source, for tests.
func WithCodeClock(now func() time.Time) CodeOption {
	return func(s *CodeStore) { s.now = now }
}

// DefaultCodeTTL is how long an authorization code stays redeemable.
const DefaultCodeTTL = 2 * time.Minute

// NewCodeStore creates an in-memory authorization code store.
func NewCodeStore(ttl time.Duration, opts ...CodeOption) *CodeStore {
	if ttl <= 0 {
		ttl = DefaultCodeTTL
	}
	s := &CodeStore{
		ttl:   ttl,
		now:   time.Now,
		codes: make(map[string]*codeEntry),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Create mints a new single-use code bound to the principal, client and
// redirect URI.
func (s *CodeStore) Create(principal auth.Principal, clientID, redirectURI string, scopes []string) string {
	code := randomID()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[code] = &codeEntry{
		principal:   principal,
		clientID:    clientID,
		redirectURI: redirectURI,
		scopes:      scopes,
		expiresAt:   s.now().Add(s.ttl),
	}
	return code
}

// Consume redeems a code. The code is deleted on first lookup regardless
// of outcome, and the client and redirect URI must match what the code was
// bound to. All failures return ErrInvalidGrant.
func (s *CodeStore) Consume(code, clientID, redirectURI string) (auth.Principal, []string, error) {
	s.mu.Lock()
	entry, ok := s.codes[code]
	delete(s.codes, code)
	s.mu.Unlock()

	if !ok {
		return auth.Principal{}, nil, auth.ErrInvalidGrant
	}
	if s.now().After(entry.expiresAt) {
		return auth.Principal{}, nil, auth.ErrInvalidGrant
	}
	if entry.clientID != clientID || entry.redirectURI != redirectURI {
		return auth.Principal{}, nil, auth.ErrInvalidGrant
	}
	return entry.principal, entry.scopes, nil
}
