package bridge

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"
)

// State is the position of a login attempt in its state machine.
type State string

// Login attempt states, in order. StateFailed is terminal and reachable
// from any step.
const (
	StateInitiated           State = "INITIATED"
	StateProviderRedirected  State = "PROVIDER_REDIRECTED"
	StateCallbackReceived    State = "PROVIDER_CALLBACK_RECEIVED"
	StateTokenExchanged      State = "PROVIDER_TOKEN_EXCHANGED"
	StateUserInfoFetched     State = "USERINFO_FETCHED"
	StatePrincipalNormalized State = "PRINCIPAL_NORMALIZED"
	StateLocalTokenIssued    State = "LOCAL_TOKEN_ISSUED"
	StateFailed              State = "FAILED"
)

// attemptTTL is how long a pending attempt stays valid between the
// redirect to the provider and the callback.
const attemptTTL = 10 * time.Minute

// attempt is one in-flight login. The id doubles as the OAuth2 state
// parameter sent to the provider.
type attempt struct {
	id          string
	clientState string
	expiresAt   time.Time

	mu       sync.Mutex
	current  State
	consumed bool
}

func (a *attempt) transition(next State) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == StateFailed {
		return // terminal
	}
	a.current = next
}

func (a *attempt) state() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// attemptStore holds pending attempts keyed by state parameter. Expired
// entries are swept on every mutation.
type attemptStore struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.Mutex
	attempts map[string]*attempt
}

func newAttemptStore(ttl time.Duration, now func() time.Time) *attemptStore {
	return &attemptStore{
		ttl:      ttl,
		now:      now,
		attempts: make(map[string]*attempt),
	}
}

func (s *attemptStore) create(clientState string) *attempt {
	a := &attempt{
		id:          randomState(),
		clientState: clientState,
		expiresAt:   s.now().Add(s.ttl),
		current:     StateInitiated,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep()
	s.attempts[a.id] = a
	return a
}

// consume marks the attempt as used. A missing, expired or already
// consumed attempt returns false: callbacks are strictly one-time and
// must follow their matching redirect.
func (s *attemptStore) consume(id string) (*attempt, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep()

	a, ok := s.attempts[id]
	if !ok {
		return nil, false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.consumed {
		return nil, false
	}
	a.consumed = true
	return a, true
}

// get returns the attempt regardless of consumption, for state
// inspection. Nil if unknown or expired.
func (s *attemptStore) get(id string) *attempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[id]
	if !ok || s.now().After(a.expiresAt) {
		return nil
	}
	return a
}

// sweep removes expired attempts. Caller holds s.mu.
func (s *attemptStore) sweep() {
	now := s.now()
	for id, a := range s.attempts {
		if now.After(a.expiresAt) {
			delete(s.attempts, id)
		}
	}
}

func randomState() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}
