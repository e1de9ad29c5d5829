// Package fake provides in-memory implementations of the auth interfaces
// for testing.
//
// Use these in unit tests to avoid key material, network calls and
// external identity providers.
package fake

import (
	"context"
	"sync"

	auth "github.com/zdesk/auth-go"
)

// PasswordAuthenticator is an in-memory auth.PasswordAuthenticator.
type PasswordAuthenticator struct {
	mu    sync.RWMutex
	users map[string]*userEntry
}

type userEntry struct {
	password    string
	subjectID   string
	displayName string
	authorities []string
}

// compile-time check
var _ auth.PasswordAuthenticator = (*PasswordAuthenticator)(nil)

// UserOption configures the fake authenticator.
type UserOption func(*PasswordAuthenticator)

// WithUser adds a user with the given credentials and authorities.
func WithUser(username, password, subjectID string, authorities []string) UserOption {
	return func(p *PasswordAuthenticator) {
		p.users[username] = &userEntry{
			password:    password,
			subjectID:   subjectID,
			displayName: username,
			authorities: authorities,
		}
	}
}

// NewPasswordAuthenticator creates a fake password authenticator.
func NewPasswordAuthenticator(opts ...UserOption) *PasswordAuthenticator {
	p := &PasswordAuthenticator{users: make(map[string]*userEntry)}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Authenticate checks the username/password pair against the registered
// users.
func (p *PasswordAuthenticator) Authenticate(_ context.Context, username, password string) (*auth.Principal, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	entry, ok := p.users[username]
	if !ok || entry.password != password {
		return nil, auth.ErrInvalidGrant
	}
	return &auth.Principal{
		SubjectID:   entry.subjectID,
		DisplayName: entry.displayName,
		Authorities: entry.authorities,
	}, nil
}

// Verifier is an in-memory auth.TokenVerifier mapping fixed token values
// to canned authentication contexts.
type Verifier struct {
	mu     sync.RWMutex
	tokens map[string]*auth.AuthContext
	err    error
}

var _ auth.TokenVerifier = (*Verifier)(nil)

// VerifierOption configures the fake verifier.
type VerifierOption func(*Verifier)

// WithToken registers a token value and the context it resolves to.
func WithToken(value string, ac *auth.AuthContext) VerifierOption {
	return func(v *Verifier) { v.tokens[value] = ac }
}

// WithVerifyError makes every Verify call fail with err.
func WithVerifyError(err error) VerifierOption {
	return func(v *Verifier) { v.err = err }
}

// NewVerifier creates a fake token verifier.
func NewVerifier(opts ...VerifierOption) *Verifier {
	v := &Verifier{tokens: make(map[string]*auth.AuthContext)}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Verify resolves a registered token value, or fails ErrMalformedToken.
func (v *Verifier) Verify(_ context.Context, token string) (*auth.AuthContext, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.err != nil {
		return nil, v.err
	}
	if ac, ok := v.tokens[token]; ok {
		return ac, nil
	}
	return nil, auth.ErrMalformedToken
}
