// Package auth provides the core of an OAuth2 authorization server with
// federated login support.
//
// The package defines the domain types (clients, principals, tokens), the
// error taxonomy, and the interfaces for token issuance, verification and
// identity bridging. Concrete implementations live in subpackages and are
// injected via Option functions:
//
//	srv, err := auth.NewServer(
//	    auth.Config{Issuer: "https://auth.zdesk.example"},
//	    auth.WithClientRegistry(clients),
//	    auth.WithTokenIssuer(iss),
//	    auth.WithTokenVerifier(ver),
//	    auth.WithBridge("github", ghBridge),
//	)
package auth

import (
	"fmt"
	"io"
	"log/slog"
)

// Server is the assembled authorization server core. All components are
// built once at startup via ordinary constructor calls; after NewServer
// returns, the Server holds no mutable shared state.
type Server struct {
	config    Config
	logger    *slog.Logger
	clients   *ClientRegistry
	providers *ProviderRegistry
	issuer    TokenIssuer
	verifier  TokenVerifier
	passwords PasswordAuthenticator
	bridges   map[string]IdentityBridge
}

// Config holds server-wide behavior configuration.
type Config struct {
	// Issuer is the value of the "iss" claim in minted tokens, typically
	// the external URL of this server.
	Issuer string
}

// Option configures the Server.
type Option func(*Server)

// WithLogger sets a structured logger for the server.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithClientRegistry sets the registered OAuth2 clients.
func WithClientRegistry(r *ClientRegistry) Option {
	return func(s *Server) { s.clients = r }
}

// WithProviderRegistry sets the federated provider configurations.
func WithProviderRegistry(r *ProviderRegistry) Option {
	return func(s *Server) { s.providers = r }
}

// WithTokenIssuer sets the token issuance implementation.
func WithTokenIssuer(i TokenIssuer) Option {
	return func(s *Server) { s.issuer = i }
}

// WithTokenVerifier sets the token verification implementation.
func WithTokenVerifier(v TokenVerifier) Option {
	return func(s *Server) { s.verifier = v }
}

// WithPasswordAuthenticator sets the resource-owner password authenticator.
func WithPasswordAuthenticator(p PasswordAuthenticator) Option {
	return func(s *Server) { s.passwords = p }
}

// WithBridge registers an identity bridge for the given provider id.
// Dispatch is by provider id, one bridge per configured provider.
func WithBridge(providerID string, b IdentityBridge) Option {
	return func(s *Server) {
		if s.bridges == nil {
			s.bridges = make(map[string]IdentityBridge)
		}
		s.bridges[providerID] = b
	}
}

// NewServer creates a new authorization server with the given
// configuration and options. A token issuer is required; everything else
// is optional and gates the corresponding endpoint.
func NewServer(cfg Config, opts ...Option) (*Server, error) {
	s := &Server{config: cfg}
	for _, o := range opts {
		o(s)
	}
	if s.issuer == nil {
		return nil, fmt.Errorf("auth: a token issuer is required")
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s, nil
}

// Config returns the server configuration.
func (s *Server) Config() Config { return s.config }

// Logger returns the server's structured logger.
func (s *Server) Logger() *slog.Logger { return s.logger }

// Clients returns the client registry, or nil if not configured.
func (s *Server) Clients() *ClientRegistry { return s.clients }

// Providers returns the provider registry, or nil if not configured.
func (s *Server) Providers() *ProviderRegistry { return s.providers }

// Issuer returns the token issuer.
func (s *Server) Issuer() TokenIssuer { return s.issuer }

// Verifier returns the token verifier, or nil if not configured.
func (s *Server) Verifier() TokenVerifier { return s.verifier }

// Passwords returns the password authenticator, or nil if not configured.
func (s *Server) Passwords() PasswordAuthenticator { return s.passwords }

// Bridge returns the identity bridge for the given provider id.
func (s *Server) Bridge(providerID string) (IdentityBridge, bool) {
	b, ok := s.bridges[providerID]
	return b, ok
}

// Close releases all resources held by the server. Any injected component
// that implements io.Closer will be closed.
func (s *Server) Close() error {
	closers := []any{s.issuer, s.verifier, s.passwords}
	for _, b := range s.bridges {
		closers = append(closers, b)
	}
	var firstErr error
	for _, c := range closers {
		if cl, ok := c.(io.Closer); ok && cl != nil {
			if err := cl.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
