package auth

import "fmt"

// ClientRegistry is the process-wide read-only set of registered clients.
// It is initialized once at startup and safe for unlimited concurrent
// reads.
type ClientRegistry struct {
	clients map[string]*Client
}

// NewClientRegistry validates and indexes the given clients. Every client
// must have an id, at least one grant type, and positive token lifetimes.
func NewClientRegistry(clients ...Client) (*ClientRegistry, error) {
	m := make(map[string]*Client, len(clients))
	for i := range clients {
		c := clients[i]
		if c.ID == "" {
			return nil, fmt.Errorf("auth: client %d has no id", i)
		}
		if len(c.GrantTypes) == 0 {
			return nil, fmt.Errorf("auth: client %q has no grant types", c.ID)
		}
		if c.AccessTokenTTL <= 0 {
			return nil, fmt.Errorf("auth: client %q has non-positive access token TTL", c.ID)
		}
		if c.RefreshTokenTTL <= 0 {
			return nil, fmt.Errorf("auth: client %q has non-positive refresh token TTL", c.ID)
		}
		if _, dup := m[c.ID]; dup {
			return nil, fmt.Errorf("auth: duplicate client id %q", c.ID)
		}
		m[c.ID] = &c
	}
	return &ClientRegistry{clients: m}, nil
}

// Lookup returns the client with the given id.
func (r *ClientRegistry) Lookup(id string) (*Client, bool) {
	c, ok := r.clients[id]
	return c, ok
}

// Len returns the number of registered clients.
func (r *ClientRegistry) Len() int { return len(r.clients) }

// ProviderRegistry is the process-wide read-only set of federated identity
// provider configurations, keyed by provider id.
type ProviderRegistry struct {
	providers map[string]*ProviderConfig
}

// NewProviderRegistry validates and indexes the given provider configs.
func NewProviderRegistry(providers ...ProviderConfig) (*ProviderRegistry, error) {
	m := make(map[string]*ProviderConfig, len(providers))
	for i := range providers {
		p := providers[i]
		if p.ID == "" {
			return nil, fmt.Errorf("auth: provider %d has no id", i)
		}
		if p.TokenURL == "" || p.UserInfoURL == "" {
			return nil, fmt.Errorf("auth: provider %q missing token or user-info endpoint", p.ID)
		}
		if _, dup := m[p.ID]; dup {
			return nil, fmt.Errorf("auth: duplicate provider id %q", p.ID)
		}
		m[p.ID] = &p
	}
	return &ProviderRegistry{providers: m}, nil
}

// Lookup returns the provider config with the given id.
func (r *ProviderRegistry) Lookup(id string) (*ProviderConfig, bool) {
	p, ok := r.providers[id]
	return p, ok
}

// IDs returns the configured provider ids.
func (r *ProviderRegistry) IDs() []string {
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	return ids
}
