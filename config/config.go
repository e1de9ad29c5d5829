// Package config loads the authorization server's static configuration:
// registered clients, federated providers and the signing keystore.
//
// Configuration is read once at startup into an explicit object handed to
// the component constructors; core logic never reaches into ambient
// configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"

	auth "github.com/zdesk/auth-go"
)

// Config is the full startup configuration.
type Config struct {
	// Issuer is the external URL of this server, used as the "iss" claim.
	Issuer string `yaml:"issuer"`

	// Organization is a static claim stamped into every issued token.
	Organization string `yaml:"organization"`

	Keystore  Keystore   `yaml:"keystore"`
	Clients   []Client   `yaml:"clients"`
	Providers []Provider `yaml:"providers"`
}

// Keystore locates the signing key material.
type Keystore struct {
	Path     string `yaml:"path"`
	Password string `yaml:"password"`
}

// Client is one registered OAuth2 client entry.
type Client struct {
	ID                  string   `yaml:"id"`
	Secret              string   `yaml:"secret"` // bcrypt hash, or plaintext for dev
	GrantTypes          []string `yaml:"grant_types"`
	Scopes              []string `yaml:"scopes"`
	AutoApprove         bool     `yaml:"auto_approve"`
	AccessTokenSeconds  int      `yaml:"access_token_validity_seconds"`
	RefreshTokenSeconds int      `yaml:"refresh_token_validity_seconds"`
}

// Provider is one federated identity provider entry.
type Provider struct {
	ID           string   `yaml:"id"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	AuthURL      string   `yaml:"authorization_uri"`
	TokenURL     string   `yaml:"token_uri"`
	UserInfoURL  string   `yaml:"user_info_uri"`
	Scopes       []string `yaml:"scopes"`
}

// Load reads and parses the YAML configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses YAML configuration bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	return &cfg, nil
}

// ClientRegistry converts the client entries into a validated registry.
func (c *Config) ClientRegistry() (*auth.ClientRegistry, error) {
	clients := make([]auth.Client, 0, len(c.Clients))
	for _, entry := range c.Clients {
		grants := make([]auth.GrantType, 0, len(entry.GrantTypes))
		for _, g := range entry.GrantTypes {
			grants = append(grants, auth.GrantType(g))
		}
		clients = append(clients, auth.Client{
			ID:              entry.ID,
			SecretHash:      entry.Secret,
			GrantTypes:      grants,
			Scopes:          entry.Scopes,
			AutoApprove:     entry.AutoApprove,
			AccessTokenTTL:  time.Duration(entry.AccessTokenSeconds) * time.Second,
			RefreshTokenTTL: time.Duration(entry.RefreshTokenSeconds) * time.Second,
		})
	}
	return auth.NewClientRegistry(clients...)
}

// ProviderRegistry converts the provider entries into a validated
// registry.
func (c *Config) ProviderRegistry() (*auth.ProviderRegistry, error) {
	providers := make([]auth.ProviderConfig, 0, len(c.Providers))
	for _, entry := range c.Providers {
		providers = append(providers, auth.ProviderConfig{
			ID:           entry.ID,
			ClientID:     entry.ClientID,
			ClientSecret: entry.ClientSecret,
			AuthURL:      entry.AuthURL,
			TokenURL:     entry.TokenURL,
			UserInfoURL:  entry.UserInfoURL,
			Scopes:       entry.Scopes,
		})
	}
	return auth.NewProviderRegistry(providers...)
}
