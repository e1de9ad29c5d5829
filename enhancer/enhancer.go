// Package enhancer provides the claims enrichment chain applied to a
// minted token before signing.
//
// Enhancers run in the order they were chained. Each enhancer may read
// claims set by a prior one but must not remove them; on a key conflict
// the last write wins. The chain is idempotent: re-applying it to the same
// token and principal leaves the claim set unchanged.
package enhancer

import (
	auth "github.com/zdesk/auth-go"
)

// Chain applies an ordered list of enhancers.
type Chain struct {
	enhancers []auth.ClaimsEnhancer
}

// compile-time check
var _ auth.ClaimsEnhancer = (*Chain)(nil)

// NewChain creates a chain that runs the given enhancers in order.
func NewChain(enhancers ...auth.ClaimsEnhancer) *Chain {
	return &Chain{enhancers: enhancers}
}

// Enhance runs every enhancer in the chain against the token.
func (c *Chain) Enhance(token *auth.AccessToken, principal auth.Principal) {
	if token.AdditionalClaims == nil {
		token.AdditionalClaims = make(map[string]any)
	}
	for _, e := range c.enhancers {
		e.Enhance(token, principal)
	}
}

// Static injects fixed claims into every token, e.g. an organization
// marker shared by all logins.
type Static struct {
	claims map[string]any
}

var _ auth.ClaimsEnhancer = (*Static)(nil)

// NewStatic creates an enhancer that sets the given claims verbatim.
func NewStatic(claims map[string]any) *Static {
	return &Static{claims: claims}
}

// Organization returns a Static enhancer setting the "organization" claim.
func Organization(org string) *Static {
	return NewStatic(map[string]any{"organization": org})
}

// Enhance copies the static claims onto the token.
func (s *Static) Enhance(token *auth.AccessToken, _ auth.Principal) {
	if token.AdditionalClaims == nil {
		token.AdditionalClaims = make(map[string]any)
	}
	for k, v := range s.claims {
		token.AdditionalClaims[k] = v
	}
}

// PrincipalClaims derives claims from the authenticated principal: the
// display name, the originating provider (for federated logins) and the
// granted authorities.
type PrincipalClaims struct{}

var _ auth.ClaimsEnhancer = (*PrincipalClaims)(nil)

// NewPrincipalClaims creates a principal-derived claims enhancer.
func NewPrincipalClaims() *PrincipalClaims { return &PrincipalClaims{} }

// Enhance sets display_name, provider and authorities claims from the
// principal. Empty fields are skipped so re-runs stay stable.
func (p *PrincipalClaims) Enhance(token *auth.AccessToken, principal auth.Principal) {
	if token.AdditionalClaims == nil {
		token.AdditionalClaims = make(map[string]any)
	}
	if principal.DisplayName != "" {
		token.AdditionalClaims["display_name"] = principal.DisplayName
	}
	if principal.Provider != "" {
		token.AdditionalClaims["provider"] = principal.Provider
	}
	if len(principal.Authorities) > 0 {
		token.AdditionalClaims["authorities"] = principal.Authorities
	}
}
