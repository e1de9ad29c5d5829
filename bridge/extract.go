package bridge

import "strconv"

// PrincipalExtractor pulls a subject id and display name out of a
// user-info payload whose shape did not match the nested principal fast
// path. Callers may install their own via WithPrincipalExtractor; it is
// honored, not silently replaced.
type PrincipalExtractor interface {
	ExtractPrincipal(info map[string]any) (subjectID, displayName string)
}

// AuthoritiesExtractor derives the granted authorities for a federated
// principal from the user-info payload.
type AuthoritiesExtractor interface {
	ExtractAuthorities(info map[string]any) []string
}

// GenericPrincipalExtractor is the least-common-denominator fallback: it
// probes a fixed list of well-known identifier fields in order. Providers
// have incompatible response schemas; this keeps a login from failing
// merely because the payload is unrecognized.
type GenericPrincipalExtractor struct{}

// principalKeys are probed in order for a usable subject identifier.
var principalKeys = []string{"id", "user_id", "userid", "login", "user", "username", "email", "sub", "name"}

// nameKeys are probed in order for a display name.
var nameKeys = []string{"name", "login", "username", "email"}

// ExtractPrincipal returns the first identifier-like and name-like fields
// found, or empty strings when nothing matches.
func (GenericPrincipalExtractor) ExtractPrincipal(info map[string]any) (string, string) {
	var subject, name string
	for _, key := range principalKeys {
		if v, ok := stringValue(info[key]); ok {
			subject = v
			break
		}
	}
	for _, key := range nameKeys {
		if v, ok := stringValue(info[key]); ok {
			name = v
			break
		}
	}
	return subject, name
}

// FixedAuthoritiesExtractor reads an "authorities" list from the payload
// and otherwise grants the single federated-user role.
type FixedAuthoritiesExtractor struct{}

// DefaultAuthority is granted when the payload names no authorities.
const DefaultAuthority = "ROLE_USER"

// ExtractAuthorities returns the payload's authorities, or the default.
func (FixedAuthoritiesExtractor) ExtractAuthorities(info map[string]any) []string {
	switch v := info["authorities"].(type) {
	case []string:
		if len(v) > 0 {
			return v
		}
	case []any:
		var out []string
		for _, item := range v {
			if s, ok := stringValue(item); ok {
				out = append(out, s)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return []string{DefaultAuthority}
}

// stringValue accepts strings and JSON numbers, since providers disagree
// on whether ids are numeric.
func stringValue(v any) (string, bool) {
	switch vv := v.(type) {
	case string:
		if vv == "" {
			return "", false
		}
		return vv, true
	case float64:
		// Provider ids are integral; render without exponent or decimals.
		return strconv.FormatInt(int64(vv), 10), true
	default:
		return "", false
	}
}
