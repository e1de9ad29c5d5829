package auth

import "context"

type ctxKey string

const (
	ctxKeySubject     ctxKey = "auth_subject"
	ctxKeyClientID    ctxKey = "auth_client_id"
	ctxKeyScopes      ctxKey = "auth_scopes"
	ctxKeyAuthContext ctxKey = "auth_context"
)

// WithSubject stores the authenticated subject in the context.
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, ctxKeySubject, subject)
}

// SubjectFromContext extracts the authenticated subject from the context.
func SubjectFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeySubject).(string)
	return v
}

// WithClientID stores the requesting client id in the context.
func WithClientID(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, ctxKeyClientID, clientID)
}

// ClientIDFromContext extracts the requesting client id from the context.
func ClientIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyClientID).(string)
	return v
}

// WithScopes stores the granted scopes in the context.
func WithScopes(ctx context.Context, scopes []string) context.Context {
	return context.WithValue(ctx, ctxKeyScopes, scopes)
}

// ScopesFromContext extracts the granted scopes from the context.
func ScopesFromContext(ctx context.Context) []string {
	v, _ := ctx.Value(ctxKeyScopes).([]string)
	return v
}

// WithAuthContext stores the full authentication context in the context.
func WithAuthContext(ctx context.Context, ac *AuthContext) context.Context {
	return context.WithValue(ctx, ctxKeyAuthContext, ac)
}

// AuthContextFromContext extracts the full authentication context.
func AuthContextFromContext(ctx context.Context) *AuthContext {
	v, _ := ctx.Value(ctxKeyAuthContext).(*AuthContext)
	return v
}
