package auth

import "context"

// contextKey is unexported to keep the key collision-proof across packages,
// the same convention the teacher's per-request context carrier used for
// its own single context key.
type contextKey int

const principalContextKey contextKey = iota

// WithPrincipal stores the authenticated Principal in the request context,
// generalising the teacher's per-request UserContext (which carried
// portfolio/currency overrides) into carrying the Gate's role identity
// instead — every downstream operation that needs to know "who is
// calling, with what roles" reads it from here rather than threading it
// through as an extra parameter.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

// PrincipalFromContext retrieves the Principal stored by WithPrincipal, or
// nil if none is present (e.g. a background task with no request origin).
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalContextKey).(*Principal)
	return p
}
