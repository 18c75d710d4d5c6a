package middleware

import (
	"context"
	"net/http"
	"strings"
)

type contextKeyType string

const credentialKey contextKeyType = "credential"

// BearerCredential extracts an optional "Authorization: Bearer <token>"
// credential into the request context. It never rejects a request: a
// missing or malformed header simply leaves no credential, and the caller
// decides what an anonymous request may do.
func BearerCredential(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token := parseBearer(r.Header.Get("Authorization")); token != "" {
			r = r.WithContext(WithCredential(r.Context(), token))
		}
		next.ServeHTTP(w, r)
	})
}

func parseBearer(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// WithCredential stores a raw bearer credential in ctx.
func WithCredential(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, credentialKey, token)
}

// CredentialFromContext returns the bearer credential, or "" when the
// request carried none.
func CredentialFromContext(ctx context.Context) string {
	if token, ok := ctx.Value(credentialKey).(string); ok {
		return token
	}
	return ""
}
