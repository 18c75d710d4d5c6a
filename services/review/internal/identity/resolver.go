package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/stoneplatforms/reviewmycoach/services/review/internal/domain"
)

// ErrResolution is returned when a credential was presented but could not
// be turned into an author. Callers recover by treating the submission as
// anonymous.
var ErrResolution = errors.New("identity resolution failed")

// Resolver turns a bearer credential into an Author.
type Resolver interface {
	Resolve(ctx context.Context, credential string) (domain.Author, error)
}

type credentialKey struct{}

func withCredential(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, credentialKey{}, token)
}

func credentialFromContext(ctx context.Context) string {
	token, _ := ctx.Value(credentialKey{}).(string)
	return token
}

// TokenResolver verifies the credential locally and fills in the display
// name from the token, then the profile service.
type TokenResolver struct {
	verifier *TokenVerifier
	profiles ProfileLookup
	logger   *slog.Logger
}

// NewTokenResolver creates a resolver. profiles may be nil, in which case
// the display name comes from the token alone.
func NewTokenResolver(verifier *TokenVerifier, profiles ProfileLookup, logger *slog.Logger) *TokenResolver {
	return &TokenResolver{verifier: verifier, profiles: profiles, logger: logger}
}

// Resolve returns the author for credential. The display name prefers the
// username, then the profile display name, then the anonymous label; a
// profile lookup failure only affects the name, never the author ID.
func (r *TokenResolver) Resolve(ctx context.Context, credential string) (domain.Author, error) {
	claims, err := r.verifier.Verify(credential)
	if err != nil {
		return domain.Author{}, fmt.Errorf("%w: %w", ErrResolution, err)
	}

	author := domain.Author{ID: claims.UserID, DisplayName: strings.TrimSpace(claims.Username)}
	if author.DisplayName != "" || r.profiles == nil {
		return withFallbackName(author), nil
	}

	profile, err := r.profiles.Profile(withCredential(ctx, credential), claims.UserID)
	if err != nil {
		r.logger.WarnContext(ctx, "profile lookup failed, using fallback display name",
			slog.String("user_id", claims.UserID),
			slog.String("error", err.Error()),
		)
		return withFallbackName(author), nil
	}

	author.DisplayName = firstNonBlank(profile.Username, profile.DisplayName)
	return withFallbackName(author), nil
}

func withFallbackName(a domain.Author) domain.Author {
	if a.DisplayName == "" {
		a.DisplayName = domain.AnonymousDisplayName
	}
	return a
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
