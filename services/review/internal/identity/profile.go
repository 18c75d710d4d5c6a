package identity

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/stoneplatforms/reviewmycoach/pkg/httpclient"
)

// Profile is the public part of a user profile.
type Profile struct {
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
}

// ProfileLookup fetches a user's profile.
type ProfileLookup interface {
	Profile(ctx context.Context, userID string) (Profile, error)
}

// ProfileClient reads profiles from the profile service over HTTP behind a
// circuit breaker.
type ProfileClient struct {
	baseURL string
	client  *httpclient.CircuitBreakerClient
}

// NewProfileClient creates a client for the profile service at baseURL.
func NewProfileClient(baseURL string, client *httpclient.CircuitBreakerClient) *ProfileClient {
	return &ProfileClient{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// Profile calls GET /api/v1/users/{id}/profile, forwarding the caller's
// bearer credential when one is on the context.
func (c *ProfileClient) Profile(ctx context.Context, userID string) (Profile, error) {
	endpoint := fmt.Sprintf("%s/api/v1/users/%s/profile", c.baseURL, url.PathEscape(userID))

	var header http.Header
	if token := credentialFromContext(ctx); token != "" {
		header = http.Header{"Authorization": {"Bearer " + token}}
	}

	resp, err := c.client.Get(ctx, endpoint, header)
	if err != nil {
		return Profile{}, fmt.Errorf("fetch profile %s: %w", userID, err)
	}

	var body struct {
		Data Profile `json:"data"`
	}
	if err := httpclient.DecodeJSON(resp, "profile-service", &body); err != nil {
		return Profile{}, err
	}
	return body.Data, nil
}
