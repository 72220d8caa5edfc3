// Package identity exchanges Discord OAuth authorization codes for
// user profiles. It is the only part of the system that talks to the
// identity provider; everything downstream consumes a Profile.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrUpstream marks failures of the identity provider itself (bad
// authorization code, network failure, malformed response). Callers
// surface it as an authentication failure and never retry in-process.
var ErrUpstream = errors.New("identity provider error")

// Profile is the subset of the Discord user object the system consumes.
type Profile struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Avatar   string `json:"avatar"`
}

// Client performs the Discord OAuth2 code flow.
type Client struct {
	clientID     string
	clientSecret string
	redirectURI  string

	// Overridable for tests.
	authBase string
	apiBase  string
	http     *http.Client
}

func NewClient(clientID, clientSecret, redirectURI string) *Client {
	return &Client{
		clientID:     clientID,
		clientSecret: clientSecret,
		redirectURI:  redirectURI,
		authBase:     "https://discord.com/api/oauth2",
		apiBase:      "https://discord.com/api",
		http:         &http.Client{Timeout: 10 * time.Second},
	}
}

// WithBaseURLs overrides the Discord endpoints, used in tests.
func (c *Client) WithBaseURLs(authBase, apiBase string) *Client {
	c.authBase = authBase
	c.apiBase = apiBase
	return c
}

// AuthURL returns the Discord authorization URL the browser is sent to.
func (c *Client) AuthURL(state string) string {
	params := url.Values{
		"client_id":     {c.clientID},
		"redirect_uri":  {c.redirectURI},
		"response_type": {"code"},
		"scope":         {"identify email"},
		"state":         {state},
	}
	return c.authBase + "/authorize?" + params.Encode()
}

// Exchange trades an authorization code for the user's profile: first
// the token endpoint, then /users/@me with the resulting bearer token.
func (c *Client) Exchange(ctx context.Context, code string) (*Profile, error) {
	token, err := c.exchangeCode(ctx, code)
	if err != nil {
		return nil, err
	}
	return c.fetchProfile(ctx, token)
}

func (c *Client) exchangeCode(ctx context.Context, code string) (string, error) {
	form := url.Values{
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {c.redirectURI},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authBase+"/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("building token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: requesting token: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: token endpoint returned %d", ErrUpstream, resp.StatusCode)
	}

	var result struct {
		AccessToken string `json:"access_token"`
		Error       string `json:"error"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("%w: decoding token response: %v", ErrUpstream, err)
	}
	if result.Error != "" || result.AccessToken == "" {
		return "", fmt.Errorf("%w: code exchange rejected: %s", ErrUpstream, result.Error)
	}
	return result.AccessToken, nil
}

func (c *Client) fetchProfile(ctx context.Context, accessToken string) (*Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+"/users/@me", nil)
	if err != nil {
		return nil, fmt.Errorf("building profile request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: requesting profile: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: profile endpoint returned %d", ErrUpstream, resp.StatusCode)
	}

	var p Profile
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: decoding profile: %v", ErrUpstream, err)
	}
	if p.ID == "" {
		return nil, fmt.Errorf("%w: profile missing id", ErrUpstream)
	}
	return &p, nil
}
