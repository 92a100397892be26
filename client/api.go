package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Portal API paths used by the session manager
const (
	ProfilePath = "/api/v1/users/me"
	RefreshPath = "/api/v1/auth/refresh"
	LogoutPath  = "/api/v1/auth/logout"
)

// DefaultRequestTimeout bounds every backend call
const DefaultRequestTimeout = 15 * time.Second

// Fallback messages when the server does not supply one
const (
	msgProfileFailed = "Unable to load profile"
	msgRefreshFailed = "Unable to refresh session"
	msgLogoutFailed  = "Unable to log out"
)

// Backend is the subset of the portal API the session manager depends on.
type Backend interface {
	// FetchProfile returns the user behind accessToken
	FetchProfile(ctx context.Context, accessToken string) (*ProfilePayload, error)

	// Refresh exchanges a refresh token for a new credential pair
	Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error)

	// Logout invalidates refreshToken server-side
	Logout(ctx context.Context, refreshToken string) error
}

// RefreshResult is the data payload of a successful refresh
type RefreshResult struct {
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token,omitempty"`
	User         *ProfilePayload `json:"user,omitempty"`
}

// APIError is the error object inside a portal response envelope
type APIError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Envelope is the portal's response wrapper
type Envelope struct {
	Success *bool           `json:"success,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *APIError       `json:"error,omitempty"`
}

func (e *Envelope) hasData() bool {
	trimmed := bytes.TrimSpace(e.Data)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

// APIClient talks to the portal backend over HTTP.
type APIClient struct {
	baseURL    string
	httpClient *http.Client
}

// APIOption configures an APIClient
type APIOption func(*APIClient)

// WithAPIHTTPClient sets the HTTP client used for backend calls.
// A client without a cookie jar gets one, since the portal uses cookies alongside bearer tokens.
func WithAPIHTTPClient(client *http.Client) APIOption {
	return func(c *APIClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithRequestTimeout overrides DefaultRequestTimeout
func WithRequestTimeout(d time.Duration) APIOption {
	return func(c *APIClient) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// NewAPIClient creates a client for the portal API at baseURL
func NewAPIClient(baseURL string, opts ...APIOption) *APIClient {
	c := &APIClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultRequestTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient.Jar == nil {
		if jar, err := cookiejar.New(nil); err == nil {
			c.httpClient.Jar = jar
		}
	}
	return c
}

// BaseURL returns the API base URL
func (c *APIClient) BaseURL() string {
	return c.baseURL
}

// FetchProfile implements Backend
func (c *APIClient) FetchProfile(ctx context.Context, accessToken string) (*ProfilePayload, error) {
	if accessToken == "" {
		return nil, ErrMissingAccessToken
	}
	var out ProfilePayload
	if err := c.call(ctx, "profile", http.MethodGet, ProfilePath, accessToken, nil, &out, msgProfileFailed); err != nil {
		return nil, err
	}
	return &out, nil
}

// Refresh implements Backend
func (c *APIClient) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	if refreshToken == "" {
		return nil, ErrMissingRefreshToken
	}
	body := map[string]string{"refresh_token": refreshToken}
	var out RefreshResult
	if err := c.call(ctx, "refresh", http.MethodPost, RefreshPath, "", body, &out, msgRefreshFailed); err != nil {
		return nil, err
	}
	if out.AccessToken == "" {
		return nil, malformedError("refresh", fmt.Errorf("response has no access_token"))
	}
	return &out, nil
}

// Logout implements Backend. The response body is ignored.
func (c *APIClient) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return ErrMissingRefreshToken
	}
	body := map[string]string{"refresh_token": refreshToken}
	resp, err := c.send(ctx, "logout", http.MethodPost, LogoutPath, "", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return rejectedError("logout", resp.StatusCode, msgLogoutFailed)
	}
	return nil
}

// send builds and issues one request
func (c *APIClient) send(ctx context.Context, op, method, path, accessToken string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, networkError(op, err)
	}
	return resp, nil
}

// call issues a request and decodes the data envelope into out
func (c *APIClient) call(ctx context.Context, op, method, path, accessToken string, body, out any, fallback string) error {
	resp, err := c.send(ctx, op, method, path, accessToken, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return networkError(op, fmt.Errorf("failed to read response: %w", err))
	}

	var env Envelope
	decodeErr := json.Unmarshal(raw, &env)
	ok := resp.StatusCode >= 200 && resp.StatusCode <= 299

	if ok && decodeErr != nil {
		return malformedError(op, decodeErr)
	}
	if !ok || (env.Success != nil && !*env.Success) || !env.hasData() {
		msg := fallback
		if decodeErr == nil && env.Error != nil && env.Error.Message != "" {
			msg = env.Error.Message
		}
		return rejectedError(op, resp.StatusCode, msg)
	}

	if err := json.Unmarshal(env.Data, out); err != nil {
		return malformedError(op, err)
	}
	return nil
}
