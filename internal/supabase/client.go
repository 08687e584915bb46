package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/beyondbetter/bb-core/internal/observability"
	"github.com/beyondbetter/bb-core/pkg/types"
)

// Client talks to one Supabase project, scoped to a logical schema. Anon
// clients are read-only; auth clients carry a user session and refresh it
// before expiry.
type Client struct {
	projectURL string
	anonKey    string
	schema     string
	useAuth    bool

	httpClient *http.Client
	logger     *observability.Logger

	// refreshMargin is subtracted from the token expiry when scheduling
	// a refresh.
	refreshMargin time.Duration

	mu           sync.RWMutex
	session      *types.UserAuthSession
	refreshTimer *time.Timer

	// onSessionRefresh is invoked with the new session after a successful
	// refresh, so the session registry can observe rotation.
	onSessionRefresh func(*types.UserAuthSession)
}

// ClientOptions configures a Client.
type ClientOptions struct {
	Schema        string
	UseAuth       bool
	RefreshMargin time.Duration
	HTTPClient    *http.Client
	Logger        *observability.Logger
}

// NewClient builds a client for the given project config.
func NewClient(cfg *ProjectConfig, opts ClientOptions) *Client {
	if opts.Schema == "" {
		opts.Schema = "public"
	}
	if opts.RefreshMargin <= 0 {
		opts.RefreshMargin = 5 * time.Minute
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		projectURL:    cfg.URL,
		anonKey:       cfg.AnonKey,
		schema:        opts.Schema,
		useAuth:       opts.UseAuth,
		refreshMargin: opts.RefreshMargin,
		httpClient:    opts.HTTPClient,
		logger:        opts.Logger,
	}
}

// Schema returns the logical schema this client is scoped to.
func (c *Client) Schema() string { return c.schema }

// Authenticated reports whether this client carries a live session.
func (c *Client) Authenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session != nil && !c.session.Expired(time.Now())
}

// OnSessionRefresh registers a callback fired after each successful refresh.
func (c *Client) OnSessionRefresh(fn func(*types.UserAuthSession)) {
	c.mu.Lock()
	c.onSessionRefresh = fn
	c.mu.Unlock()
}

// SetSession installs a user session on an auth client and schedules the
// refresh. Calling with nil clears the session and cancels refresh.
func (c *Client) SetSession(session *types.UserAuthSession) error {
	if !c.useAuth && session != nil {
		return fmt.Errorf("supabase: cannot attach session to anon client")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.refreshTimer != nil {
		c.refreshTimer.Stop()
		c.refreshTimer = nil
	}
	c.session = session
	if session == nil {
		return nil
	}

	deadline, err := refreshDeadline(session, c.refreshMargin)
	if err != nil {
		return fmt.Errorf("supabase: schedule session refresh: %w", err)
	}
	delay := time.Until(deadline)
	if delay < 0 {
		delay = 0
	}
	c.refreshTimer = time.AfterFunc(delay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := c.RefreshSession(ctx); err != nil && c.logger != nil {
			c.logger.Error(ctx, "session refresh failed", "schema", c.schema, "error", err)
		}
	})
	return nil
}

// refreshDeadline derives when to refresh from the access token's exp claim,
// falling back to the session's stored expiry. The JWT is parsed without
// signature verification; the server remains the authority.
func refreshDeadline(session *types.UserAuthSession, margin time.Duration) (time.Time, error) {
	expiry := session.ExpiresAt
	if session.AccessToken != "" {
		var claims jwt.RegisteredClaims
		parser := jwt.NewParser()
		if _, _, err := parser.ParseUnverified(session.AccessToken, &claims); err == nil && claims.ExpiresAt != nil {
			expiry = claims.ExpiresAt.Time
		}
	}
	if expiry.IsZero() {
		return time.Time{}, fmt.Errorf("session has no expiry")
	}
	return expiry.Add(-margin), nil
}

// RefreshSession exchanges the refresh token for a new session.
func (c *Client) RefreshSession(ctx context.Context) error {
	c.mu.RLock()
	session := c.session
	c.mu.RUnlock()
	if session == nil {
		return fmt.Errorf("supabase: no session to refresh")
	}

	payload := map[string]string{"refresh_token": session.RefreshToken}
	var result struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
	}
	endpoint := c.projectURL + "/auth/v1/token?grant_type=refresh_token"
	if err := c.doJSON(ctx, http.MethodPost, endpoint, payload, &result); err != nil {
		return fmt.Errorf("supabase: refresh session: %w", err)
	}

	refreshed := &types.UserAuthSession{
		User:         session.User,
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(result.ExpiresIn) * time.Second),
	}
	if err := c.SetSession(refreshed); err != nil {
		return err
	}

	c.mu.RLock()
	callback := c.onSessionRefresh
	c.mu.RUnlock()
	if callback != nil {
		callback(refreshed)
	}
	return nil
}

// InvokeFunction calls an edge function by name with a JSON payload,
// decoding the JSON response into out when out is non-nil.
func (c *Client) InvokeFunction(ctx context.Context, name string, payload any, out any) error {
	endpoint := c.projectURL + "/functions/v1/" + name
	return c.doJSON(ctx, http.MethodPost, endpoint, payload, out)
}

// Select performs a REST read against a table in the client's schema.
// query is a PostgREST query string without the leading "?".
func (c *Client) Select(ctx context.Context, table, query string, out any) error {
	endpoint := c.projectURL + "/rest/v1/" + table
	if query != "" {
		endpoint += "?" + query
	}
	return c.doJSON(ctx, http.MethodGet, endpoint, nil, out)
}

// Insert performs a REST insert against a table in the client's schema.
// Anon clients are read-only and reject writes.
func (c *Client) Insert(ctx context.Context, table string, row any) error {
	if !c.useAuth {
		return fmt.Errorf("supabase: anon client is read-only")
	}
	endpoint := c.projectURL + "/rest/v1/" + table
	return c.doJSON(ctx, http.MethodPost, endpoint, row, nil)
}

func (c *Client) doJSON(ctx context.Context, method, endpoint string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Authorization", "Bearer "+c.bearerToken())
	req.Header.Set("Accept", "application/json")
	if c.schema != "public" {
		req.Header.Set("Accept-Profile", c.schema)
		req.Header.Set("Content-Profile", c.schema)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &RequestError{Status: resp.StatusCode, Body: string(data)}
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// bearerToken returns the session access token when present, else the anon key.
func (c *Client) bearerToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session != nil && c.session.AccessToken != "" {
		return c.session.AccessToken
	}
	return c.anonKey
}

// Close stops any pending refresh timer.
func (c *Client) Close() {
	c.mu.Lock()
	if c.refreshTimer != nil {
		c.refreshTimer.Stop()
		c.refreshTimer = nil
	}
	c.session = nil
	c.mu.Unlock()
}

// RequestError is a non-2xx response from the Supabase project.
type RequestError struct {
	Status int
	Body   string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("supabase: request failed with status %d: %s", e.Status, e.Body)
}
