// Package supabase implements the auth bootstrap: remote project-config
// fetch, schema-scoped client construction, and session refresh.
package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"github.com/beyondbetter/bb-core/internal/observability"
	"github.com/beyondbetter/bb-core/internal/retry"
)

// DefaultConfigURL is the built-in fallback for the project-config endpoint.
const DefaultConfigURL = "https://config.beyondbetter.app/api/v1/supabase"

var anonKeyPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// ProjectConfig is the remote runtime configuration payload.
type ProjectConfig struct {
	URL     string `json:"url"`
	AnonKey string `json:"anonKey"`
}

// FetchOptions controls FetchConfig. Zero values take the documented
// defaults: 3 attempts, 5s between attempts, DefaultConfigURL.
type FetchOptions struct {
	MaxRetries int
	RetryDelay time.Duration
	URL        string

	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// ConfigFetchError reports a failed bootstrap after exhausting retries.
type ConfigFetchError struct {
	Message string
	Attempt int
	Cause   error
}

func (e *ConfigFetchError) Error() string {
	return fmt.Sprintf("supabase config fetch failed (attempt %d): %s", e.Attempt, e.Message)
}

func (e *ConfigFetchError) Unwrap() error { return e.Cause }

// FetchConfig retrieves and validates the project configuration. The fetch is
// pure with respect to external state: no caching, no side effects beyond the
// GET itself.
func FetchConfig(ctx context.Context, logger *observability.Logger, opts FetchOptions) (*ProjectConfig, error) {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryDelay < 0 {
		opts.RetryDelay = 0
	} else if opts.RetryDelay == 0 {
		opts.RetryDelay = 5 * time.Second
	}
	if opts.URL == "" {
		opts.URL = DefaultConfigURL
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	attempt := 0
	cfg, result := retry.DoWithValue(ctx, retry.Linear(opts.MaxRetries, opts.RetryDelay),
		func() (*ProjectConfig, error) {
			attempt++
			cfg, err := fetchOnce(ctx, client, opts.URL)
			if err != nil && logger != nil {
				logger.Warn(ctx, "supabase config fetch attempt failed",
					"attempt", attempt, "max_retries", opts.MaxRetries, "error", err)
			}
			return cfg, err
		})
	if result.Err == nil {
		return cfg, nil
	}
	if errors.Is(result.Err, context.Canceled) || errors.Is(result.Err, context.DeadlineExceeded) {
		return nil, result.Err
	}
	return nil, &ConfigFetchError{
		Message: result.Err.Error(),
		Attempt: result.Attempts,
		Cause:   result.Err,
	}
}

func fetchOnce(ctx context.Context, client *http.Client, endpoint string) (*ProjectConfig, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	var cfg ProjectConfig
	if err := json.Unmarshal(body, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config body: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *ProjectConfig) validate() error {
	if c.URL == "" {
		return fmt.Errorf("config missing url")
	}
	parsed, err := url.Parse(c.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("config url is not a valid http(s) URL: %q", c.URL)
	}
	if c.AnonKey == "" {
		return fmt.Errorf("config missing anonKey")
	}
	if !anonKeyPattern.MatchString(c.AnonKey) {
		return fmt.Errorf("config anonKey has invalid characters")
	}
	return nil
}
