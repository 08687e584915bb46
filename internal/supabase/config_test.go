package supabase

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestFetchConfigRecoversAfterFailures(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"url":"https://project.supabase.co","anonKey":"anon-key-123"}`))
	}))
	defer server.Close()

	cfg, err := FetchConfig(context.Background(), nil, FetchOptions{
		URL:        server.URL,
		RetryDelay: -1, // no sleep between attempts
	})
	if err != nil {
		t.Fatalf("FetchConfig: %v", err)
	}
	if cfg.URL != "https://project.supabase.co" || cfg.AnonKey != "anon-key-123" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestFetchConfigExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := FetchConfig(context.Background(), nil, FetchOptions{
		URL:        server.URL,
		RetryDelay: -1,
	})
	var fetchErr *ConfigFetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected ConfigFetchError, got %v", err)
	}
	if fetchErr.Attempt != 3 {
		t.Fatalf("expected 3 attempts recorded, got %d", fetchErr.Attempt)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("expected 3 requests, got %d", got)
	}
}

func TestFetchConfigRejectsInvalidPayload(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing url", `{"anonKey":"abc"}`},
		{"missing anon key", `{"url":"https://project.supabase.co"}`},
		{"bad url scheme", `{"url":"ftp://project","anonKey":"abc"}`},
		{"bad anon key characters", `{"url":"https://project.supabase.co","anonKey":"has spaces!"}`},
		{"not json", `nope`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := FetchConfig(context.Background(), nil, FetchOptions{
				URL:        server.URL,
				MaxRetries: 1,
			})
			if err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestFetchConfigHonorsContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := FetchConfig(ctx, nil, FetchOptions{URL: server.URL, RetryDelay: -1})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
