package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/beyondbetter/bb-core/internal/llm"
	"github.com/beyondbetter/bb-core/internal/retry"
	"github.com/beyondbetter/bb-core/internal/supabase"
	"github.com/beyondbetter/bb-core/pkg/types"
)

func staticTokens(token string) TokenSource {
	return func() (string, error) { return token, nil }
}

func speakEnvelope(answer string) types.SpeakResponse {
	return types.SpeakResponse{
		MessageResponse: types.ProviderResponse{
			ID:            "proxy-resp-1",
			Role:          types.RoleAssistant,
			Model:         "claude-sonnet-4-5",
			Answer:        answer,
			AnswerContent: types.ContentParts{types.TextPart{Text: answer}},
			MessageStop:   types.MessageStop{StopReason: types.StopReasonEndTurn},
			Usage:         types.TokenUsage{InputTokens: 30, OutputTokens: 12},
		},
	}
}

func TestNewProxyProviderValidation(t *testing.T) {
	if _, err := NewProxyProvider(ProxyConfig{}); err == nil {
		t.Fatal("no transport configured should fail")
	}
	if _, err := NewProxyProvider(ProxyConfig{BaseURL: "https://proxy.example.com"}); err == nil {
		t.Fatal("direct mode without a token source should fail")
	}
	if _, err := NewProxyProvider(ProxyConfig{
		BaseURL: "https://proxy.example.com",
		Tokens:  staticTokens("tok"),
	}); err != nil {
		t.Fatalf("valid direct config rejected: %v", err)
	}
}

func TestProxySpeakDirect(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody types.MessageRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(speakEnvelope("proxied answer"))
	}))
	defer server.Close()

	p, err := NewProxyProvider(ProxyConfig{
		BaseURL:      server.URL,
		Tokens:       staticTokens("bb-access-token"),
		DefaultModel: "claude-sonnet-4-5",
	})
	if err != nil {
		t.Fatalf("NewProxyProvider: %v", err)
	}

	resp, err := p.SpeakWith(context.Background(), &types.MessageRequest{
		Messages:  []*types.Message{{Role: types.RoleUser, Content: types.ContentParts{types.TextPart{Text: "hi"}}}},
		MaxTokens: 4096,
	}, nil)
	if err != nil {
		t.Fatalf("SpeakWith: %v", err)
	}

	if gotPath != "/api/v1/speak" {
		t.Fatalf("path: %q", gotPath)
	}
	if gotAuth != "Bearer bb-access-token" {
		t.Fatalf("auth header: %q", gotAuth)
	}
	// The default model backfills an empty request model.
	if gotBody.Model != "claude-sonnet-4-5" {
		t.Fatalf("request model: %q", gotBody.Model)
	}
	if resp.MessageResponse.Answer != "proxied answer" {
		t.Fatalf("answer: %q", resp.MessageResponse.Answer)
	}
	if resp.MessageResponse.Usage.InputTokens != 30 {
		t.Fatalf("usage: %+v", resp.MessageResponse.Usage)
	}
}

func TestProxySpeakDirectRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	p, _ := NewProxyProvider(ProxyConfig{BaseURL: server.URL, Tokens: staticTokens("tok")})
	_, err := p.SpeakWith(context.Background(), &types.MessageRequest{Model: "m"}, nil)
	if err == nil {
		t.Fatal("429 should fail the call")
	}

	llmErr, ok := llm.AsError(err)
	if !ok || llmErr.Kind != llm.KindRateLimit {
		t.Fatalf("error kind: %v", err)
	}
	resetAt, ok := retry.RetryAfter(err)
	if !ok {
		t.Fatal("Retry-After header should produce a reset deadline")
	}
	if until := time.Until(resetAt); until <= 0 || until > 3*time.Second {
		t.Fatalf("reset deadline: %v", until)
	}
}

func TestProxySpeakDirectNoToken(t *testing.T) {
	p, _ := NewProxyProvider(ProxyConfig{
		BaseURL: "https://proxy.example.com",
		Tokens:  func() (string, error) { return "", context.Canceled },
	})
	_, err := p.SpeakWith(context.Background(), &types.MessageRequest{Model: "m"}, nil)
	llmErr, ok := llm.AsError(err)
	if !ok || llmErr.Kind != llm.KindAuthNoSession {
		t.Fatalf("error kind: %v", err)
	}
}

func TestProxySpeakDirectEmptyEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	p, _ := NewProxyProvider(ProxyConfig{BaseURL: server.URL, Tokens: staticTokens("tok")})
	_, err := p.SpeakWith(context.Background(), &types.MessageRequest{Model: "m"}, nil)
	llmErr, ok := llm.AsError(err)
	if !ok || llmErr.Kind != llm.KindProtocol {
		t.Fatalf("empty envelope should be a protocol error, got %v", err)
	}
}

func TestProxySpeakViaFunction(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(speakEnvelope("dispatched answer"))
	}))
	defer server.Close()

	supa := supabase.NewClient(&supabase.ProjectConfig{URL: server.URL, AnonKey: "anon"},
		supabase.ClientOptions{UseAuth: true})
	defer supa.Close()
	if err := supa.SetSession(&types.UserAuthSession{
		AccessToken: "session-token",
		ExpiresAt:   time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatalf("SetSession: %v", err)
	}

	p, err := NewProxyProvider(ProxyConfig{Supabase: supa})
	if err != nil {
		t.Fatalf("NewProxyProvider: %v", err)
	}

	resp, err := p.SpeakWith(context.Background(), &types.MessageRequest{Model: "claude-sonnet-4-5"}, nil)
	if err != nil {
		t.Fatalf("SpeakWith: %v", err)
	}
	if gotAuth != "Bearer session-token" {
		t.Fatalf("auth header: %q", gotAuth)
	}
	if resp.MessageResponse.Answer != "dispatched answer" {
		t.Fatalf("answer: %q", resp.MessageResponse.Answer)
	}
}

func TestProxyFunctionErrorTranslation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"message":"slow down"}`))
	}))
	defer server.Close()

	supa := supabase.NewClient(&supabase.ProjectConfig{URL: server.URL, AnonKey: "anon"},
		supabase.ClientOptions{UseAuth: true})
	defer supa.Close()
	supa.SetSession(&types.UserAuthSession{AccessToken: "tok", ExpiresAt: time.Now().Add(time.Hour)})

	p, _ := NewProxyProvider(ProxyConfig{Supabase: supa})
	_, err := p.SpeakWith(context.Background(), &types.MessageRequest{Model: "m"}, nil)
	if err == nil {
		t.Fatal("dispatcher 429 should fail")
	}
	llmErr, ok := llm.AsError(err)
	if !ok || llmErr.Kind != llm.KindRateLimit {
		t.Fatalf("error kind: %v", err)
	}
	if _, ok := retry.RetryAfter(err); !ok {
		t.Fatal("dispatcher 429 should carry a reset deadline")
	}
}
