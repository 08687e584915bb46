package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/beyondbetter/bb-core/internal/llm"
	"github.com/beyondbetter/bb-core/internal/observability"
	"github.com/beyondbetter/bb-core/internal/retry"
	"github.com/beyondbetter/bb-core/internal/supabase"
	"github.com/beyondbetter/bb-core/pkg/types"
)

// DefaultProxyFunction is the edge function the dispatcher mode invokes.
const DefaultProxyFunction = "llm-proxy"

// TokenSource yields the access token attached to direct proxy calls.
// It is consulted per request so session rotation is picked up.
type TokenSource func() (string, error)

// ProxyConfig configures the authoritative proxy adapter. Exactly one
// transport is used: a direct endpoint when BaseURL is set, otherwise the
// Supabase function dispatcher. Both send the identical request body.
type ProxyConfig struct {
	// BaseURL is the direct HTTPS endpoint. When empty the adapter invokes
	// FunctionName through Supabase instead.
	BaseURL string

	// Tokens supplies the bearer token for direct calls.
	Tokens TokenSource

	// Supabase carries auth and routing for dispatcher mode.
	Supabase *supabase.Client

	// FunctionName overrides the dispatcher function (default "llm-proxy").
	FunctionName string

	DefaultModel string
	HTTPClient   *http.Client
	Logger       *observability.Logger
}

// ProxyProvider forwards normalized requests to the authoritative proxy,
// which performs the vendor call server-side and returns the finished
// speak envelope. Usage, rate limits and stop reasons arrive pre-normalized.
type ProxyProvider struct {
	baseURL      string
	tokens       TokenSource
	supa         *supabase.Client
	functionName string
	defaultModel string
	httpClient   *http.Client
	logger       *observability.Logger
}

// NewProxyProvider creates the adapter, validating that exactly one
// transport is configured.
func NewProxyProvider(config ProxyConfig) (*ProxyProvider, error) {
	if config.BaseURL == "" && config.Supabase == nil {
		return nil, errors.New("proxy: either a base URL or a supabase client is required")
	}
	if config.BaseURL != "" && config.Tokens == nil {
		return nil, errors.New("proxy: direct mode requires a token source")
	}
	if config.FunctionName == "" {
		config.FunctionName = DefaultProxyFunction
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: 120 * time.Second}
	}
	if config.Logger == nil {
		config.Logger = observability.NewNoopLogger()
	}
	return &ProxyProvider{
		baseURL:      strings.TrimRight(config.BaseURL, "/"),
		tokens:       config.Tokens,
		supa:         config.Supabase,
		functionName: config.FunctionName,
		defaultModel: config.DefaultModel,
		httpClient:   config.HTTPClient,
		logger:       config.Logger,
	}, nil
}

// Name returns the provider identifier.
func (p *ProxyProvider) Name() string { return "proxy" }

// AsProviderMessageRequest is the identity for the proxy: the proxy accepts
// the normalized request shape verbatim.
func (p *ProxyProvider) AsProviderMessageRequest(req *types.MessageRequest) (any, error) {
	out := *req
	if out.Model == "" {
		out.Model = p.defaultModel
	}
	return &out, nil
}

// SpeakWith forwards the request to the proxy over whichever transport is
// configured and returns the decoded envelope.
func (p *ProxyProvider) SpeakWith(ctx context.Context, req *types.MessageRequest, in *llm.Interaction) (*types.SpeakResponse, error) {
	raw, err := p.AsProviderMessageRequest(req)
	if err != nil {
		return nil, llm.NewError(llm.KindBadRequest, err.Error())
	}
	body := raw.(*types.MessageRequest)

	var resp *types.SpeakResponse
	if p.baseURL != "" {
		resp, err = p.speakDirect(ctx, body)
	} else {
		resp, err = p.speakViaFunction(ctx, body)
	}
	if err != nil {
		return nil, err
	}
	if resp.MessageResponse.ID == "" && len(resp.MessageResponse.AnswerContent) == 0 {
		return nil, llm.NewError(llm.KindProtocol, "proxy: empty response envelope")
	}
	return resp, nil
}

func (p *ProxyProvider) speakDirect(ctx context.Context, body *types.MessageRequest) (*types.SpeakResponse, error) {
	token, err := p.tokens()
	if err != nil {
		return nil, llm.NewError(llm.KindAuthNoSession, fmt.Sprintf("proxy: no access token: %v", err))
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, llm.NewError(llm.KindBadRequest, fmt.Sprintf("proxy: encode request: %v", err))
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/v1/speak", bytes.NewReader(encoded))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		llmErr := llm.NewError(llm.KindServer, fmt.Sprintf("proxy: request failed: %v", err))
		llmErr.Cause = err
		return nil, llmErr
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, 10<<20))
	if err != nil {
		return nil, llm.NewError(llm.KindProtocol, fmt.Sprintf("proxy: read response: %v", err))
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		llmErr := llm.StatusError(httpResp.StatusCode, strings.TrimSpace(string(respBody)))
		llmErr.Provider = p.Name()
		if httpResp.StatusCode == http.StatusTooManyRequests {
			if resetAt, ok := parseRetryAfter(httpResp.Header.Get("Retry-After")); ok {
				return nil, retry.WithRetryAfter(llmErr, resetAt)
			}
		}
		return nil, llmErr
	}

	var resp types.SpeakResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, llm.NewError(llm.KindProtocol, fmt.Sprintf("proxy: decode envelope: %v", err))
	}
	return &resp, nil
}

func (p *ProxyProvider) speakViaFunction(ctx context.Context, body *types.MessageRequest) (*types.SpeakResponse, error) {
	var resp types.SpeakResponse
	if err := p.supa.InvokeFunction(ctx, p.functionName, body, &resp); err != nil {
		return nil, p.translateFunctionError(err)
	}
	return &resp, nil
}

// translateFunctionError maps dispatcher failures onto the same error shape
// direct mode produces, so the transport retries both identically.
func (p *ProxyProvider) translateFunctionError(err error) error {
	var reqErr *supabase.RequestError
	if errors.As(err, &reqErr) {
		llmErr := llm.StatusError(reqErr.Status, reqErr.Body)
		llmErr.Provider = p.Name()
		llmErr.Cause = err
		if reqErr.Status == http.StatusTooManyRequests {
			return retry.WithRetryAfter(llmErr, time.Now().Add(time.Second))
		}
		return llmErr
	}
	llmErr := llm.NewError(llm.KindServer, fmt.Sprintf("proxy: function invoke failed: %v", err))
	llmErr.Cause = err
	return llmErr
}
