// Package llm implements the orchestration core: the interaction state
// machine, the provider contract, the transport with caching and retry, and
// the model registry.
package llm

import (
	"context"

	"github.com/beyondbetter/bb-core/pkg/types"
)

// Provider is the adapter contract every vendor integration implements.
// SpeakWith performs one atomic round-trip; AsProviderMessageRequest exposes
// the vendor-shaped request for caching and diagnostics.
type Provider interface {
	Name() string

	SpeakWith(ctx context.Context, req *types.MessageRequest, in *Interaction) (*types.SpeakResponse, error)

	// AsProviderMessageRequest translates the normalized request into the
	// vendor's wire shape.
	AsProviderMessageRequest(req *types.MessageRequest) (any, error)
}

// OptionModifier is an optional provider hook invoked when the outer
// validation loop rejects a response. Implementations adjust the request in
// place to steer the next attempt.
type OptionModifier interface {
	ModifyOptionsOnValidationFailure(ctx context.Context, in *Interaction, req *types.MessageRequest, reason string)
}

// StopReasonChecker is an optional provider hook that inspects a normalized
// response and returns a validation reason, or "" to accept it.
type StopReasonChecker interface {
	CheckStopReason(resp *types.SpeakResponse) string
}
