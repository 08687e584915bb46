package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// echoInput is the input shape for the builtin echo tool.
type echoInput struct {
	Text string `json:"text" jsonschema:"required,description=Text to echo back"`
}

// EchoTool repeats its input back. It exists to exercise the full dispatch
// and validation path without any external side effects.
type EchoTool struct {
	schema json.RawMessage
}

// NewEchoTool builds the echo tool with a reflected input schema.
func NewEchoTool() (*EchoTool, error) {
	reflector := jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema, err := json.Marshal(reflector.Reflect(&echoInput{}))
	if err != nil {
		return nil, fmt.Errorf("tools: reflect echo schema: %w", err)
	}
	return &EchoTool{schema: schema}, nil
}

func (t *EchoTool) Name() string        { return "echo" }
func (t *EchoTool) Description() string { return "Echo the provided text back verbatim." }

func (t *EchoTool) InputSchema() json.RawMessage { return t.schema }

func (t *EchoTool) Run(ctx context.Context, input map[string]any) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	text, ok := input["text"].(string)
	if !ok {
		return &Result{Content: "echo: input field \"text\" must be a string", IsError: true}, nil
	}
	return &Result{Content: text}, nil
}
