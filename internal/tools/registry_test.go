package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

type stubTool struct {
	name   string
	schema string
}

func (s stubTool) Name() string                 { return s.name }
func (s stubTool) Description() string          { return "stub" }
func (s stubTool) InputSchema() json.RawMessage { return json.RawMessage(s.schema) }
func (s stubTool) Run(ctx context.Context, input map[string]any) (*Result, error) {
	return &Result{Content: "ok"}, nil
}

const addressSchema = `{
  "type": "object",
  "properties": {
    "city": {"type": "string"},
    "zip": {"type": "string", "pattern": "^[0-9]{5}$"}
  },
  "required": ["city"],
  "additionalProperties": false
}`

func TestRegistryRegisterAndDefinitions(t *testing.T) {
	reg := NewRegistry()

	if err := reg.Register(stubTool{name: ""}); err == nil {
		t.Fatal("empty tool name should be rejected")
	}
	if err := reg.Register(stubTool{name: strings.Repeat("x", MaxToolNameLength+1)}); err == nil {
		t.Fatal("oversized tool name should be rejected")
	}

	if err := reg.Register(stubTool{name: "address", schema: addressSchema}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, ok := reg.Get("address"); !ok {
		t.Fatal("registered tool not found")
	}

	defs := reg.Definitions()
	if len(defs) != 1 || defs[0].Name != "address" {
		t.Fatalf("Definitions: %+v", defs)
	}

	reg.Unregister("address")
	if _, ok := reg.Get("address"); ok {
		t.Fatal("unregistered tool still present")
	}
}

func TestValidateInput(t *testing.T) {
	reg := NewRegistry()
	reg.Register(stubTool{name: "address", schema: addressSchema})

	tests := []struct {
		name     string
		input    map[string]any
		wantPass bool
	}{
		{"valid", map[string]any{"city": "Berlin", "zip": "10115"}, true},
		{"missing required", map[string]any{"zip": "10115"}, false},
		{"wrong type", map[string]any{"city": 42}, false},
		{"pattern violation", map[string]any{"city": "Berlin", "zip": "abc"}, false},
		{"unexpected property", map[string]any{"city": "Berlin", "country": "DE"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason, err := reg.ValidateInput("address", tt.input)
			if err != nil {
				t.Fatalf("ValidateInput: %v", err)
			}
			if tt.wantPass && reason != "" {
				t.Fatalf("expected pass, got %q", reason)
			}
			if !tt.wantPass {
				if reason == "" {
					t.Fatal("expected a validation failure")
				}
				if !strings.HasPrefix(reason, "Tool input validation failed") {
					t.Fatalf("unexpected failure text: %q", reason)
				}
			}
		})
	}

	if _, err := reg.ValidateInput("missing", nil); err == nil {
		t.Fatal("unknown tool should return an error")
	}
}

func TestEchoTool(t *testing.T) {
	echo, err := NewEchoTool()
	if err != nil {
		t.Fatalf("NewEchoTool: %v", err)
	}

	reg := NewRegistry()
	if err := reg.Register(echo); err != nil {
		t.Fatalf("Register: %v", err)
	}

	// The reflected schema enforces the required text field.
	if reason, err := reg.ValidateInput("echo", map[string]any{"text": "hi"}); err != nil || reason != "" {
		t.Fatalf("valid echo input rejected: %q %v", reason, err)
	}
	if reason, _ := reg.ValidateInput("echo", map[string]any{}); reason == "" {
		t.Fatal("missing text field should fail validation")
	}

	result, err := echo.Run(context.Background(), map[string]any{"text": "hello"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.IsError || result.Content != "hello" {
		t.Fatalf("Run result: %+v", result)
	}

	result, err = echo.Run(context.Background(), map[string]any{"text": 7})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.IsError {
		t.Fatal("non-string text should yield an error result")
	}
}
