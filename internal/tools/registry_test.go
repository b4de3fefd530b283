package tools

import (
	"context"
	"encoding/json"
	"testing"
)

func echoTool() Tool {
	return Tool{
		Name:        "echo",
		Description: "echo back text",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"required": ["text"],
			"properties": {"text": {"type": "string"}}
		}`),
		Handler: func(ctx context.Context, args json.RawMessage) (Result, error) {
			var in struct{ Text string }
			if err := json.Unmarshal(args, &in); err != nil {
				return Result{}, err
			}
			return TextResult(in.Text), nil
		},
	}
}

func TestCallUnknownToolReportsNotFound(t *testing.T) {
	r := NewRegistry()
	_, found, err := r.Call(context.Background(), "nope", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if found {
		t.Fatal("expected found=false for unregistered tool")
	}
}

func TestCallRejectsArgsFailingSchema(t *testing.T) {
	r := NewRegistry()
	r.Register(echoTool())

	result, found, err := r.Call(context.Background(), "echo", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !found {
		t.Fatal("expected tool to be found")
	}
	if !result.IsError {
		t.Errorf("expected IsError for missing required field, got %+v", result)
	}
}

func TestCallInvokesHandlerOnValidArgs(t *testing.T) {
	r := NewRegistry()
	r.Register(echoTool())

	result, found, err := r.Call(context.Background(), "echo", json.RawMessage(`{"text":"hi"}`))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !found {
		t.Fatal("expected tool to be found")
	}
	if result.IsError || len(result.Content) != 1 || result.Content[0].Text != "hi" {
		t.Errorf("expected successful echo, got %+v", result)
	}
}

func TestListIsSortedByName(t *testing.T) {
	r := NewRegistry()
	r.Register(Tool{Name: "zzz", InputSchema: json.RawMessage(`{"type":"object"}`), Handler: func(ctx context.Context, a json.RawMessage) (Result, error) { return Result{}, nil }})
	r.Register(Tool{Name: "aaa", InputSchema: json.RawMessage(`{"type":"object"}`), Handler: func(ctx context.Context, a json.RawMessage) (Result, error) { return Result{}, nil }})

	list := r.List()
	if len(list) != 2 || list[0].Name != "aaa" || list[1].Name != "zzz" {
		t.Errorf("expected sorted [aaa zzz], got %+v", list)
	}
}
