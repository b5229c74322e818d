package adapters

import (
	"context"
	"errors"
	"testing"

	hive "github.com/ZanzyTHEbar/dragonscale-hive"
)

func echo(_ context.Context, params map[string]any) (any, error) {
	return map[string]any{"echo": params["query"]}, nil
}

func failing(context.Context, map[string]any) (any, error) {
	return nil, errors.New("fail")
}

func TestFuncCapability_ExecuteSuccessAndFailure(t *testing.T) {
	c := NewFuncCapability("echo", echo, WithCategory("search"), WithParameters("query"))
	res, err := c.Execute(context.Background(), map[string]any{"query": "TP53"})
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if res.(map[string]any)["echo"] != "TP53" {
		t.Errorf("unexpected result %v", res)
	}
	if info := c.Capability(); info.Category != "search" || !info.Accepts("query") || info.Accepts("other") {
		t.Errorf("unexpected capability info %+v", info)
	}

	_, err = NewFuncCapability("bad", failing).Execute(context.Background(), nil)
	if err == nil {
		t.Error("expected error for failing capability, got nil")
	}
}

func TestFuncCapability_Validate(t *testing.T) {
	c := NewFuncCapability("v", echo, WithValidator(func(p map[string]any) error {
		if p["bad"] == true {
			return errors.New("bad input")
		}
		return nil
	}))
	if err := c.Validate(map[string]any{"bad": true}); err == nil {
		t.Error("expected error for bad input, got nil")
	}
	if _, err := c.Execute(context.Background(), map[string]any{"bad": true}); err == nil {
		t.Error("execute should validate first")
	}
	if err := c.Validate(map[string]any{}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRegistry(t *testing.T) {
	r, err := NewRegistry(
		NewFuncCapability("echo", echo, WithDescription("echo the query")),
		NewFuncCapability("bad", failing),
	)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Register(NewFuncCapability("echo", echo)); err == nil {
		t.Error("duplicate registration should fail")
	}
	if got := r.Capabilities(); len(got) != 2 || got[0].ID != "echo" {
		t.Errorf("unexpected capabilities %v", got)
	}
	if ids := r.IDs(); ids[0] != "bad" || ids[1] != "echo" {
		t.Errorf("unexpected ids %v", ids)
	}

	ctx := context.Background()
	if _, err := r.Invoke(ctx, hive.Capability{ID: "echo"}, map[string]any{"query": "x"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if _, err := r.Invoke(ctx, hive.Capability{ID: "bad"}, nil); hive.CodeOf(err) != hive.ErrCodeCapabilityExecution {
		t.Errorf("expected execution error, got %v", err)
	}
	if _, err := r.Invoke(ctx, hive.Capability{ID: "ghost"}, nil); hive.CodeOf(err) != hive.ErrCodeCapabilityNotFound {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestChain(t *testing.T) {
	first, _ := NewRegistry(NewFuncCapability("a", func(context.Context, map[string]any) (any, error) { return "first", nil }))
	second, _ := NewRegistry(
		NewFuncCapability("a", func(context.Context, map[string]any) (any, error) { return "second", nil }),
		NewFuncCapability("b", func(context.Context, map[string]any) (any, error) { return "b", nil }),
	)
	chain := Chain{first, second}
	ctx := context.Background()

	if out, _ := chain.Invoke(ctx, hive.Capability{ID: "a"}, nil); out != "first" {
		t.Errorf("expected first provider to win, got %v", out)
	}
	if out, _ := chain.Invoke(ctx, hive.Capability{ID: "b"}, nil); out != "b" {
		t.Errorf("expected fallthrough to second provider, got %v", out)
	}
	if _, err := chain.Invoke(ctx, hive.Capability{ID: "z"}, nil); hive.CodeOf(err) != hive.ErrCodeCapabilityNotFound {
		t.Errorf("expected not found, got %v", err)
	}
}
