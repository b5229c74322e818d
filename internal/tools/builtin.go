// Package tools provides the capabilities that run in-process next to the
// subprocess catalog.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/Knetic/govaluate"
	"github.com/ZanzyTHEbar/dragonscale-hive/internal/adapters"
)

const maxSectionLen = 200

// Builtins returns a registry with every built-in capability.
func Builtins() (*adapters.Registry, error) {
	return adapters.NewRegistry(
		adapters.NewFuncCapability("summary_report", SummaryReport,
			adapters.WithCategory("synthesis"),
			adapters.WithDescription("Combines upstream results passed as parameters into one short report."),
			adapters.WithValidator(validateSummaryInput),
		),
		adapters.NewFuncCapability("calculate", Calculate,
			adapters.WithCategory("analysis"),
			adapters.WithDescription("Evaluates an arithmetic expression, e.g. a ratio of upstream counts."),
			adapters.WithParameters("expression"),
			adapters.WithValidator(validateCalculationInput),
		),
	)
}

// SummaryReport renders each parameter as one "name: value" section.
func SummaryReport(_ context.Context, params map[string]any) (any, error) {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sections := make([]string, 0, len(keys))
	for _, k := range keys {
		sections = append(sections, k+": "+render(params[k]))
	}
	return map[string]any{
		"summary": strings.Join(sections, "; "),
		"count":   len(sections),
		"items":   keys,
	}, nil
}

func render(v any) string {
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case nil:
		s = "none"
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			s = fmt.Sprint(t)
		} else {
			s = string(raw)
		}
	}
	if len(s) > maxSectionLen {
		s = s[:maxSectionLen] + "..."
	}
	return s
}

// Calculate evaluates params["expression"]. A number is returned as is,
// since expression parameters may already have been resolved upstream.
func Calculate(_ context.Context, params map[string]any) (any, error) {
	switch expr := params["expression"].(type) {
	case float64, int:
		return map[string]any{"result": expr, "summary": fmt.Sprint(expr)}, nil
	case string:
		e, err := govaluate.NewEvaluableExpression(expr)
		if err != nil {
			return nil, fmt.Errorf("parse expression: %w", err)
		}
		result, err := e.Evaluate(nil)
		if err != nil {
			return nil, fmt.Errorf("evaluate expression: %w", err)
		}
		return map[string]any{"result": result, "summary": fmt.Sprintf("%s = %v", expr, result)}, nil
	}
	return nil, fmt.Errorf("expression must be a string or number, got %T", params["expression"])
}

func validateSummaryInput(params map[string]any) error {
	if len(params) == 0 {
		return fmt.Errorf("summary_report needs at least one section parameter")
	}
	return nil
}

func validateCalculationInput(params map[string]any) error {
	expr, ok := params["expression"]
	if !ok {
		return fmt.Errorf("missing expression")
	}
	if s, ok := expr.(string); ok {
		if len(s) == 0 {
			return fmt.Errorf("expression cannot be empty")
		}
		if len(s) > 200 {
			return fmt.Errorf("expression too long (max 200 characters)")
		}
	}
	return nil
}
