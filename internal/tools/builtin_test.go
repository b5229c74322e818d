package tools

import (
	"context"
	"strings"
	"testing"

	hive "github.com/ZanzyTHEbar/dragonscale-hive"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltins(t *testing.T) {
	reg, err := Builtins()
	require.NoError(t, err)
	assert.Equal(t, []string{"calculate", "summary_report"}, reg.IDs())

	c, ok := reg.Lookup("calculate")
	require.True(t, ok)
	assert.True(t, c.Accepts("expression"))
	assert.False(t, c.Accepts("query"))
}

func TestSummaryReport(t *testing.T) {
	reg, err := Builtins()
	require.NoError(t, err)
	c, _ := reg.Lookup("summary_report")

	out, err := reg.Invoke(context.Background(), c, map[string]any{
		"structure":  map[string]any{"plddt": 91.5},
		"literature": "12 papers",
		"long":       strings.Repeat("x", 500),
	})
	require.NoError(t, err)
	res := out.(map[string]any)
	assert.Equal(t, 3, res["count"])
	summary := res["summary"].(string)
	assert.True(t, strings.HasPrefix(summary, "literature: 12 papers; long: xxx"))
	assert.Contains(t, summary, `structure: {"plddt":91.5}`)
	assert.Contains(t, summary, "...")

	_, err = reg.Invoke(context.Background(), c, map[string]any{})
	assert.Equal(t, hive.ErrCodeCapabilityExecution, hive.CodeOf(err))
}

func TestCalculate(t *testing.T) {
	tests := []struct {
		name    string
		expr    any
		want    any
		wantErr bool
	}{
		{"arithmetic", "12 / 4 + 1", 4.0, false},
		{"already resolved", 7.0, 7.0, false},
		{"unbalanced", "(1 + 2", nil, true},
		{"wrong type", true, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Calculate(context.Background(), map[string]any{"expression": tt.expr})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.(map[string]any)["result"])
		})
	}

	assert.Error(t, validateCalculationInput(map[string]any{}))
	assert.Error(t, validateCalculationInput(map[string]any{"expression": ""}))
}
