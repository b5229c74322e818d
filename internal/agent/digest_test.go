package agent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDigestOf(t *testing.T) {
	tests := []struct {
		name   string
		result any
		want   Digest
	}{
		{
			name:   "object with summary, count and items",
			result: map[string]any{"summary": "3 papers", "count": 3.0, "items": []any{map[string]any{"title": "A"}, map[string]any{"id": "P2"}}},
			want:   Digest{Summary: "3 papers", Count: 3, Items: []string{"A", "P2"}},
		},
		{
			name:   "count from list length",
			result: map[string]any{"results": []any{"x", "y"}},
			want:   Digest{Summary: `{"results":["x","y"]}`, Count: 2, Items: []string{"x", "y"}},
		},
		{
			name:   "wrapped text output",
			result: map[string]any{"text": "raw stdout"},
			want:   Digest{Summary: "raw stdout"},
		},
		{
			name:   "top-level array",
			result: []any{map[string]any{"accession": "P04637"}, 7.0},
			want:   Digest{Summary: `[{"accession":"P04637"},7]`, Count: 2, Items: []string{"P04637", "7"}},
		},
		{
			name:   "plain string",
			result: "done",
			want:   Digest{Summary: "done"},
		},
		{
			name:   "nil",
			result: nil,
			want:   Digest{Summary: "null"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DigestOf(tt.result))
		})
	}
}

func TestDigestOf_Bounds(t *testing.T) {
	items := make([]any, 20)
	for i := range items {
		items[i] = "id"
	}
	d := DigestOf(map[string]any{"items": items, "summary": strings.Repeat("x", 1000)})
	assert.Len(t, d.Items, maxDigestItems)
	assert.Equal(t, 20, d.Count)
	assert.Len(t, d.Summary, maxDigestSummary+3)
}
