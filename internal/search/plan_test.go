package search

import (
	"context"
	"errors"
	"testing"

	hive "github.com/ZanzyTHEbar/dragonscale-hive"
	"github.com/ZanzyTHEbar/dragonscale-hive/internal/dag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func selection() []hive.Capability {
	return []hive.Capability{
		{ID: "pubmed_search", Category: "literature"},
		{ID: "alphafold_fetch", Category: "structure"},
		{ID: "biorxiv_papers", Category: "preprints"},
		{ID: "summary", Category: "synthesis"},
	}
}

func TestFallbackPlan(t *testing.T) {
	plan := FallbackPlan(selection())
	require.Len(t, plan.Steps, 4)
	assert.True(t, plan.Fallback)

	byID := map[string]hive.PlanStep{}
	for _, s := range plan.Steps {
		byID[s.ID] = s
	}
	assert.Empty(t, byID["pubmed_search"].DependsOn)
	assert.Empty(t, byID["biorxiv_papers"].DependsOn)
	assert.Equal(t, []string{"pubmed_search", "biorxiv_papers"}, byID["alphafold_fetch"].DependsOn)
	assert.Equal(t, []string{"pubmed_search", "biorxiv_papers"}, byID["summary"].DependsOn)

	g, err := dag.Ingest(plan.Steps)
	require.NoError(t, err)
	phases, err := g.ExecutionPhases()
	require.NoError(t, err)
	assert.Len(t, phases, 2)
}

func TestFallbackPlan_NoDiscovery(t *testing.T) {
	plan := FallbackPlan([]hive.Capability{{ID: "a", Category: "protein"}, {ID: "b", Category: "protein"}})
	for _, s := range plan.Steps {
		assert.Empty(t, s.DependsOn)
	}
}

func TestPlan_AcceptsValidReasonerPlan(t *testing.T) {
	r := &scriptedReasoner{answers: map[string]string{"execution plan": `{"plan":[
		{"id":"lit","capability_id":"pubmed_search","depends_on":[]},
		{"id":"fold","capability_id":"alphafold_fetch","depends_on":["lit"]}
	]}`}}

	plan := New(r, WithConfig(testConfig())).Plan(context.Background(), "TP53", selection())
	assert.False(t, plan.Fallback)
	require.Len(t, plan.Steps, 2)
	assert.Equal(t, "fold", plan.Steps[1].ID)
}

func TestPlan_FallsBack(t *testing.T) {
	tests := []struct {
		name   string
		answer string
		err    error
	}{
		{"reasoner down", "", errors.New("503")},
		{"prose", "First search, then fold.", nil},
		{"cycle", `[{"id":"a","capability_id":"pubmed_search","depends_on":["b"]},{"id":"b","capability_id":"summary","depends_on":["a"]}]`, nil},
		{"unknown dependency", `[{"id":"a","capability_id":"pubmed_search","depends_on":["zzz"]}]`, nil},
		{"unselected capability", `[{"id":"a","capability_id":"rm_rf","depends_on":[]}]`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &scriptedReasoner{err: tt.err, answers: map[string]string{"execution plan": tt.answer}}
			plan := New(r, WithConfig(testConfig())).Plan(context.Background(), "TP53", selection())
			assert.True(t, plan.Fallback)
			assert.Len(t, plan.Steps, 4)
		})
	}
}

func TestPlan_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.PlanDependencies = false
	r := &scriptedReasoner{}

	plan := New(r, WithConfig(cfg)).Plan(context.Background(), "x", selection())
	assert.True(t, plan.Fallback)
	assert.Zero(t, r.calls())

	assert.Empty(t, New(r).Plan(context.Background(), "x", nil).Steps)
}
