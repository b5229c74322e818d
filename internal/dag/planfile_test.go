package dag

import (
	"os"
	"path/filepath"
	"testing"

	hive "github.com/ZanzyTHEbar/dragonscale-hive"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanFile_Validate_TableDriven(t *testing.T) {
	tests := []struct {
		name    string
		plan    PlanFile
		wantErr bool
	}{
		{
			"valid plan",
			PlanFile{Steps: []hive.PlanStep{
				{ID: "a", CapabilityID: "pubmed_search"},
				{ID: "b", CapabilityID: "alphafold_fetch", DependsOn: []string{"a"}, Params: map[string]any{"n": "$a.count + 1"}},
			}},
			false,
		},
		{"empty", PlanFile{}, true},
		{
			"duplicate id",
			PlanFile{Steps: []hive.PlanStep{{ID: "a", CapabilityID: "x"}, {ID: "a", CapabilityID: "x"}}},
			true,
		},
		{
			"missing dependency",
			PlanFile{Steps: []hive.PlanStep{{ID: "a", CapabilityID: "x", DependsOn: []string{"b"}}}},
			true,
		},
		{
			"cycle",
			PlanFile{Steps: []hive.PlanStep{
				{ID: "a", CapabilityID: "x", DependsOn: []string{"b"}},
				{ID: "b", CapabilityID: "x", DependsOn: []string{"a"}},
			}},
			true,
		},
		{
			"no capability",
			PlanFile{Steps: []hive.PlanStep{{ID: "a"}}},
			true,
		},
		{
			"reference outside dependencies",
			PlanFile{Steps: []hive.PlanStep{
				{ID: "a", CapabilityID: "x"},
				{ID: "b", CapabilityID: "x", Params: map[string]any{"q": "$a.text"}},
			}},
			true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.plan.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadAndValidate_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: p53 structure
steps:
  - id: lit
    capability_id: pubmed_search
    params:
      query: TP53 structure
      max_results: 5
  - id: struct
    capability_id: alphafold_fetch
    depends_on: [lit]
    params:
      accession: $lit.top_accession
  - id: synth
    capability_id: summary
    depends_on: [struct]
`), 0o644))

	pf, g, err := LoadAndValidate(path)
	require.NoError(t, err)
	assert.Equal(t, "p53 structure", pf.Name)
	assert.Equal(t, 3, g.Len())

	phases, err := g.ExecutionPhases()
	require.NoError(t, err)
	require.Len(t, phases, 3)
	assert.Equal(t, []string{"struct"}, phases[1].NodeIDs)
	assert.Equal(t, []string{"pubmed_search", "alphafold_fetch", "summary"}, []string{
		pf.Plan().Steps[0].CapabilityID, pf.Plan().Steps[1].CapabilityID, pf.Plan().Steps[2].CapabilityID,
	})
}

func TestLoadPlanFile_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"steps":[{"id":"a","capability_id":"x","depends_on":[]}]}`), 0o644))

	pf, err := LoadPlanFile(path)
	require.NoError(t, err)
	require.Len(t, pf.Steps, 1)
	assert.Equal(t, "x", pf.Steps[0].CapabilityID)

	_, err = LoadPlanFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestReferences(t *testing.T) {
	assert.Equal(t, []string{"lit", "struct"}, References("$lit.count + $struct.n"))
	assert.Nil(t, References("plain text"))
	assert.Nil(t, References(42))
}
