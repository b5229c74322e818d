package captree

import (
	"os"
	"path/filepath"
	"testing"

	hive "github.com/ZanzyTHEbar/dragonscale-hive"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleCatalog() []hive.Capability {
	return []hive.Capability{
		{ID: "pubmed_search", Category: "literature"},
		{ID: "uniprot_lookup", Category: "protein"},
		{ID: "alphafold_fetch", Category: "structure"},
		{ID: "string_interactions", Category: "interaction"},
		{ID: "weather_now", Category: "weather"},
		{ID: "", Category: "literature"},
		{ID: "pubmed_search", Category: "duplicate"},
	}
}

func TestBuild_EveryCapabilityInExactlyOneLeaf(t *testing.T) {
	root, report := Build(sampleCatalog(), nil)

	assert.Equal(t, 4, report.Assigned)
	assert.Equal(t, 1, report.Unassigned)
	assert.Equal(t, 2, report.Skipped)
	assert.Equal(t, 5, root.CapabilityCount())

	counts := map[string]int{}
	root.Walk(func(n *Node, _ int) {
		if !n.IsLeaf() {
			assert.Empty(t, n.Capabilities, "interior node %s holds capabilities", n.ID)
		}
		for _, c := range n.Capabilities {
			counts[c.ID]++
		}
	})
	for id, n := range counts {
		assert.Equal(t, 1, n, "capability %s appears %d times", id, n)
	}

	leaf := root.LeafOf("weather_now")
	require.NotNil(t, leaf)
	assert.Equal(t, GeneralID+".misc", leaf.ID)

	protein := root.Find("molecular.protein")
	require.NotNil(t, protein)
	ids := []string{}
	for _, c := range protein.Capabilities {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []string{"string_interactions", "uniprot_lookup"}, ids)
}

func TestBuild_PrunesEmptyBranches(t *testing.T) {
	root, _ := Build([]hive.Capability{{ID: "pubmed_search", Category: "literature"}}, nil)

	require.Len(t, root.Children, 1)
	assert.Equal(t, "literature", root.Children[0].ID)
	require.Len(t, root.Children[0].Children, 1)
	assert.Equal(t, "literature.search", root.Children[0].Children[0].ID)
	assert.Nil(t, root.Find("chemistry"))
}

func TestBuild_Deterministic(t *testing.T) {
	a, _ := Build(sampleCatalog(), nil)
	b, _ := Build(sampleCatalog(), nil)
	assert.Equal(t, a, b)
}

func TestBuild_ExplicitIDBeatsCategory(t *testing.T) {
	tax := &Taxonomy{Domains: []Domain{{
		ID: "d",
		Functions: []Function{
			{ID: "d.cat", Categories: []string{"literature"}},
			{ID: "d.pinned", Capabilities: []string{"pubmed_search"}},
		},
	}}}

	root, _ := Build([]hive.Capability{{ID: "pubmed_search", Category: "Literature"}}, tax)

	leaf := root.LeafOf("pubmed_search")
	require.NotNil(t, leaf)
	assert.Equal(t, "d.pinned", leaf.ID)
}

func TestLoadTaxonomy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "taxonomy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
domains:
  - id: bio
    name: Biology
    functions:
      - id: bio.protein
        name: Proteins
        categories: [protein]
`), 0o644))

	tax, err := LoadTaxonomy(path)
	require.NoError(t, err)
	require.Len(t, tax.Domains, 1)
	assert.Equal(t, []string{"protein"}, tax.Domains[0].Functions[0].Categories)

	dup := filepath.Join(dir, "dup.yaml")
	require.NoError(t, os.WriteFile(dup, []byte(`
domains:
  - id: bio
    functions:
      - id: bio
`), 0o644))
	_, err = LoadTaxonomy(dup)
	assert.Error(t, err)
}
