package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	hive "github.com/ZanzyTHEbar/dragonscale-hive"
	"github.com/ZanzyTHEbar/dragonscale-hive/internal/captree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedReasoner answers by the first prompt line containing a key.
type scriptedReasoner struct {
	mu      sync.Mutex
	answers map[string]string
	err     error
	prompts []string
}

func (r *scriptedReasoner) Reason(ctx context.Context, p string, _ int) (string, error) {
	r.mu.Lock()
	r.prompts = append(r.prompts, p)
	r.mu.Unlock()
	if r.err != nil {
		return "", r.err
	}
	for key, answer := range r.answers {
		if strings.Contains(p, key) {
			return answer, nil
		}
	}
	return "", nil
}

func (r *scriptedReasoner) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.prompts)
}

func caps(category string, ids ...string) []hive.Capability {
	out := make([]hive.Capability, len(ids))
	for i, id := range ids {
		out[i] = hive.Capability{ID: id, Category: category, Description: id + " tool"}
	}
	return out
}

// wideTree has five domains so branch selection needs the reasoner.
func wideTree() *captree.Node {
	var all []hive.Capability
	all = append(all, caps("literature", "pubmed_search", "europepmc_search", "biorxiv_search")...)
	all = append(all, caps("protein", "uniprot_lookup", "interpro_domains", "string_interactions", "pdb_lookup", "sifts_map", "intact_ppi")...)
	all = append(all, caps("chemistry", "chembl_compound", "pubchem_lookup")...)
	all = append(all, caps("clinical", "ctgov_search")...)
	all = append(all, caps("statistics", "gsea_run")...)
	root, _ := captree.Build(all, nil)
	return root
}

func testConfig() hive.Config {
	c := hive.DefaultConfig()
	c.ReasonerTimeout = time.Second
	return c
}

func TestSearch_SmallTreeNeedsNoReasoner(t *testing.T) {
	root, _ := captree.Build(caps("protein", "uniprot_lookup", "pdb_lookup"), nil)
	r := &scriptedReasoner{}

	res := New(r, WithConfig(testConfig())).Search(context.Background(), "TP53", root)

	assert.ElementsMatch(t, []string{"uniprot_lookup", "pdb_lookup"}, res.IDs())
	assert.Zero(t, res.ReasonerCalls)
	assert.Zero(t, r.calls())
}

func TestSearch_ReasonerFailureKeepsEverything(t *testing.T) {
	root := wideTree()
	r := &scriptedReasoner{err: errors.New("connection refused")}

	res := New(r, WithConfig(testConfig())).Search(context.Background(), "TP53 structure", root)

	require.NotEmpty(t, res.Selected)
	assert.Len(t, res.Selected, root.CapabilityCount())
	assert.Positive(t, res.Fallbacks)
	assert.Equal(t, r.calls(), res.ReasonerCalls)
}

func TestSearch_ReasonerPanicIsAFallback(t *testing.T) {
	root := wideTree()
	panicky := hive.ReasonerFunc(func(context.Context, string, int) (string, error) {
		panic("boom")
	})

	res := New(panicky, WithConfig(testConfig())).Search(context.Background(), "x", root)
	assert.Len(t, res.Selected, root.CapabilityCount())
}

func TestSearch_ReasonerTimeoutIsAFallback(t *testing.T) {
	root := wideTree()
	slow := hive.ReasonerFunc(func(ctx context.Context, _ string, _ int) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	cfg := testConfig()
	cfg.ReasonerTimeout = 10 * time.Millisecond

	res := New(slow, WithConfig(cfg)).Search(context.Background(), "x", root)
	assert.Len(t, res.Selected, root.CapabilityCount())
}

func TestSearch_BranchLeafAndPrune(t *testing.T) {
	root := wideTree()
	r := &scriptedReasoner{answers: map[string]string{
		"Sub-categories:":    `Looking at this, ["molecular", "nonsense"]`,
		"Candidate tools in": `[{"id":"uniprot_lookup","reason":"sequence"},{"id":"pdb_lookup","reason":"structures"},{"id":"sifts_map","reason":"mapping"}]`,
		"near-identical":     `["uniprot_lookup","pdb_lookup"]`,
	}}

	res := New(r, WithConfig(testConfig())).Search(context.Background(), "TP53 structure", root)

	assert.ElementsMatch(t, []string{"uniprot_lookup", "pdb_lookup"}, res.IDs())
	assert.True(t, res.Pruned)
	assert.Equal(t, "sequence", res.Reasons["uniprot_lookup"])
	assert.Contains(t, res.Explored, "molecular")
	assert.NotContains(t, res.Explored, "chemistry")
	// branch + leaf + prune
	assert.Equal(t, 3, res.ReasonerCalls)
}

func TestSearch_UnusableAnswersFailOpen(t *testing.T) {
	root := wideTree()
	r := &scriptedReasoner{answers: map[string]string{
		"Sub-categories:":    `I would go with molecular biology.`,
		"Candidate tools in": `[{"id":"made_up"}]`,
		"near-identical":     `[]`,
	}}

	res := New(r, WithConfig(testConfig())).Search(context.Background(), "x", root)
	assert.Len(t, res.Selected, root.CapabilityCount())
	assert.False(t, res.Pruned)
}

func TestSearch_EmptyTree(t *testing.T) {
	root, _ := captree.Build(nil, nil)
	res := New(&scriptedReasoner{}).Search(context.Background(), "x", root)
	assert.Empty(t, res.Selected)
	assert.Empty(t, res.Explored)
}

func TestSearch_ConcurrentSiblingsDedupe(t *testing.T) {
	var all []hive.Capability
	for d := 0; d < 3; d++ {
		all = append(all, caps([]string{"literature", "protein", "chemistry"}[d], fmt.Sprintf("t%d_a", d), fmt.Sprintf("t%d_b", d), fmt.Sprintf("t%d_c", d), fmt.Sprintf("t%d_d", d), fmt.Sprintf("t%d_e", d))...)
	}
	root, _ := captree.Build(all, nil)
	r := &scriptedReasoner{err: errors.New("offline")}

	res := New(r, WithConfig(testConfig())).Search(context.Background(), "x", root)
	assert.Len(t, res.Selected, 15)
	seen := map[string]bool{}
	for _, id := range res.IDs() {
		assert.False(t, seen[id], "duplicate %s", id)
		seen[id] = true
	}
}
