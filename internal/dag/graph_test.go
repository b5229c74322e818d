package dag

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	hive "github.com/ZanzyTHEbar/dragonscale-hive"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chain(t *testing.T) *Graph {
	t.Helper()
	g, err := Ingest([]hive.PlanStep{
		{ID: "A", CapabilityID: "a"},
		{ID: "B", CapabilityID: "b", DependsOn: []string{"A"}},
		{ID: "C", CapabilityID: "c", DependsOn: []string{"B"}},
	})
	require.NoError(t, err)
	return g
}

func status(t *testing.T, g *Graph, id string) (hive.NodeStatus, hive.FailureReason) {
	t.Helper()
	n, ok := g.Node(id)
	require.True(t, ok, "node %s", id)
	return n.Status, n.Reason
}

// randomPlan builds an acyclic plan where each step may depend on any earlier step.
func randomPlan(r *rand.Rand, n int) []hive.PlanStep {
	steps := make([]hive.PlanStep, n)
	for i := range steps {
		steps[i] = hive.PlanStep{ID: fmt.Sprintf("n%02d", i), CapabilityID: "cap"}
		for j := 0; j < i; j++ {
			if r.Intn(4) == 0 {
				steps[i].DependsOn = append(steps[i].DependsOn, steps[j].ID)
			}
		}
	}
	r.Shuffle(len(steps), func(i, j int) { steps[i], steps[j] = steps[j], steps[i] })
	return steps
}

func TestTopologicalOrder_RespectsDependencies(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for round := 0; round < 50; round++ {
		steps := randomPlan(r, 1+r.Intn(15))
		g, err := Ingest(steps)
		require.NoError(t, err)

		order, err := g.TopologicalOrder()
		require.NoError(t, err)
		require.Len(t, order, len(steps))

		pos := make(map[string]int, len(order))
		for i, id := range order {
			_, dup := pos[id]
			require.False(t, dup, "%s appears twice", id)
			pos[id] = i
		}
		for _, s := range steps {
			for _, d := range s.DependsOn {
				assert.Less(t, pos[d], pos[s.ID], "%s must come after %s", s.ID, d)
			}
		}
	}
}

func TestTopologicalOrder_LexicographicTieBreak(t *testing.T) {
	g, err := Ingest([]hive.PlanStep{
		{ID: "zeta", CapabilityID: "x"},
		{ID: "alpha", CapabilityID: "x"},
		{ID: "mid", CapabilityID: "x", DependsOn: []string{"zeta"}},
	})
	require.NoError(t, err)

	order, err := g.TopologicalOrder()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "zeta", "mid"}, order)
}

func TestExecutionPhases_PartitionWithoutInternalEdges(t *testing.T) {
	r := rand.New(rand.NewSource(11))
	for round := 0; round < 50; round++ {
		steps := randomPlan(r, 1+r.Intn(15))
		g, err := Ingest(steps)
		require.NoError(t, err)

		phases, err := g.ExecutionPhases()
		require.NoError(t, err)

		phaseOf := map[string]int{}
		for i, p := range phases {
			assert.Equal(t, i, p.Number)
			assert.IsIncreasing(t, p.NodeIDs)
			for _, id := range p.NodeIDs {
				_, dup := phaseOf[id]
				require.False(t, dup, "%s in two phases", id)
				phaseOf[id] = p.Number
			}
		}
		assert.Len(t, phaseOf, len(steps))

		for _, s := range steps {
			want := 0
			for _, d := range s.DependsOn {
				assert.NotEqual(t, phaseOf[d], phaseOf[s.ID], "edge %s->%s inside one phase", d, s.ID)
				if phaseOf[d]+1 > want {
					want = phaseOf[d] + 1
				}
			}
			assert.Equal(t, want, phaseOf[s.ID], "phase of %s", s.ID)
		}
	}
}

func TestIngest_RejectsCycleAndMissingDependency(t *testing.T) {
	_, err := Ingest([]hive.PlanStep{
		{ID: "A", CapabilityID: "a", DependsOn: []string{"B"}},
		{ID: "B", CapabilityID: "b", DependsOn: []string{"A"}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCycleDetected)
	assert.Equal(t, hive.ErrCodePlanValidation, hive.CodeOf(err))

	_, err = Ingest([]hive.PlanStep{{ID: "A", CapabilityID: "a", DependsOn: []string{"A"}}})
	assert.ErrorIs(t, err, ErrCycleDetected)

	_, err = Ingest([]hive.PlanStep{{ID: "A", CapabilityID: "a", DependsOn: []string{"ghost"}}})
	assert.ErrorIs(t, err, ErrMissingDependency)

	_, err = Ingest([]hive.PlanStep{{ID: "A", CapabilityID: "a"}, {ID: "A", CapabilityID: "b"}})
	assert.ErrorIs(t, err, ErrDuplicateNode)
}

func TestDetectCycle_GraphStaysAcyclic(t *testing.T) {
	g := New()
	require.NoError(t, g.AddNode(Node{ID: "A", DependsOn: []string{"C"}}))
	require.NoError(t, g.AddNode(Node{ID: "B", DependsOn: []string{"A"}}))

	err := g.AddNode(Node{ID: "C", DependsOn: []string{"B"}})
	assert.ErrorIs(t, err, ErrCycleDetected)
	assert.False(t, g.DetectCycle())
	_, ok := g.Node("C")
	assert.False(t, ok)
	assert.Equal(t, []string{"A"}, g.Dependents("C"), "forward reference from A survives rollback")

	_, err = g.TopologicalOrder()
	assert.ErrorIs(t, err, ErrMissingDependency)
}

func TestRemoveNode_KeepsIndexesInverse(t *testing.T) {
	g := chain(t)

	assert.ErrorIs(t, g.RemoveNode("A"), ErrHasDependents)
	require.NoError(t, g.RemoveNode("C"))
	assert.Empty(t, g.Dependents("B"))
	require.NoError(t, g.RemoveNode("B"))
	assert.Empty(t, g.Dependents("A"))
	assert.Equal(t, 1, g.Len())
	assert.ErrorIs(t, g.RemoveNode("B"), ErrUnknownNode)
}

func TestFailNode_CascadesToPendingDependents(t *testing.T) {
	g := chain(t)

	skipped, err := g.FailNode("B", hive.ReasonCapabilityError)
	require.NoError(t, err)
	assert.Equal(t, []string{"C"}, skipped)

	s, r := status(t, g, "B")
	assert.Equal(t, hive.NodeStatusFailed, s)
	assert.Equal(t, hive.ReasonCapabilityError, r)

	s, r = status(t, g, "C")
	assert.Equal(t, hive.NodeStatusSkipped, s)
	assert.Equal(t, hive.ReasonDependencyFailed, r)

	s, r = status(t, g, "A")
	assert.Equal(t, hive.NodeStatusPending, s)
	assert.Equal(t, hive.ReasonNone, r)
}

func TestFailNode_DoesNotInvalidateFinishedDependents(t *testing.T) {
	// B completed before its upstream A was failed out of order; only work
	// that has not started is protected.
	g, err := Ingest([]hive.PlanStep{
		{ID: "A", CapabilityID: "a"},
		{ID: "B", CapabilityID: "b", DependsOn: []string{"A"}},
		{ID: "C", CapabilityID: "c", DependsOn: []string{"A"}},
		{ID: "D", CapabilityID: "d", DependsOn: []string{"B"}},
	})
	require.NoError(t, err)

	require.NoError(t, g.UpdateStatus("B", hive.NodeStatusRunning, hive.ReasonNone))
	require.NoError(t, g.UpdateStatus("B", hive.NodeStatusCompleted, hive.ReasonNone))

	skipped, err := g.FailNode("A", hive.ReasonTimeout)
	require.NoError(t, err)
	assert.Equal(t, []string{"C", "D"}, skipped)

	s, _ := status(t, g, "B")
	assert.Equal(t, hive.NodeStatusCompleted, s)
	assert.True(t, g.IsComplete())
}

func TestUpdateStatus_Transitions(t *testing.T) {
	tests := []struct {
		name  string
		path  []hive.NodeStatus
		valid bool
	}{
		{"run then complete", []hive.NodeStatus{hive.NodeStatusRunning, hive.NodeStatusCompleted}, true},
		{"run then fail", []hive.NodeStatus{hive.NodeStatusRunning, hive.NodeStatusFailed}, true},
		{"complete without running", []hive.NodeStatus{hive.NodeStatusCompleted}, false},
		{"self skip", []hive.NodeStatus{hive.NodeStatusSkipped}, false},
		{"leave terminal", []hive.NodeStatus{hive.NodeStatusRunning, hive.NodeStatusCompleted, hive.NodeStatusRunning}, false},
		{"back to pending", []hive.NodeStatus{hive.NodeStatusRunning, hive.NodeStatusPending}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := chain(t)
			var err error
			for _, st := range tt.path {
				if err = g.UpdateStatus("A", st, hive.ReasonNone); err != nil {
					break
				}
			}
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, ErrInvalidTransition), "got %v", err)
			}
		})
	}
}

func TestFailNode_RejectsTerminal(t *testing.T) {
	g := chain(t)
	_, err := g.FailNode("B", hive.ReasonNone)
	require.NoError(t, err)
	s, r := status(t, g, "B")
	assert.Equal(t, hive.NodeStatusFailed, s)
	assert.Equal(t, hive.ReasonUnknown, r)

	_, err = g.FailNode("C", hive.ReasonTimeout)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestReadyAndCriticalPaths(t *testing.T) {
	g, err := Ingest([]hive.PlanStep{
		{ID: "lit", CapabilityID: "pubmed"},
		{ID: "solo", CapabilityID: "weather"},
		{ID: "struct", CapabilityID: "alphafold", DependsOn: []string{"lit"}},
		{ID: "synth", CapabilityID: "summary", DependsOn: []string{"struct"}},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"lit", "solo"}, g.Ready())
	cp := g.CriticalPaths()
	assert.Equal(t, 2, cp["lit"])
	assert.Equal(t, 0, cp["solo"])

	require.NoError(t, g.UpdateStatus("lit", hive.NodeStatusRunning, hive.ReasonNone))
	require.NoError(t, g.UpdateStatus("lit", hive.NodeStatusCompleted, hive.ReasonNone))
	assert.Equal(t, []string{"solo", "struct"}, g.Ready())
	assert.Equal(t, 1, g.Counts()[hive.NodeStatusCompleted])
	assert.False(t, g.IsComplete())
}

func TestNode_ReturnsCopy(t *testing.T) {
	g, err := Ingest([]hive.PlanStep{{ID: "A", CapabilityID: "a", Params: map[string]any{"query": "p53"}}})
	require.NoError(t, err)

	n, _ := g.Node("A")
	n.Params["query"] = "changed"
	n.Status = hive.NodeStatusCompleted

	again, _ := g.Node("A")
	assert.Equal(t, "p53", again.Params["query"])
	assert.Equal(t, hive.NodeStatusPending, again.Status)
}
