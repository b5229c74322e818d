// Package dag is the dependency graph scheduler: it ingests a plan, keeps
// it acyclic, derives topological order and execution phases, and tracks
// per-node lifecycle with cascading skips.
//
// A Graph is owned by a single runner and does no locking of its own.
package dag

import (
	"container/heap"
	"errors"
	"fmt"
	"sort"

	hive "github.com/ZanzyTHEbar/dragonscale-hive"
)

var (
	ErrEmptyID           = errors.New("node id is empty")
	ErrDuplicateNode     = errors.New("duplicate node id")
	ErrUnknownNode       = errors.New("unknown node")
	ErrCycleDetected     = errors.New("cycle detected")
	ErrMissingDependency = errors.New("dependency not present in plan")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrHasDependents     = errors.New("node has dependents")
)

// Node is one scheduled capability invocation.
type Node struct {
	ID           string
	CapabilityID string
	DependsOn    []string // sorted, fixed at creation
	Purpose      string
	Params       map[string]any
	Status       hive.NodeStatus
	Reason       hive.FailureReason
}

// Phase is a set of nodes with no edges between them. Phase numbers are
// 0-based; NodeIDs are sorted.
type Phase struct {
	Number  int
	NodeIDs []string
}

// Width is the number of nodes in the phase.
func (p Phase) Width() int { return len(p.NodeIDs) }

type set map[string]struct{}

func (s set) sorted() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Graph holds the nodes and two adjacency indexes that are kept mutual
// inverses: dependents[a] contains b iff dependencies[b] contains a.
type Graph struct {
	nodes        map[string]*Node
	dependents   map[string]set
	dependencies map[string]set
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		nodes:        make(map[string]*Node),
		dependents:   make(map[string]set),
		dependencies: make(map[string]set),
	}
}

// Ingest builds a graph from plan steps. The plan is rejected when an id
// repeats, a depends_on id is not in the plan, or the dependencies form a
// cycle.
func Ingest(steps []hive.PlanStep) (*Graph, error) {
	g := New()
	for _, s := range steps {
		err := g.AddNode(Node{
			ID:           s.ID,
			CapabilityID: s.CapabilityID,
			DependsOn:    s.DependsOn,
			Purpose:      s.Purpose,
			Params:       s.Params,
		})
		if err != nil {
			return nil, hive.NewPlanValidationError(fmt.Sprintf("cannot add step %q", s.ID), err)
		}
	}
	if missing := g.MissingDependencies(); len(missing) > 0 {
		return nil, hive.NewPlanValidationError(
			fmt.Sprintf("step %q depends on %q", missing[0][0], missing[0][1]), ErrMissingDependency)
	}
	if g.DetectCycle() {
		return nil, hive.NewPlanValidationError("plan is not acyclic", ErrCycleDetected)
	}
	return g, nil
}

// AddNode registers a node as Pending and wires its edges. Dependencies may
// name nodes that are added later. A node whose edges would close a cycle is
// rolled back and ErrCycleDetected returned, so the graph stays acyclic.
func (g *Graph) AddNode(n Node) error {
	if n.ID == "" {
		return ErrEmptyID
	}
	if _, exists := g.nodes[n.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateNode, n.ID)
	}

	deps := make(set, len(n.DependsOn))
	for _, d := range n.DependsOn {
		deps[d] = struct{}{}
	}
	n.DependsOn = deps.sorted()
	n.Status = hive.NodeStatusPending
	n.Reason = hive.ReasonNone
	n.Params = cloneParams(n.Params)

	g.nodes[n.ID] = &n
	g.dependencies[n.ID] = deps
	for d := range deps {
		if g.dependents[d] == nil {
			g.dependents[d] = make(set)
		}
		g.dependents[d][n.ID] = struct{}{}
	}

	if g.DetectCycle() {
		g.unlink(n.ID)
		return fmt.Errorf("%w: adding %s", ErrCycleDetected, n.ID)
	}
	return nil
}

// RemoveNode deletes a node that nothing depends on.
func (g *Graph) RemoveNode(id string) error {
	if _, ok := g.nodes[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}
	if len(g.dependents[id]) > 0 {
		return fmt.Errorf("%w: %s is required by %v", ErrHasDependents, id, g.dependents[id].sorted())
	}
	g.unlink(id)
	return nil
}

func (g *Graph) unlink(id string) {
	for d := range g.dependencies[id] {
		delete(g.dependents[d], id)
		if len(g.dependents[d]) == 0 {
			delete(g.dependents, d)
		}
	}
	delete(g.dependencies, id)
	delete(g.nodes, id)
}

// MissingDependencies lists (node, dependency) pairs whose dependency is not
// a node of the graph, sorted.
func (g *Graph) MissingDependencies() [][2]string {
	var out [][2]string
	for _, id := range g.ids() {
		for _, d := range g.nodes[id].DependsOn {
			if _, ok := g.nodes[d]; !ok {
				out = append(out, [2]string{id, d})
			}
		}
	}
	return out
}

// DetectCycle runs a white/gray/black depth-first search along dependency
// edges; reaching a gray node means a back edge.
func (g *Graph) DetectCycle() bool {
	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int, len(g.nodes))

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		for d := range g.dependencies[id] {
			if _, ok := g.nodes[d]; !ok {
				continue
			}
			switch color[d] {
			case gray:
				return true
			case white:
				if visit(d) {
					return true
				}
			}
		}
		color[id] = black
		return false
	}

	for _, id := range g.ids() {
		if color[id] == white && visit(id) {
			return true
		}
	}
	return false
}

// TopologicalOrder returns every node after all of its dependencies using
// Kahn's algorithm, breaking ties by id. It never returns a partial order:
// if any node is left unvisited the result is an error.
func (g *Graph) TopologicalOrder() ([]string, error) {
	if missing := g.MissingDependencies(); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s -> %s", ErrMissingDependency, missing[0][0], missing[0][1])
	}

	indegree := make(map[string]int, len(g.nodes))
	ready := &idHeap{}
	for id := range g.nodes {
		indegree[id] = len(g.dependencies[id])
		if indegree[id] == 0 {
			heap.Push(ready, id)
		}
	}

	order := make([]string, 0, len(g.nodes))
	for ready.Len() > 0 {
		id := heap.Pop(ready).(string)
		order = append(order, id)
		for dep := range g.dependents[id] {
			if _, ok := g.nodes[dep]; !ok {
				continue
			}
			indegree[dep]--
			if indegree[dep] == 0 {
				heap.Push(ready, dep)
			}
		}
	}

	if len(order) != len(g.nodes) {
		return nil, fmt.Errorf("%w: %d of %d nodes unresolved", ErrCycleDetected, len(g.nodes)-len(order), len(g.nodes))
	}
	return order, nil
}

// ExecutionPhases groups nodes by level, where a node's level is one more
// than the highest level among its dependencies, or 0 without any.
func (g *Graph) ExecutionPhases() ([]Phase, error) {
	order, err := g.TopologicalOrder()
	if err != nil {
		return nil, err
	}

	level := make(map[string]int, len(order))
	maxLevel := -1
	for _, id := range order {
		l := 0
		for d := range g.dependencies[id] {
			if level[d]+1 > l {
				l = level[d] + 1
			}
		}
		level[id] = l
		if l > maxLevel {
			maxLevel = l
		}
	}

	phases := make([]Phase, maxLevel+1)
	for i := range phases {
		phases[i].Number = i
	}
	for _, id := range order {
		phases[level[id]].NodeIDs = append(phases[level[id]].NodeIDs, id)
	}
	for i := range phases {
		sort.Strings(phases[i].NodeIDs)
	}
	return phases, nil
}

// UpdateStatus performs one transition on one node. Only Pending→Running,
// Running→Completed and Running→Failed are accepted; use FailNode to fail a
// node together with its dependents.
func (g *Graph) UpdateStatus(id string, status hive.NodeStatus, reason hive.FailureReason) error {
	n, ok := g.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}
	if !validTransition(n.Status, status) {
		return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, id, n.Status, status)
	}
	n.Status = status
	if status == hive.NodeStatusFailed {
		if reason == hive.ReasonNone || reason == "" {
			reason = hive.ReasonUnknown
		}
		n.Reason = reason
	} else {
		n.Reason = hive.ReasonNone
	}
	return nil
}

func validTransition(from, to hive.NodeStatus) bool {
	switch from {
	case hive.NodeStatusPending:
		return to == hive.NodeStatusRunning
	case hive.NodeStatusRunning:
		return to == hive.NodeStatusCompleted || to == hive.NodeStatusFailed
	}
	return false
}

// FailNode marks a Pending or Running node Failed, then walks its transitive
// dependents breadth first and marks every Pending one Skipped with reason
// DependencyFailed. Dependents that are already Running or terminal keep
// their status. It returns the skipped ids in visit order.
func (g *Graph) FailNode(id string, reason hive.FailureReason) ([]string, error) {
	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}
	if n.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: %s is already %s", ErrInvalidTransition, id, n.Status)
	}
	if reason == hive.ReasonNone || reason == "" {
		reason = hive.ReasonUnknown
	}
	n.Status = hive.NodeStatusFailed
	n.Reason = reason

	var skipped []string
	visited := set{id: {}}
	queue := g.dependents[id].sorted()
	for _, q := range queue {
		visited[q] = struct{}{}
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		if dn, ok := g.nodes[cur]; ok && dn.Status == hive.NodeStatusPending {
			dn.Status = hive.NodeStatusSkipped
			dn.Reason = hive.ReasonDependencyFailed
			skipped = append(skipped, cur)
		}
		for _, next := range g.dependents[cur].sorted() {
			if _, seen := visited[next]; seen {
				continue
			}
			visited[next] = struct{}{}
			queue = append(queue, next)
		}
	}
	return skipped, nil
}

// IsComplete reports whether every node is Completed, Failed or Skipped.
func (g *Graph) IsComplete() bool {
	for _, n := range g.nodes {
		if !n.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// Node returns a copy of the node.
func (g *Graph) Node(id string) (Node, bool) {
	n, ok := g.nodes[id]
	if !ok {
		return Node{}, false
	}
	return copyNode(n), true
}

// Nodes returns copies of all nodes sorted by id.
func (g *Graph) Nodes() []Node {
	out := make([]Node, 0, len(g.nodes))
	for _, id := range g.ids() {
		out = append(out, copyNode(g.nodes[id]))
	}
	return out
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// Dependents returns the ids that depend directly on id, sorted.
func (g *Graph) Dependents(id string) []string { return g.dependents[id].sorted() }

// Dependencies returns the ids that id depends on directly, sorted.
func (g *Graph) Dependencies(id string) []string { return g.dependencies[id].sorted() }

// Ready returns the Pending nodes whose dependencies have all completed.
func (g *Graph) Ready() []string {
	var out []string
	for _, id := range g.ids() {
		if g.nodes[id].Status != hive.NodeStatusPending {
			continue
		}
		ok := true
		for d := range g.dependencies[id] {
			dn, exists := g.nodes[d]
			if !exists || dn.Status != hive.NodeStatusCompleted {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, id)
		}
	}
	return out
}

// CriticalPaths returns, for each node, the length of the longest chain of
// dependents below it. Nodes with longer chains should start first.
func (g *Graph) CriticalPaths() map[string]int {
	memo := make(map[string]int, len(g.nodes))
	var depth func(id string) int
	depth = func(id string) int {
		if v, ok := memo[id]; ok {
			return v
		}
		longest := 0
		for dep := range g.dependents[id] {
			if _, ok := g.nodes[dep]; !ok {
				continue
			}
			if l := 1 + depth(dep); l > longest {
				longest = l
			}
		}
		memo[id] = longest
		return longest
	}
	for id := range g.nodes {
		depth(id)
	}
	return memo
}

// Counts returns the number of nodes per status.
func (g *Graph) Counts() map[hive.NodeStatus]int {
	out := make(map[hive.NodeStatus]int)
	for _, n := range g.nodes {
		out[n.Status]++
	}
	return out
}

func (g *Graph) ids() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func copyNode(n *Node) Node {
	c := *n
	c.DependsOn = append([]string(nil), n.DependsOn...)
	c.Params = cloneParams(n.Params)
	return c
}

func cloneParams(p map[string]any) map[string]any {
	if p == nil {
		return nil
	}
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// idHeap is a min-heap of node ids.
type idHeap []string

func (h idHeap) Len() int           { return len(h) }
func (h idHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h idHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *idHeap) Push(x any)        { *h = append(*h, x.(string)) }
func (h *idHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
