// Package search walks the capability tree with a reasoner to pick the
// capabilities relevant to a goal, and asks for a dependency plan over them.
// Every reasoner decision point has a fail-open fallback.
package search

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	hive "github.com/ZanzyTHEbar/dragonscale-hive"
	"github.com/ZanzyTHEbar/dragonscale-hive/internal/captree"
	"github.com/ZanzyTHEbar/dragonscale-hive/internal/decode"
	"github.com/ZanzyTHEbar/dragonscale-hive/internal/parallel"
	"github.com/ZanzyTHEbar/dragonscale-hive/internal/prompt"
)

// Searcher runs hierarchical capability searches. It holds no per-search
// state and may be shared between agents.
type Searcher struct {
	reasoner hive.Reasoner
	prompts  *prompt.Registry
	logger   *slog.Logger
	config   hive.Config
}

// Option configures a Searcher.
type Option func(*Searcher)

// WithPrompts overrides the prompt registry.
func WithPrompts(r *prompt.Registry) Option {
	return func(s *Searcher) { s.prompts = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Searcher) { s.logger = l }
}

// WithConfig sets thresholds and timeouts.
func WithConfig(c hive.Config) Option {
	return func(s *Searcher) { s.config = c }
}

// New creates a Searcher around a reasoner.
func New(reasoner hive.Reasoner, opts ...Option) *Searcher {
	s := &Searcher{
		reasoner: reasoner,
		config:   hive.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.prompts == nil {
		s.prompts = prompt.NewRegistry()
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return s
}

// FromHive creates a Searcher using the hive's reasoner, logger and config.
func FromHive(h *hive.Hive, opts ...Option) *Searcher {
	base := []Option{WithConfig(h.Config()), WithLogger(h.Logger())}
	return New(h.Reasoner(), append(base, opts...)...)
}

// Result is the outcome of one search.
type Result struct {
	// Selected is deduplicated, in the order capabilities were discovered.
	Selected      []hive.Capability
	ReasonerCalls int
	Explored      []string
	// Reasons maps capability id to the reasoner's one-line reason, when given.
	Reasons map[string]string
	// Fallbacks counts decision points that took their fail-open default.
	Fallbacks int
	Pruned    bool
}

// IDs returns the selected capability ids in order.
func (r Result) IDs() []string {
	ids := make([]string, len(r.Selected))
	for i, c := range r.Selected {
		ids[i] = c.ID
	}
	return ids
}

// run is the state of one Search call.
type run struct {
	goal      string
	calls     atomic.Int64
	fallbacks atomic.Int64

	mu       sync.Mutex
	seen     map[string]struct{}
	selected []hive.Capability
	reasons  map[string]string
	explored []string
}

func (r *run) visit(id string) {
	r.mu.Lock()
	r.explored = append(r.explored, id)
	r.mu.Unlock()
}

func (r *run) collect(caps []hive.Capability, reasons map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range caps {
		if _, dup := r.seen[c.ID]; dup {
			continue
		}
		r.seen[c.ID] = struct{}{}
		r.selected = append(r.selected, c)
		if why := reasons[c.ID]; why != "" {
			r.reasons[c.ID] = why
		}
	}
}

// Search descends the tree from root and returns the selected capabilities.
// It returns an empty result only when the tree holds no capabilities or
// ctx is done before any leaf is reached.
func (s *Searcher) Search(ctx context.Context, goal string, root *captree.Node) Result {
	r := &run{
		goal:    goal,
		seen:    make(map[string]struct{}),
		reasons: make(map[string]string),
	}
	if root == nil || root.CapabilityCount() == 0 {
		return Result{Reasons: r.reasons}
	}

	start := time.Now()
	s.descend(ctx, r, root)

	selected := r.selected
	pruned := false
	// A selection made entirely by auto-include needs no pruning.
	if len(selected) > 1 && r.calls.Load() > 0 {
		selected, pruned = s.prune(ctx, r, selected)
	}

	res := Result{
		Selected:      selected,
		ReasonerCalls: int(r.calls.Load()),
		Explored:      r.explored,
		Reasons:       r.reasons,
		Fallbacks:     int(r.fallbacks.Load()),
		Pruned:        pruned,
	}
	s.logger.Info("capability search finished",
		"goal", goal,
		"selected", len(res.Selected),
		"reasoner_calls", res.ReasonerCalls,
		"explored", len(res.Explored),
		"fallbacks", res.Fallbacks,
		"duration", time.Since(start))
	return res
}

func (s *Searcher) descend(ctx context.Context, r *run, node *captree.Node) {
	r.visit(node.ID)

	if node.IsLeaf() {
		caps, reasons := s.selectLeaf(ctx, r, node)
		r.collect(caps, reasons)
		return
	}

	kept := node.Children
	if len(kept) > s.config.AutoExpandThreshold {
		kept = s.selectBranches(ctx, r, node)
	}

	if len(kept) == 1 && kept[0].CapabilityCount() < s.config.EarlyStopThreshold {
		r.visit(kept[0].ID)
		r.collect(kept[0].All(), nil)
		return
	}

	parallel.Each(ctx, kept, parallel.Workers(len(kept), s.config.SearchWorkers), func(ctx context.Context, child *captree.Node) {
		s.descend(ctx, r, child)
	})
}

type option struct {
	ID          string
	Name        string
	Description string
	Category    string
	Count       int
	Params      []string
}

func (s *Searcher) selectBranches(ctx context.Context, r *run, node *captree.Node) []*captree.Node {
	opts := make([]option, len(node.Children))
	byID := make(map[string]*captree.Node, len(node.Children))
	for i, c := range node.Children {
		opts[i] = option{ID: c.ID, Name: c.Name, Description: c.Description, Count: c.CapabilityCount()}
		byID[c.ID] = c
	}

	text, ok := s.ask(ctx, r, prompt.Branch, map[string]any{"Goal": r.goal, "Node": node.Name, "Options": opts})
	if !ok {
		r.fallbacks.Add(1)
		return node.Children
	}
	ids, err := decode.IDList(text)
	if err != nil {
		s.logger.Debug("branch selection unparsable, keeping all children", "node", node.ID, "error", err)
		r.fallbacks.Add(1)
		return node.Children
	}

	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, valid := byID[id]; valid {
			want[id] = struct{}{}
		}
	}
	if len(want) == 0 {
		s.logger.Debug("branch selection named no valid child, keeping all", "node", node.ID, "answer", ids)
		r.fallbacks.Add(1)
		return node.Children
	}

	kept := make([]*captree.Node, 0, len(want))
	for _, c := range node.Children {
		if _, ok := want[c.ID]; ok {
			kept = append(kept, c)
		}
	}
	return kept
}

func (s *Searcher) selectLeaf(ctx context.Context, r *run, leaf *captree.Node) ([]hive.Capability, map[string]string) {
	if len(leaf.Capabilities) <= s.config.LeafAutoInclude {
		return leaf.Capabilities, nil
	}

	text, ok := s.ask(ctx, r, prompt.Leaf, map[string]any{"Goal": r.goal, "Node": leaf.Name, "Options": capabilityOptions(leaf.Capabilities)})
	if !ok {
		r.fallbacks.Add(1)
		return leaf.Capabilities, nil
	}
	picks, err := decode.Selections(text)
	if err != nil {
		s.logger.Debug("leaf selection unparsable, keeping whole leaf", "leaf", leaf.ID, "error", err)
		r.fallbacks.Add(1)
		return leaf.Capabilities, nil
	}

	reasons := make(map[string]string, len(picks))
	for _, p := range picks {
		reasons[p.ID] = p.Reason
	}
	var out []hive.Capability
	for _, c := range leaf.Capabilities {
		if _, ok := reasons[c.ID]; ok {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		r.fallbacks.Add(1)
		return leaf.Capabilities, nil
	}
	return out, reasons
}

func (s *Searcher) prune(ctx context.Context, r *run, selected []hive.Capability) ([]hive.Capability, bool) {
	text, ok := s.ask(ctx, r, prompt.Prune, map[string]any{"Goal": r.goal, "Options": capabilityOptions(selected)})
	if !ok {
		r.fallbacks.Add(1)
		return selected, false
	}
	ids, err := decode.IDList(text)
	if err != nil {
		r.fallbacks.Add(1)
		return selected, false
	}

	keep := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		keep[id] = struct{}{}
	}
	out := make([]hive.Capability, 0, len(selected))
	for _, c := range selected {
		if _, ok := keep[c.ID]; ok {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		r.fallbacks.Add(1)
		return selected, false
	}
	return out, len(out) < len(selected)
}

// ask renders a prompt and calls the reasoner under its own timeout. Any
// failure, including a panic inside the reasoner, is reported as !ok.
func (s *Searcher) ask(ctx context.Context, r *run, name string, data any) (text string, ok bool) {
	p, err := s.prompts.Render(name, data)
	if err != nil {
		s.logger.Warn("failed to render prompt", "prompt", name, "error", err)
		return "", false
	}

	if r != nil {
		r.calls.Add(1)
	}
	text, err = s.call(ctx, p)
	if err != nil {
		s.logger.Debug("reasoner call failed, using fallback", "prompt", name, "error", err)
		return "", false
	}
	return text, true
}

func (s *Searcher) call(ctx context.Context, p string) (text string, err error) {
	callCtx, cancel := context.WithTimeout(ctx, s.config.ReasonerTimeout)
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			err = hive.NewReasonerError("search", fmt.Errorf("reasoner panicked: %v", rec))
		}
	}()
	return s.reasoner.Reason(callCtx, p, s.config.ReasonerMaxTokens)
}

func capabilityOptions(caps []hive.Capability) []option {
	opts := make([]option, len(caps))
	for i, c := range caps {
		opts[i] = option{ID: c.ID, Description: c.Description, Category: c.Category, Params: c.Params}
	}
	return opts
}
