// Package agent runs one collaborating investigation: plan with the
// hierarchical searcher, schedule the plan as a dependency graph, execute it
// phase by phase, react to peers on the session bus, then synthesize and
// publish a finding.
package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	hive "github.com/ZanzyTHEbar/dragonscale-hive"
	"github.com/ZanzyTHEbar/dragonscale-hive/internal/captree"
	"github.com/ZanzyTHEbar/dragonscale-hive/internal/dag"
	"github.com/ZanzyTHEbar/dragonscale-hive/internal/eventbus"
	"github.com/ZanzyTHEbar/dragonscale-hive/internal/executor"
	"github.com/ZanzyTHEbar/dragonscale-hive/internal/prompt"
	"github.com/ZanzyTHEbar/dragonscale-hive/internal/search"
)

// ErrAlreadyRun is returned when Run is called a second time.
var ErrAlreadyRun = errors.New("agent runner already used")

// State is the display view of a runner. It is written only by the runner
// and read through Snapshot.
type State struct {
	Name                  string
	Status                hive.AgentStatus
	Stage                 Stage
	CurrentCapability     string
	CompletedCapabilities []string
	Findings              []string
	Error                 string
}

// Finding is the synthesized output of one agent.
type Finding struct {
	Agent      string   `json:"agent"`
	Text       string   `json:"text"`
	Confidence float64  `json:"confidence"`
	Sources    []string `json:"sources"`
}

// Reaction is an Agreement or Challenge emitted towards a peer.
type Reaction struct {
	Type     eventbus.EventType
	RefAgent string
	Finding  string
	Detail   string
}

// Report is everything one run produced.
type Report struct {
	Agent     string
	Goal      string
	Search    search.Result
	Plan      hive.Plan
	Outcome   *executor.Outcome
	Finding   Finding
	Reactions []Reaction
	Lifecycle *Lifecycle
}

// Runner executes one agent profile once.
type Runner struct {
	hive     *hive.Hive
	profile  hive.AgentProfile
	tree     *captree.Node
	bus      *eventbus.Bus
	searcher *search.Searcher
	prompts  *prompt.Registry
	logger   *slog.Logger

	used atomic.Bool

	mu    sync.Mutex
	state State
}

// Option configures a Runner.
type Option func(*Runner)

// WithSearcher overrides the searcher built from the hive.
func WithSearcher(s *search.Searcher) Option {
	return func(r *Runner) { r.searcher = s }
}

// WithPrompts sets the prompt registry used for synthesis.
func WithPrompts(p *prompt.Registry) Option {
	return func(r *Runner) { r.prompts = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// NewRunner creates a runner for profile over tree, publishing to bus.
func NewRunner(h *hive.Hive, profile hive.AgentProfile, tree *captree.Node, bus *eventbus.Bus, opts ...Option) *Runner {
	r := &Runner{
		hive:    h,
		profile: profile,
		tree:    tree,
		bus:     bus,
		state:   State{Name: profile.Name, Status: hive.AgentStatusIdle, Stage: StageInit},
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = h.Logger()
	}
	if r.logger == nil {
		r.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	r.logger = r.logger.With("agent", profile.Name)
	if r.prompts == nil {
		r.prompts = prompt.NewRegistry()
	}
	if r.searcher == nil {
		r.searcher = search.FromHive(h, search.WithPrompts(r.prompts), search.WithLogger(r.logger))
	}
	return r
}

// Name returns the agent name.
func (r *Runner) Name() string { return r.profile.Name }

// Snapshot returns a copy of the current state.
func (r *Runner) Snapshot() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.state
	s.CompletedCapabilities = append([]string(nil), s.CompletedCapabilities...)
	s.Findings = append([]string(nil), s.Findings...)
	return s
}

func (r *Runner) update(fn func(*State)) {
	r.mu.Lock()
	fn(&r.state)
	r.mu.Unlock()
}

// runContext is the working data of one run, threaded through the
// lifecycle transitions.
type runContext struct {
	topic     string
	goal      string
	lifecycle *Lifecycle
	report    *Report
	graph     *dag.Graph
	digests   map[string]Digest
	peers     []eventbus.Message
}

// Run executes the investigation for topic. A report is always returned;
// the error is the one that ended the run early, if any.
func (r *Runner) Run(ctx context.Context, topic string) (*Report, error) {
	if !r.used.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRun
	}

	rc := &runContext{
		topic:     topic,
		goal:      r.profile.GoalFor(topic),
		lifecycle: newLifecycle(),
		digests:   make(map[string]Digest),
	}
	rc.report = &Report{Agent: r.profile.Name, Goal: rc.goal, Lifecycle: rc.lifecycle}

	m := NewMachine(func(stage Stage) { r.enter(rc, stage) })
	m.Register(StageInit, func(context.Context, *runContext) (Stage, error) { return StagePlanning, nil })
	m.Register(StagePlanning, r.plan)
	m.Register(StageScheduling, r.schedule)
	m.Register(StageExecution, r.execute)
	m.Register(StageReaction, r.react)
	m.Register(StageSynthesis, r.synthesize)

	r.publish(r.bus.AgentStatus(r.profile.Name, string(hive.AgentStatusIdle), "starting: "+topic))
	err := m.Execute(ctx, rc)
	if err != nil {
		r.logger.Warn("agent run ended early", "stage", rc.lifecycle.ErrorStage, "error", err)
	} else {
		r.logger.Info("agent run complete",
			"finding_sources", len(rc.report.Finding.Sources),
			"duration", rc.lifecycle.Total())
	}
	return rc.report, err
}

func (r *Runner) enter(rc *runContext, stage Stage) {
	status := stage.Status()
	detail := string(stage)
	r.update(func(s *State) {
		s.Stage = stage
		s.Status = status
		if stage.IsTerminal() {
			s.CurrentCapability = ""
		}
		if rc.lifecycle.LastError != nil {
			s.Error = rc.lifecycle.LastError.Error()
		}
	})
	if rc.lifecycle.LastError != nil && stage.IsTerminal() {
		detail = string(stage) + ": " + rc.lifecycle.LastError.Error()
	}
	r.publish(r.bus.AgentStatus(r.profile.Name, string(status), detail))
}

func (r *Runner) publish(err error) {
	if err != nil {
		r.logger.Debug("event not published", "error", err)
	}
}

func (r *Runner) plan(ctx context.Context, rc *runContext) (Stage, error) {
	res := r.searcher.Search(ctx, rc.goal, r.tree)
	rc.report.Search = res
	rc.report.Plan = r.searcher.Plan(ctx, rc.goal, res.Selected)
	r.logger.Info("planned investigation",
		"selected", len(res.Selected),
		"steps", len(rc.report.Plan.Steps),
		"reasoner_calls", res.ReasonerCalls,
		"fallback_plan", rc.report.Plan.Fallback)
	return StageScheduling, nil
}

func (r *Runner) schedule(_ context.Context, rc *runContext) (Stage, error) {
	steps := r.fillParams(rc.report.Plan.Steps, rc.topic)
	g, err := dag.Ingest(steps)
	if err != nil {
		r.logger.Warn("plan rejected, using fallback plan", "error", err)
		rc.report.Plan = search.FallbackPlan(rc.report.Search.Selected)
		g, err = dag.Ingest(r.fillParams(rc.report.Plan.Steps, rc.topic))
		if err != nil {
			return StageError, err
		}
	}
	rc.graph = g
	if g.Len() == 0 {
		return StageReaction, nil
	}
	return StageExecution, nil
}

// fillParams gives every step that accepts a "query" parameter the session
// topic, unless the plan already set one.
func (r *Runner) fillParams(steps []hive.PlanStep, topic string) []hive.PlanStep {
	out := make([]hive.PlanStep, len(steps))
	for i, s := range steps {
		params := make(map[string]any, len(s.Params)+1)
		for k, v := range s.Params {
			params[k] = v
		}
		if c, ok := r.hive.Catalog().Lookup(s.CapabilityID); ok && c.Accepts("query") {
			if _, set := params["query"]; !set {
				params["query"] = topic
			}
		}
		s.Params = params
		out[i] = s
	}
	return out
}

func (r *Runner) execute(ctx context.Context, rc *runContext) (Stage, error) {
	var digestMu sync.Mutex
	hooks := executor.Hooks{
		OnPhase: func(p dag.Phase, mode string) {
			r.publish(r.bus.DAGPhase(r.profile.Name, p.Number, p.NodeIDs, mode))
		},
		OnStart: func(n dag.Node, params map[string]any) {
			r.update(func(s *State) { s.CurrentCapability = n.CapabilityID })
			r.publish(r.bus.ToolStarted(r.profile.Name, n.CapabilityID, params))
		},
		OnResult: func(n dag.Node, result any, err error) {
			var d Digest
			if err == nil {
				d = DigestOf(result)
				digestMu.Lock()
				rc.digests[n.ID] = d
				digestMu.Unlock()
				r.update(func(s *State) {
					s.CompletedCapabilities = append(s.CompletedCapabilities, n.CapabilityID)
				})
			}
			r.publish(r.bus.ToolResult(r.profile.Name, n.CapabilityID, d.Summary, d.Count, d.Items, err))
		},
	}

	exec := executor.FromHive(r.hive, executor.WithHooks(hooks), executor.WithLogger(r.logger))
	outcome, err := exec.Run(ctx, rc.graph)
	if err != nil {
		return StageError, err
	}
	rc.report.Outcome = outcome
	r.update(func(s *State) { s.CurrentCapability = "" })
	if outcome.Cancelled {
		return StageError, ctx.Err()
	}
	return StageReaction, nil
}

// completedDigests returns digests of completed nodes in node id order.
func (rc *runContext) completedDigests() ([]string, []Digest) {
	ids := make([]string, 0, len(rc.digests))
	for id := range rc.digests {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]Digest, len(ids))
	for i, id := range ids {
		out[i] = rc.digests[id]
	}
	return ids, out
}
