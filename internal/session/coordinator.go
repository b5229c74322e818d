// Package session runs a set of agents against one event bus and turns
// whatever they published into a summary.
package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	hive "github.com/ZanzyTHEbar/dragonscale-hive"
	"github.com/ZanzyTHEbar/dragonscale-hive/internal/agent"
	"github.com/ZanzyTHEbar/dragonscale-hive/internal/captree"
	"github.com/ZanzyTHEbar/dragonscale-hive/internal/eventbus"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// DefaultGrace is how long the coordinator keeps waiting past the agent
// timeout before it reports unfinished agents as incomplete.
const DefaultGrace = 5 * time.Second

// AgentSummary is the end state of one agent in a session.
type AgentSummary struct {
	Status     hive.AgentStatus `json:"status"`
	Stage      agent.Stage      `json:"stage"`
	Error      string           `json:"error,omitempty"`
	Completed  []string         `json:"completed"`
	Reactions  int              `json:"reactions"`
	Incomplete bool             `json:"incomplete"`
	Duration   time.Duration    `json:"duration"`
}

// Summary is assembled for every session, however it ended.
type Summary struct {
	SessionID   string                     `json:"session_id"`
	Topic       string                     `json:"topic"`
	Findings    []agent.Finding            `json:"findings"`
	EventCounts map[eventbus.EventType]int `json:"event_counts"`
	Agents      map[string]AgentSummary    `json:"agents"`
	Incomplete  []string                   `json:"incomplete,omitempty"`
	Duration    time.Duration              `json:"duration"`
}

// Coordinator starts one runner per agent profile.
type Coordinator struct {
	hive       *hive.Hive
	tree       *captree.Node
	profiles   []hive.AgentProfile
	grace      time.Duration
	logger     *slog.Logger
	runnerOpts []agent.Option
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithGrace sets how long to wait past the agent timeout.
func WithGrace(d time.Duration) Option {
	return func(c *Coordinator) { c.grace = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithRunnerOptions passes options to every runner the coordinator builds.
func WithRunnerOptions(opts ...agent.Option) Option {
	return func(c *Coordinator) { c.runnerOpts = append(c.runnerOpts, opts...) }
}

// New creates a coordinator. Profile names must be non-empty and unique.
func New(h *hive.Hive, tree *captree.Node, profiles []hive.AgentProfile, opts ...Option) (*Coordinator, error) {
	if h == nil {
		return nil, hive.NewConfigurationError("session requires a hive", nil)
	}
	if len(profiles) == 0 {
		return nil, hive.NewValidationError("session", "at least one agent profile is required", nil)
	}
	seen := make(map[string]bool, len(profiles))
	for _, p := range profiles {
		if p.Name == "" {
			return nil, hive.NewValidationError("session", "agent profile without a name", nil)
		}
		if seen[p.Name] {
			return nil, hive.NewValidationError("session", fmt.Sprintf("duplicate agent name %q", p.Name), nil)
		}
		seen[p.Name] = true
	}

	c := &Coordinator{
		hive:     h,
		tree:     tree,
		profiles: append([]hive.AgentProfile(nil), profiles...),
		grace:    DefaultGrace,
		logger:   h.Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return c, nil
}

// Profiles returns the agent profiles of the session.
func (c *Coordinator) Profiles() []hive.AgentProfile {
	return append([]hive.AgentProfile(nil), c.profiles...)
}

// RunOption configures one Run.
type RunOption func(*runSettings)

type runSettings struct {
	id  string
	bus *eventbus.Bus
}

// WithSessionID sets the session id instead of generating one.
func WithSessionID(id string) RunOption {
	return func(s *runSettings) { s.id = id }
}

// WithBus runs the session on bus, so callers can subscribe before agents start.
func WithBus(bus *eventbus.Bus) RunOption {
	return func(s *runSettings) { s.bus = bus }
}

type slot struct {
	runner *agent.Runner
	start  time.Time
	end    time.Time
	report *agent.Report
	err    error
	done   bool
}

// Run starts every agent on topic and returns once they all finished or
// the agent timeout plus grace ran out. Agents still running at that point
// are cancelled and reported as incomplete. SessionDone is published and
// the bus is closed before the summary is returned.
func (c *Coordinator) Run(ctx context.Context, topic string, opts ...RunOption) *Summary {
	settings := runSettings{}
	for _, opt := range opts {
		opt(&settings)
	}
	if settings.id == "" {
		settings.id = uuid.NewString()
	}
	bus := settings.bus
	if bus == nil {
		bus = eventbus.New(eventbus.WithLogger(c.logger))
	}

	cfg := c.hive.Config()
	logger := c.logger.With("session", settings.id)
	started := time.Now()
	logger.Info("session started", "topic", topic, "agents", len(c.profiles))

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var mu sync.Mutex
	slots := make([]*slot, len(c.profiles))
	var g errgroup.Group
	for i, p := range c.profiles {
		runnerOpts := append([]agent.Option{agent.WithLogger(logger)}, c.runnerOpts...)
		s := &slot{runner: agent.NewRunner(c.hive, p, c.tree, bus, runnerOpts...), start: time.Now()}
		slots[i] = s
		g.Go(func() error {
			report, err := c.runAgent(sessCtx, s.runner, topic, cfg.AgentTimeout)
			mu.Lock()
			s.report, s.err, s.done, s.end = report, err, true, time.Now()
			mu.Unlock()
			return nil
		})
	}

	waited := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(waited)
	}()

	deadline := time.NewTimer(cfg.AgentTimeout + c.grace)
	defer deadline.Stop()
	select {
	case <-waited:
	case <-deadline.C:
		logger.Warn("session deadline reached, abandoning unfinished agents")
	case <-ctx.Done():
		logger.Warn("session cancelled", "error", ctx.Err())
		select {
		case <-waited:
		case <-time.After(c.grace):
		}
	}
	cancel()

	mu.Lock()
	summary := c.summarize(slots, settings.id, topic)
	mu.Unlock()

	names := make([]string, len(c.profiles))
	for i, p := range c.profiles {
		names[i] = p.Name
	}
	if err := bus.SessionDone(settings.id, topic, names, len(bus.History(eventbus.EventFinding))); err != nil {
		logger.Debug("session done not published", "error", err)
	}
	summary.Findings = findings(bus)
	summary.EventCounts = bus.Counts()
	summary.Duration = time.Since(started)
	_ = bus.Close()

	logger.Info("session finished",
		"findings", len(summary.Findings),
		"incomplete", len(summary.Incomplete),
		"duration", summary.Duration)
	return summary
}

func (c *Coordinator) runAgent(ctx context.Context, r *agent.Runner, topic string, timeout time.Duration) (report *agent.Report, err error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	defer func() {
		if p := recover(); p != nil {
			err = hive.NewInternalError("session", fmt.Sprintf("agent %s panicked: %v", r.Name(), p), nil)
			c.logger.Error("agent panicked", "agent", r.Name(), "panic", p)
		}
	}()
	return r.Run(ctx, topic)
}

// summarize must be called with the slot lock held.
func (c *Coordinator) summarize(slots []*slot, id, topic string) *Summary {
	s := &Summary{
		SessionID: id,
		Topic:     topic,
		Agents:    make(map[string]AgentSummary, len(slots)),
	}
	now := time.Now()
	for _, sl := range slots {
		state := sl.runner.Snapshot()
		as := AgentSummary{
			Status:    state.Status,
			Stage:     state.Stage,
			Error:     state.Error,
			Completed: state.CompletedCapabilities,
		}
		if sl.done {
			as.Duration = sl.end.Sub(sl.start)
			if sl.report != nil {
				as.Reactions = len(sl.report.Reactions)
			}
			if sl.err != nil && as.Error == "" {
				as.Error = sl.err.Error()
			}
			if sl.err != nil && as.Status != hive.AgentStatusError {
				as.Status = hive.AgentStatusError
			}
		} else {
			as.Incomplete = true
			as.Duration = now.Sub(sl.start)
			if as.Error == "" {
				as.Error = "did not finish before the session deadline"
			}
			s.Incomplete = append(s.Incomplete, state.Name)
		}
		s.Agents[state.Name] = as
	}
	sort.Strings(s.Incomplete)
	return s
}

func findings(bus *eventbus.Bus) []agent.Finding {
	msgs := bus.History(eventbus.EventFinding)
	out := make([]agent.Finding, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, agent.Finding{
			Agent:      m.Agent,
			Text:       m.String("text"),
			Confidence: m.Float("confidence"),
			Sources:    m.Strings("sources"),
		})
	}
	return out
}
