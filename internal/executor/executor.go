// Package executor runs a dependency graph phase by phase, invoking each
// node's capability and recording the outcome on the graph.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	hive "github.com/ZanzyTHEbar/dragonscale-hive"
	"github.com/ZanzyTHEbar/dragonscale-hive/internal/dag"
	"github.com/ZanzyTHEbar/dragonscale-hive/internal/parallel"
)

// Phase execution modes reported to OnPhase.
const (
	ModeParallel   = "parallel"
	ModeSequential = "sequential"
)

var errPanic = errors.New("capability panicked")

// Hooks observe execution. They are called from worker goroutines and must
// be safe for concurrent use.
type Hooks struct {
	OnPhase  func(phase dag.Phase, mode string)
	OnStart  func(node dag.Node, params map[string]any)
	OnResult func(node dag.Node, result any, err error)
}

// Executor runs graphs against an invoker. One Executor may run several
// graphs one after another; a single graph must not be run concurrently.
type Executor struct {
	invoker     hive.Invoker
	catalog     hive.Catalog
	logger      *slog.Logger
	execTimeout time.Duration
	maxParallel int
	hooks       Hooks

	metrics metricsRecorder

	// mu guards the graph and the outcome maps during Run.
	mu sync.Mutex
}

// Option represents an option for configuring the Executor.
type Option func(*Executor)

// WithExecTimeout sets the per-capability timeout.
func WithExecTimeout(d time.Duration) Option {
	return func(e *Executor) { e.execTimeout = d }
}

// WithMaxParallel caps concurrent nodes within a phase. 0 means the phase width.
func WithMaxParallel(n int) Option {
	return func(e *Executor) { e.maxParallel = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithHooks sets the execution observers.
func WithHooks(h Hooks) Option {
	return func(e *Executor) { e.hooks = h }
}

// New creates an executor. The catalog resolves a node's capability id.
func New(invoker hive.Invoker, catalog hive.Catalog, options ...Option) *Executor {
	e := &Executor{
		invoker:     invoker,
		catalog:     catalog,
		execTimeout: 45 * time.Second,
	}
	for _, option := range options {
		option(e)
	}
	if e.logger == nil {
		e.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return e
}

// FromHive creates an executor bound to the hive's invoker and catalog.
func FromHive(h *hive.Hive, options ...Option) *Executor {
	cfg := h.Config()
	base := []Option{
		WithExecTimeout(cfg.CapabilityTimeout),
		WithMaxParallel(cfg.MaxParallel),
		WithLogger(h.Logger()),
	}
	return New(h.Invoker(), h.Catalog(), append(base, options...)...)
}

// Outcome is what a run produced.
type Outcome struct {
	Results   map[string]any   // node id -> capability output, completed nodes only
	Errors    map[string]error // node id -> failure, failed nodes only
	Skipped   []string
	Metrics   Metrics
	Cancelled bool
}

// Completed returns the ids of nodes with a result, sorted.
func (o *Outcome) Completed() []string {
	ids := make([]string, 0, len(o.Results))
	for id := range o.Results {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Run executes g phase by phase. Nodes in a phase run concurrently, bounded
// by the phase width and the max-parallel option; a phase starts only after
// the previous one has finished, including its cascaded skips. ctx is checked
// at every phase and node boundary; once it is done the remaining Pending
// nodes are failed with reason Timeout.
//
// Capability failures are recorded on the graph and in the Outcome; the
// returned error is reserved for a graph that cannot be phased.
func (e *Executor) Run(ctx context.Context, g *dag.Graph) (*Outcome, error) {
	phases, err := g.ExecutionPhases()
	if err != nil {
		return nil, hive.NewInternalError("execution", "graph cannot be scheduled", err)
	}

	start := time.Now()
	e.metrics.reset()
	out := &Outcome{
		Results: make(map[string]any),
		Errors:  make(map[string]error),
	}
	critical := g.CriticalPaths()

	e.logger.Info("starting graph execution", "nodes", g.Len(), "phases", len(phases))

	for _, ph := range phases {
		if ctx.Err() != nil {
			break
		}

		e.mu.Lock()
		runnable := make([]string, 0, len(ph.NodeIDs))
		for _, id := range ph.NodeIDs {
			if n, ok := g.Node(id); ok && n.Status == hive.NodeStatusPending {
				runnable = append(runnable, id)
			}
		}
		e.mu.Unlock()
		if len(runnable) == 0 {
			continue
		}

		// Longest downstream chain first, then id.
		sort.SliceStable(runnable, func(i, j int) bool {
			if critical[runnable[i]] != critical[runnable[j]] {
				return critical[runnable[i]] > critical[runnable[j]]
			}
			return runnable[i] < runnable[j]
		})

		mode := ModeParallel
		if len(runnable) == 1 {
			mode = ModeSequential
		}
		e.metrics.phase()
		if e.hooks.OnPhase != nil {
			e.hooks.OnPhase(dag.Phase{Number: ph.Number, NodeIDs: runnable}, mode)
		}
		e.logger.Debug("running phase", "phase", ph.Number, "width", len(runnable), "mode", mode)

		parallel.Each(ctx, runnable, parallel.Workers(len(runnable), e.maxParallel), func(ctx context.Context, id string) {
			e.runNode(ctx, g, id, out)
		})
	}

	if ctx.Err() != nil {
		out.Cancelled = true
		e.abandon(g, out, ctx.Err())
	}

	out.Metrics = e.metrics.snapshot()
	e.logger.Info("graph execution finished",
		"completed", len(out.Results),
		"failed", len(out.Errors),
		"skipped", len(out.Skipped),
		"cancelled", out.Cancelled,
		"duration", time.Since(start))
	return out, nil
}

// abandon fails every node still Pending after cancellation.
func (e *Executor) abandon(g *dag.Graph, out *Outcome, cause error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, n := range g.Nodes() {
		cur, _ := g.Node(n.ID)
		if cur.Status != hive.NodeStatusPending {
			continue
		}
		skipped, err := g.FailNode(n.ID, hive.ReasonTimeout)
		if err != nil {
			continue
		}
		out.Errors[n.ID] = hive.NewCancelledError("execution", cause)
		out.Skipped = append(out.Skipped, skipped...)
		e.metrics.skipped(len(skipped))
	}
}

func (e *Executor) runNode(ctx context.Context, g *dag.Graph, id string, out *Outcome) {
	e.mu.Lock()
	node, ok := g.Node(id)
	if !ok || node.Status != hive.NodeStatusPending {
		e.mu.Unlock()
		return
	}
	if err := g.UpdateStatus(id, hive.NodeStatusRunning, hive.ReasonNone); err != nil {
		e.mu.Unlock()
		e.logger.Error("graph rejected node start", "node", id, "error", err)
		return
	}
	params, resolveErr := e.resolveParams(node, out.Results)
	e.mu.Unlock()

	start := time.Now()
	var (
		result any
		err    error
		reason hive.FailureReason
	)

	capability, found := e.catalog.Lookup(node.CapabilityID)
	switch {
	case ctx.Err() != nil:
		err, reason = hive.NewCancelledError("execution", ctx.Err()), hive.ReasonTimeout
	case !found:
		err, reason = hive.NewCapabilityNotFoundError("execution", node.CapabilityID), hive.ReasonCapabilityError
	case resolveErr != nil:
		err, reason = resolveErr, hive.ReasonCapabilityError
	default:
		if e.hooks.OnStart != nil {
			e.hooks.OnStart(node, params)
		}
		e.logger.Debug("invoking capability", "node", id, "capability", capability.ID)
		result, err = e.invoke(ctx, capability, params)
		if err != nil {
			reason = classify(err)
			err = wrapFailure(capability.ID, reason, err)
		}
	}
	duration := time.Since(start)

	e.mu.Lock()
	var skipped []string
	if err != nil {
		var failErr error
		skipped, failErr = g.FailNode(id, reason)
		if failErr != nil {
			e.logger.Error("graph rejected node failure", "node", id, "error", failErr)
		}
		out.Errors[id] = err
		out.Skipped = append(out.Skipped, skipped...)
	} else {
		if uerr := g.UpdateStatus(id, hive.NodeStatusCompleted, hive.ReasonNone); uerr != nil {
			e.logger.Error("graph rejected node completion", "node", id, "error", uerr)
		}
		out.Results[id] = result
	}
	final, _ := g.Node(id)
	e.mu.Unlock()

	e.metrics.node(duration, err == nil, len(skipped))
	if err != nil {
		e.logger.Warn("capability failed",
			"node", id,
			"capability", node.CapabilityID,
			"reason", reason,
			"skipped", skipped,
			"error", err)
	} else {
		e.logger.Debug("capability completed", "node", id, "capability", node.CapabilityID, "duration", duration)
	}
	if e.hooks.OnResult != nil {
		e.hooks.OnResult(final, result, err)
	}
}

// invoke calls the capability under the per-capability timeout. A panic in
// the invoker is returned as an error.
func (e *Executor) invoke(ctx context.Context, c hive.Capability, params map[string]any) (result any, err error) {
	callCtx, cancel := context.WithTimeout(ctx, e.execTimeout)
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			result, err = nil, fmt.Errorf("%w: %v", errPanic, rec)
		}
	}()

	result, err = e.invoker.Invoke(callCtx, c, params)
	if err == nil && callCtx.Err() == context.DeadlineExceeded {
		err = callCtx.Err()
	}
	return result, err
}

// resolveParams evaluates expression parameters against completed results.
// Caller holds e.mu.
func (e *Executor) resolveParams(node dag.Node, results map[string]any) (map[string]any, error) {
	params := make(map[string]any, len(node.Params))
	for name, v := range node.Params {
		if !dag.IsExpression(v) {
			params[name] = v
			continue
		}
		resolved, err := Evaluate(v.(string), results)
		if err != nil {
			return nil, hive.NewArgResolutionError("execution", node.ID, name, err)
		}
		params[name] = resolved
	}
	return params, nil
}

// classify maps an invocation error to a failure reason.
func classify(err error) hive.FailureReason {
	switch {
	case errors.Is(err, errPanic):
		return hive.ReasonUnknown
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return hive.ReasonTimeout
	case hive.CodeOf(err) == hive.ErrCodeTimeout:
		return hive.ReasonTimeout
	case hive.CodeOf(err) == hive.ErrCodeRateLimited, isRateLimited(err.Error()):
		return hive.ReasonRateLimited
	}
	return hive.ReasonCapabilityError
}

func isRateLimited(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "rate-limit") ||
		strings.Contains(msg, "too many requests")
}

func wrapFailure(capabilityID string, reason hive.FailureReason, err error) error {
	if hive.IsHiveError(err) {
		return err
	}
	switch reason {
	case hive.ReasonTimeout:
		return hive.NewTimeoutError("execution", err)
	case hive.ReasonRateLimited:
		return hive.NewRateLimitedError("execution", capabilityID, err)
	}
	return hive.NewCapabilityExecutionError("execution", capabilityID, err)
}
