package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	hive "github.com/ZanzyTHEbar/dragonscale-hive"
)

// Stage is one step of an agent run.
type Stage string

const (
	StageInit       Stage = "init"
	StagePlanning   Stage = "planning"
	StageScheduling Stage = "scheduling"
	StageExecution  Stage = "execution"
	StageReaction   Stage = "reaction"
	StageSynthesis  Stage = "synthesis"
	StageComplete   Stage = "complete"
	StageError      Stage = "error"
	StageCancelled  Stage = "cancelled"
)

// IsTerminal reports whether the run has ended.
func (s Stage) IsTerminal() bool {
	return s == StageComplete || s == StageError || s == StageCancelled
}

// Status maps a stage to the coarse agent status.
func (s Stage) Status() hive.AgentStatus {
	switch s {
	case StageInit:
		return hive.AgentStatusIdle
	case StagePlanning, StageScheduling:
		return hive.AgentStatusPlanning
	case StageExecution, StageReaction, StageSynthesis:
		return hive.AgentStatusRunning
	case StageComplete:
		return hive.AgentStatusDone
	}
	return hive.AgentStatusError
}

// Lifecycle records the stages a run went through and how long each took.
type Lifecycle struct {
	Current    Stage
	History    []Stage
	LastError  error
	ErrorStage Stage

	StartTime time.Time
	EndTime   time.Time

	entered   time.Time
	durations map[Stage]time.Duration
}

func newLifecycle() *Lifecycle {
	now := time.Now()
	return &Lifecycle{
		Current:   StageInit,
		History:   []Stage{StageInit},
		StartTime: now,
		entered:   now,
		durations: make(map[Stage]time.Duration),
	}
}

func (l *Lifecycle) enter(stage Stage) {
	now := time.Now()
	l.durations[l.Current] += now.Sub(l.entered)
	l.Current = stage
	l.History = append(l.History, stage)
	l.entered = now
	if stage.IsTerminal() {
		l.EndTime = now
	}
}

func (l *Lifecycle) fail(err error, stage Stage) {
	l.LastError = err
	l.ErrorStage = stage
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		l.enter(StageCancelled)
		return
	}
	l.enter(StageError)
}

// Duration returns the time spent in stage so far.
func (l *Lifecycle) Duration(stage Stage) time.Duration {
	d := l.durations[stage]
	if stage == l.Current && !stage.IsTerminal() {
		d += time.Since(l.entered)
	}
	return d
}

// Durations returns the time spent per stage.
func (l *Lifecycle) Durations() map[Stage]time.Duration {
	out := make(map[Stage]time.Duration, len(l.durations))
	for s := range l.durations {
		out[s] = l.Duration(s)
	}
	return out
}

// Total returns the wall time of the run.
func (l *Lifecycle) Total() time.Duration {
	if l.EndTime.IsZero() {
		return time.Since(l.StartTime)
	}
	return l.EndTime.Sub(l.StartTime)
}

// Transition runs one stage and names the next.
type Transition func(ctx context.Context, rc *runContext) (Stage, error)

// Machine drives a run through registered transitions until a terminal
// stage. ctx is checked before every transition.
type Machine struct {
	transitions map[Stage]Transition
	onEnter     func(Stage)
}

// NewMachine creates an empty machine. onEnter, if set, is called after
// every stage change.
func NewMachine(onEnter func(Stage)) *Machine {
	return &Machine{transitions: make(map[Stage]Transition), onEnter: onEnter}
}

// Register sets the transition for stage.
func (m *Machine) Register(stage Stage, t Transition) {
	m.transitions[stage] = t
}

// Execute runs rc to a terminal stage and returns the error that ended it.
func (m *Machine) Execute(ctx context.Context, rc *runContext) error {
	lc := rc.lifecycle
	for !lc.Current.IsTerminal() {
		if err := ctx.Err(); err != nil {
			m.move(lc, func() { lc.fail(err, lc.Current) })
			break
		}

		transition, ok := m.transitions[lc.Current]
		if !ok {
			err := fmt.Errorf("no transition defined for stage: %s", lc.Current)
			m.move(lc, func() { lc.fail(err, lc.Current) })
			break
		}

		next, err := transition(ctx, rc)
		if err != nil {
			m.move(lc, func() { lc.fail(err, lc.Current) })
			break
		}
		m.move(lc, func() { lc.enter(next) })
	}
	return lc.LastError
}

func (m *Machine) move(lc *Lifecycle, change func()) {
	change()
	if m.onEnter != nil {
		m.onEnter(lc.Current)
	}
}
