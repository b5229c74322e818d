package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/dragonscale-hive/internal/eventbus"
	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/google/uuid"
)

// State is the coarse state of a background session.
type State string

const (
	StateRunning   State = "running"
	StateDone      State = "done"
	StateCancelled State = "cancelled"
)

// Status represents the status information for a background session.
type Status struct {
	SessionID  string        `json:"session_id"`
	Topic      string        `json:"topic"`
	State      State         `json:"state"`
	StartTime  time.Time     `json:"start_time"`
	Duration   time.Duration `json:"duration"`
	Events     int           `json:"events"`
	Findings   int           `json:"findings"`
	Incomplete []string      `json:"incomplete,omitempty"`
}

type tracked struct {
	id      string
	topic   string
	bus     *eventbus.Bus
	cancel  context.CancelFunc
	start   time.Time
	end     time.Time
	state   State
	summary *Summary
	done    chan struct{}
}

// Manager runs sessions in the background and keeps their summaries until
// cleaned up.
type Manager struct {
	coordinator *Coordinator

	mu       sync.RWMutex
	sessions map[string]*tracked
}

// NewManager creates a manager over coordinator.
func NewManager(coordinator *Coordinator) *Manager {
	return &Manager{coordinator: coordinator, sessions: make(map[string]*tracked)}
}

// Start launches a session on topic and returns its id. The session bus is
// available through Bus immediately.
func (m *Manager) Start(ctx context.Context, topic string) string {
	ctx, cancel := context.WithCancel(ctx)
	t := &tracked{
		id:     uuid.NewString(),
		topic:  topic,
		bus:    eventbus.New(eventbus.WithLogger(m.coordinator.logger)),
		cancel: cancel,
		start:  time.Now(),
		state:  StateRunning,
		done:   make(chan struct{}),
	}

	m.mu.Lock()
	m.sessions[t.id] = t
	m.mu.Unlock()

	go func() {
		defer cancel()
		summary := m.coordinator.Run(ctx, topic, WithSessionID(t.id), WithBus(t.bus))
		m.mu.Lock()
		t.summary = summary
		t.end = time.Now()
		if t.state == StateRunning {
			t.state = StateDone
		}
		m.mu.Unlock()
		close(t.done)
	}()
	return t.id
}

func (m *Manager) get(id string) (*tracked, error) {
	t, ok := m.sessions[id]
	if !ok {
		return nil, errbuilder.NotFoundErr(errbuilder.GenericErr(fmt.Sprintf("session '%s' not found", id), nil))
	}
	return t, nil
}

// Status retrieves the current status of a session.
func (m *Manager) Status(id string) (*Status, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, err := m.get(id)
	if err != nil {
		return nil, err
	}
	st := &Status{
		SessionID: t.id,
		Topic:     t.topic,
		State:     t.state,
		StartTime: t.start,
		Events:    t.bus.Len(),
		Findings:  len(t.bus.History(eventbus.EventFinding)),
	}
	if t.end.IsZero() {
		st.Duration = time.Since(t.start)
	} else {
		st.Duration = t.end.Sub(t.start)
	}
	if t.summary != nil {
		st.Incomplete = t.summary.Incomplete
	}
	return st, nil
}

// Bus returns the event bus of a session.
func (m *Manager) Bus(id string) (*eventbus.Bus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, err := m.get(id)
	if err != nil {
		return nil, err
	}
	return t.bus, nil
}

// Result returns the summary of a finished session.
func (m *Manager) Result(id string) (*Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, err := m.get(id)
	if err != nil {
		return nil, err
	}
	if t.summary == nil {
		return nil, fmt.Errorf("session %s is still %s", id, t.state)
	}
	return t.summary, nil
}

// Wait blocks until the session finishes or ctx is done.
func (m *Manager) Wait(ctx context.Context, id string) (*Summary, error) {
	m.mu.RLock()
	t, err := m.get(id)
	m.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	select {
	case <-t.done:
		return m.Result(id)
	case <-ctx.Done():
		return nil, errbuilder.WrapIfContextDone(ctx, ctx.Err())
	}
}

// Cancel stops a running session. The session still produces a summary.
// It returns false if the session had already finished.
func (m *Manager) Cancel(id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.get(id)
	if err != nil {
		return false, err
	}
	if t.state != StateRunning {
		return false, nil
	}
	t.state = StateCancelled
	t.cancel()
	m.coordinator.logger.Info("session cancelled", "session", id, "duration", time.Since(t.start))
	return true, nil
}

// List returns every tracked session id with its state.
func (m *Manager) List() map[string]State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]State, len(m.sessions))
	for id, t := range m.sessions {
		out[id] = t.state
	}
	return out
}

// Cleanup removes finished sessions that ended more than olderThan ago and
// returns how many were removed.
func (m *Manager) Cleanup(olderThan time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	count := 0
	for id, t := range m.sessions {
		if t.summary != nil && now.Sub(t.end) > olderThan {
			delete(m.sessions, id)
			count++
		}
	}
	return count
}
