package eventbus

import (
	"fmt"
	"time"
)

// EventType represents the type of an event.
type EventType string

// Standard event types. Consumers must tolerate types not listed here.
const (
	EventAgentStatus EventType = "agent_status"
	EventToolStarted EventType = "tool_started"
	EventToolResult  EventType = "tool_result"
	EventDAGPhase    EventType = "dag_phase"
	EventFinding     EventType = "finding"
	EventChallenge   EventType = "challenge"
	EventAgreement   EventType = "agreement"
	EventSessionDone EventType = "session_done"
)

// Message is one record of the session stream.
type Message struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Agent     string         `json:"agent"`
	Payload   map[string]any `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
	RefAgent  string         `json:"ref_agent,omitempty"`
}

// String returns payload[key] as a string, or "".
func (m Message) String(key string) string {
	switch v := m.Payload[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// Int returns payload[key] as an int, or 0.
func (m Message) Int(key string) int {
	switch v := m.Payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// Float returns payload[key] as a float64, or 0.
func (m Message) Float(key string) float64 {
	switch v := m.Payload[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	}
	return 0
}

// Strings returns payload[key] as a string slice.
func (m Message) Strings(key string) []string {
	switch v := m.Payload[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out
	}
	return nil
}

// AgentStatus publishes a status change.
func (b *Bus) AgentStatus(agent, status, detail string) error {
	return b.Publish(Message{Type: EventAgentStatus, Agent: agent, Payload: map[string]any{
		"status": status,
		"detail": detail,
	}})
}

// ToolStarted publishes the start of a capability invocation.
func (b *Bus) ToolStarted(agent, tool string, params map[string]any) error {
	return b.Publish(Message{Type: EventToolStarted, Agent: agent, Payload: map[string]any{
		"tool":   tool,
		"params": params,
	}})
}

// ToolResult publishes the outcome of a capability invocation. err is
// included only when non-nil.
func (b *Bus) ToolResult(agent, tool, summary string, count int, items []string, err error) error {
	payload := map[string]any{
		"tool":    tool,
		"summary": summary,
		"count":   count,
		"items":   items,
	}
	if err != nil {
		payload["error"] = err.Error()
	}
	return b.Publish(Message{Type: EventToolResult, Agent: agent, Payload: payload})
}

// DAGPhase publishes the start of an execution phase.
func (b *Bus) DAGPhase(agent string, phase int, nodeIDs []string, mode string) error {
	return b.Publish(Message{Type: EventDAGPhase, Agent: agent, Payload: map[string]any{
		"phase":    phase,
		"node_ids": nodeIDs,
		"mode":     mode,
	}})
}

// Finding publishes an agent's synthesized finding.
func (b *Bus) Finding(agent, text string, confidence float64, sources []string) error {
	return b.Publish(Message{Type: EventFinding, Agent: agent, Payload: map[string]any{
		"text":       text,
		"confidence": confidence,
		"sources":    sources,
	}})
}

// Challenge publishes a challenge to refAgent's finding.
func (b *Bus) Challenge(agent, refAgent, finding, reason string) error {
	return b.Publish(Message{Type: EventChallenge, Agent: agent, RefAgent: refAgent, Payload: map[string]any{
		"finding": finding,
		"reason":  reason,
	}})
}

// Agreement publishes agreement with refAgent's finding.
func (b *Bus) Agreement(agent, refAgent, finding, note string) error {
	return b.Publish(Message{Type: EventAgreement, Agent: agent, RefAgent: refAgent, Payload: map[string]any{
		"finding": finding,
		"note":    note,
	}})
}

// SessionDone publishes the end of a session.
func (b *Bus) SessionDone(sessionID, topic string, agents []string, nFindings int) error {
	return b.Publish(Message{Type: EventSessionDone, Agent: "session", Payload: map[string]any{
		"session_id": sessionID,
		"topic":      topic,
		"agents":     agents,
		"n_findings": nFindings,
	}})
}
