package hive

import (
	"sort"
	"strings"
)

// Capability is one externally invoked tool from the catalog.
// It is never mutated once loaded.
type Capability struct {
	ID          string   `json:"id" yaml:"id" mapstructure:"id"`
	Category    string   `json:"category" yaml:"category" mapstructure:"category"`
	Description string   `json:"description" yaml:"description" mapstructure:"description"`
	Params      []string `json:"accepted_parameter_names" yaml:"params" mapstructure:"params"`
}

// Accepts reports whether name is an accepted parameter. A capability that
// declares no parameters accepts anything.
func (c Capability) Accepts(name string) bool {
	if len(c.Params) == 0 {
		return true
	}
	for _, p := range c.Params {
		if p == name {
			return true
		}
	}
	return false
}

// NodeStatus is the lifecycle state of a scheduled capability node.
type NodeStatus string

const (
	// NodeStatusPending indicates the node is waiting to run.
	NodeStatusPending NodeStatus = "pending"
	// NodeStatusRunning indicates the capability is being invoked.
	NodeStatusRunning NodeStatus = "running"
	// NodeStatusCompleted indicates the capability returned a result.
	NodeStatusCompleted NodeStatus = "completed"
	// NodeStatusFailed indicates the capability failed.
	NodeStatusFailed NodeStatus = "failed"
	// NodeStatusSkipped indicates an upstream failure prevented the node from running.
	NodeStatusSkipped NodeStatus = "skipped"
)

// IsTerminal reports whether no further transition can leave the status.
func (s NodeStatus) IsTerminal() bool {
	return s == NodeStatusCompleted || s == NodeStatusFailed || s == NodeStatusSkipped
}

// FailureReason explains why a node ended in Failed or Skipped.
type FailureReason string

const (
	ReasonNone             FailureReason = "none"
	ReasonTimeout          FailureReason = "timeout"
	ReasonRateLimited      FailureReason = "rate_limited"
	ReasonCapabilityError  FailureReason = "capability_error"
	ReasonDependencyFailed FailureReason = "dependency_failed"
	ReasonUnknown          FailureReason = "unknown"
)

// PlanStep is one entry of a dependency plan emitted by the reasoner,
// loaded from a plan file, or produced by the deterministic fallback.
type PlanStep struct {
	ID           string         `json:"id" yaml:"id"`
	CapabilityID string         `json:"capability_id" yaml:"capability_id"`
	DependsOn    []string       `json:"depends_on" yaml:"depends_on"`
	Purpose      string         `json:"purpose,omitempty" yaml:"purpose,omitempty"`
	Params       map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// Plan is an ordered list of steps over selected capabilities.
type Plan struct {
	Steps []PlanStep `json:"steps" yaml:"steps"`
	// Fallback is set when the deterministic plan replaced a reasoner plan.
	Fallback bool `json:"fallback,omitempty" yaml:"-"`
}

// CapabilityIDs returns the distinct capability ids referenced by the plan, sorted.
func (p Plan) CapabilityIDs() []string {
	seen := make(map[string]struct{}, len(p.Steps))
	ids := make([]string, 0, len(p.Steps))
	for _, s := range p.Steps {
		if _, ok := seen[s.CapabilityID]; ok {
			continue
		}
		seen[s.CapabilityID] = struct{}{}
		ids = append(ids, s.CapabilityID)
	}
	sort.Strings(ids)
	return ids
}

// AgentStatus is the coarse lifecycle of an agent runner.
type AgentStatus string

const (
	AgentStatusIdle     AgentStatus = "idle"
	AgentStatusPlanning AgentStatus = "planning"
	AgentStatusRunning  AgentStatus = "running"
	AgentStatusDone     AgentStatus = "done"
	AgentStatusError    AgentStatus = "error"
)

// AgentProfile configures one collaborating agent.
type AgentProfile struct {
	Name   string `json:"name" yaml:"name" mapstructure:"name"`
	Domain string `json:"domain" yaml:"domain" mapstructure:"domain"`
	// Goal is a template for the search goal; "{{topic}}" is replaced by the session topic.
	Goal string `json:"goal" yaml:"goal" mapstructure:"goal"`
	// Vocabulary are domain terms whose presence in a peer finding means agreement.
	Vocabulary []string `json:"vocabulary" yaml:"vocabulary" mapstructure:"vocabulary"`
	// ChallengeTriggers are terms that prompt a challenge when the agent's own results disagree.
	ChallengeTriggers []string `json:"challenge_triggers" yaml:"challenge_triggers" mapstructure:"challenge_triggers"`
}

// GoalFor renders the agent's search goal for a session topic.
func (p AgentProfile) GoalFor(topic string) string {
	if p.Goal == "" {
		if p.Domain == "" {
			return topic
		}
		return p.Domain + " analysis of " + topic
	}
	if strings.Contains(p.Goal, "{{topic}}") {
		return strings.ReplaceAll(p.Goal, "{{topic}}", topic)
	}
	return p.Goal + ": " + topic
}
