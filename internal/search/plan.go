package search

import (
	"context"
	"fmt"
	"strings"

	hive "github.com/ZanzyTHEbar/dragonscale-hive"
	"github.com/ZanzyTHEbar/dragonscale-hive/internal/dag"
	"github.com/ZanzyTHEbar/dragonscale-hive/internal/decode"
	"github.com/ZanzyTHEbar/dragonscale-hive/internal/prompt"
)

var discoveryKeywords = []string{"literature", "discovery", "search", "paper", "pubmed", "preprint"}

// IsDiscovery reports whether a capability finds sources rather than
// analysing them. Discovery capabilities head the fallback plan.
func IsDiscovery(c hive.Capability) bool {
	hay := strings.ToLower(c.ID + " " + c.Category)
	for _, k := range discoveryKeywords {
		if strings.Contains(hay, k) {
			return true
		}
	}
	return false
}

// FallbackPlan is the deterministic plan used when the reasoner cannot
// produce a valid one: discovery capabilities run first with no
// dependencies, and every other capability depends on all of them.
func FallbackPlan(selected []hive.Capability) hive.Plan {
	var discovery []string
	for _, c := range selected {
		if IsDiscovery(c) {
			discovery = append(discovery, c.ID)
		}
	}

	steps := make([]hive.PlanStep, 0, len(selected))
	seen := make(map[string]struct{}, len(selected))
	for _, c := range selected {
		if _, dup := seen[c.ID]; dup {
			continue
		}
		seen[c.ID] = struct{}{}

		step := hive.PlanStep{ID: c.ID, CapabilityID: c.ID}
		if IsDiscovery(c) {
			step.Purpose = "discovery"
		} else {
			step.Purpose = "analysis"
			step.DependsOn = append([]string(nil), discovery...)
		}
		steps = append(steps, step)
	}
	return hive.Plan{Steps: steps, Fallback: true}
}

// Plan asks the reasoner for a dependency plan over the selected
// capabilities. A plan that fails to decode, references capabilities outside
// the selection, or does not validate as a DAG is replaced by FallbackPlan.
func (s *Searcher) Plan(ctx context.Context, goal string, selected []hive.Capability) hive.Plan {
	if len(selected) == 0 {
		return hive.Plan{}
	}
	if !s.config.PlanDependencies {
		return FallbackPlan(selected)
	}

	r := &run{goal: goal}
	text, ok := s.ask(ctx, r, prompt.Plan, map[string]any{"Goal": goal, "Options": capabilityOptions(selected)})
	if !ok {
		return FallbackPlan(selected)
	}

	steps, err := decode.PlanSteps(text)
	if err == nil {
		err = checkPlan(steps, selected)
	}
	if err != nil {
		s.logger.Info("reasoner plan rejected, using fallback plan", "goal", goal, "error", err)
		return FallbackPlan(selected)
	}
	return hive.Plan{Steps: steps}
}

func checkPlan(steps []hive.PlanStep, selected []hive.Capability) error {
	allowed := make(map[string]struct{}, len(selected))
	for _, c := range selected {
		allowed[c.ID] = struct{}{}
	}
	for _, st := range steps {
		if _, ok := allowed[st.CapabilityID]; !ok {
			return hive.NewPlanValidationError(fmt.Sprintf("step %q uses unselected capability %q", st.ID, st.CapabilityID), nil)
		}
	}
	_, err := dag.Ingest(steps)
	return err
}
