package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"

	hive "github.com/ZanzyTHEbar/dragonscale-hive"
	"github.com/ZanzyTHEbar/dragonscale-hive/internal/prompt"
)

type resultLine struct {
	Tool    string
	Summary string
}

type peerLine struct {
	Agent string
	Text  string
}

// synthesize turns completed results into one finding and publishes it.
// With no completed results the finding says so; a reasoner failure falls
// back to a summary assembled from the digests.
func (r *Runner) synthesize(ctx context.Context, rc *runContext) (Stage, error) {
	ids, digests := rc.completedDigests()
	f := Finding{Agent: r.profile.Name}

	if len(ids) == 0 {
		f.Text = fmt.Sprintf("%s found no results for %q.", r.profile.Name, rc.topic)
	} else {
		lines := make([]resultLine, len(ids))
		seen := map[string]bool{}
		for i, id := range ids {
			capID := id
			if n, ok := rc.graph.Node(id); ok {
				capID = n.CapabilityID
			}
			lines[i] = resultLine{Tool: capID, Summary: digests[i].Summary}
			if !seen[capID] {
				seen[capID] = true
				f.Sources = append(f.Sources, capID)
			}
		}
		sort.Strings(f.Sources)
		f.Confidence = float64(len(ids)) / float64(rc.graph.Len())
		f.Text = r.compose(ctx, rc, lines)
	}

	rc.report.Finding = f
	r.update(func(s *State) { s.Findings = append(s.Findings, f.Text) })
	r.publish(r.bus.Finding(f.Agent, f.Text, f.Confidence, f.Sources))
	return StageComplete, nil
}

func (r *Runner) compose(ctx context.Context, rc *runContext, lines []resultLine) string {
	peers := make([]peerLine, len(rc.peers))
	for i, m := range rc.peers {
		peers[i] = peerLine{Agent: m.Agent, Text: m.String("text")}
	}
	p, err := r.prompts.Render(prompt.Synthesize, map[string]any{
		"Agent":   r.profile.Name,
		"Topic":   rc.topic,
		"Results": lines,
		"Peers":   peers,
	})
	if err != nil {
		r.logger.Warn("failed to render synthesis prompt", "error", err)
		return fallbackText(r.profile, rc.topic, lines)
	}
	text, err := r.reason(ctx, p)
	if err != nil {
		r.logger.Warn("synthesis reasoner call failed, using result summary", "error", err)
		return fallbackText(r.profile, rc.topic, lines)
	}
	if text = strings.TrimSpace(text); text == "" {
		return fallbackText(r.profile, rc.topic, lines)
	}
	return text
}

func (r *Runner) reason(ctx context.Context, p string) (text string, err error) {
	cfg := r.hive.Config()
	ctx, cancel := context.WithTimeout(ctx, cfg.ReasonerTimeout)
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			err = hive.NewReasonerError("synthesis", fmt.Errorf("reasoner panicked: %v", rec))
		}
	}()
	return r.hive.Reasoner().Reason(ctx, p, cfg.ReasonerMaxTokens)
}

func fallbackText(profile hive.AgentProfile, topic string, lines []resultLine) string {
	parts := make([]string, len(lines))
	for i, l := range lines {
		parts[i] = l.Tool + ": " + truncate(l.Summary, 160)
	}
	subject := profile.Name
	if profile.Domain != "" {
		subject += " (" + profile.Domain + ")"
	}
	return fmt.Sprintf("%s on %q: %s", subject, topic, strings.Join(parts, "; "))
}
