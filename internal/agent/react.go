package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/dragonscale-hive/internal/eventbus"
)

// react reads the findings peers have published so far and answers at
// most MaxPeerReactions of them. Vocabulary overlap with the peer's text is
// an Agreement; a challenge trigger in the peer's text that none of this
// agent's own results mention is a Challenge; anything else is ignored.
func (r *Runner) react(_ context.Context, rc *runContext) (Stage, error) {
	limit := r.hive.Config().MaxPeerReactions
	own := strings.ToLower(rc.ownText())

	for _, m := range r.bus.History(eventbus.EventFinding) {
		if m.Agent == r.profile.Name {
			continue
		}
		rc.peers = append(rc.peers, m)
		if len(rc.report.Reactions) >= limit {
			continue
		}

		text := m.String("text")
		reaction, ok := r.judge(text, own)
		if !ok {
			continue
		}
		reaction.RefAgent = m.Agent
		reaction.Finding = text

		var err error
		if reaction.Type == eventbus.EventAgreement {
			err = r.bus.Agreement(r.profile.Name, m.Agent, text, reaction.Detail)
		} else {
			err = r.bus.Challenge(r.profile.Name, m.Agent, text, reaction.Detail)
		}
		r.publish(err)
		rc.report.Reactions = append(rc.report.Reactions, reaction)
		r.logger.Info("reacted to peer finding", "peer", m.Agent, "reaction", reaction.Type)
	}
	return StageSynthesis, nil
}

func (r *Runner) judge(peerText, ownText string) (Reaction, bool) {
	peer := strings.ToLower(peerText)
	if shared := matching(r.profile.Vocabulary, peer); len(shared) > 0 {
		return Reaction{
			Type:   eventbus.EventAgreement,
			Detail: fmt.Sprintf("%s results share: %s", r.profile.Domain, strings.Join(shared, ", ")),
		}, true
	}

	triggered := matching(r.profile.ChallengeTriggers, peer)
	if len(triggered) == 0 || len(matching(triggered, ownText)) > 0 {
		return Reaction{}, false
	}
	return Reaction{
		Type:   eventbus.EventChallenge,
		Detail: fmt.Sprintf("no %s evidence for: %s", r.profile.Domain, strings.Join(triggered, ", ")),
	}, true
}

// matching returns the terms that occur in text, which must be lowercased.
func matching(terms []string, text string) []string {
	var out []string
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if t != "" && strings.Contains(text, strings.ToLower(t)) {
			out = append(out, t)
		}
	}
	return out
}

// ownText is everything this agent's completed capabilities reported.
func (rc *runContext) ownText() string {
	_, digests := rc.completedDigests()
	var b strings.Builder
	for _, d := range digests {
		b.WriteString(d.Summary)
		b.WriteByte(' ')
		b.WriteString(strings.Join(d.Items, " "))
		b.WriteByte('\n')
	}
	return b.String()
}
