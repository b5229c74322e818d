package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/ZanzyTHEbar/dragonscale-hive/internal/eventbus"
	"github.com/ZanzyTHEbar/dragonscale-hive/internal/session"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
)

var (
	agentColor   = color.New(color.FgCyan, color.Bold)
	okColor      = color.New(color.FgGreen)
	failColor    = color.New(color.FgRed)
	warnColor    = color.New(color.FgYellow)
	dimColor     = color.New(color.Faint)
	findingColor = color.New(color.FgMagenta, color.Bold)
)

// formatEvent renders one bus message as a single line. Unknown event
// types are printed generically.
func formatEvent(m eventbus.Message) string {
	who := agentColor.Sprintf("%-12s", m.Agent)
	switch m.Type {
	case eventbus.EventAgentStatus:
		return fmt.Sprintf("%s %s %s", who, dimColor.Sprint(m.String("status")), m.String("detail"))
	case eventbus.EventDAGPhase:
		ids := m.Strings("node_ids")
		return fmt.Sprintf("%s %s phase: %s (%s)", who,
			humanize.Ordinal(m.Int("phase")+1), strings.Join(ids, ", "), m.String("mode"))
	case eventbus.EventToolStarted:
		return fmt.Sprintf("%s → %s", who, m.String("tool"))
	case eventbus.EventToolResult:
		if e := m.String("error"); e != "" {
			return fmt.Sprintf("%s %s %s: %s", who, failColor.Sprint("✗"), m.String("tool"), e)
		}
		return fmt.Sprintf("%s %s %s: %s results, %s", who, okColor.Sprint("✓"), m.String("tool"),
			humanize.Comma(int64(m.Int("count"))), m.String("summary"))
	case eventbus.EventFinding:
		return fmt.Sprintf("%s %s (%.0f%%) %s", who, findingColor.Sprint("finding"),
			m.Float("confidence")*100, m.String("text"))
	case eventbus.EventAgreement:
		return fmt.Sprintf("%s %s %s: %s", who, okColor.Sprint("agrees with"), m.RefAgent, m.String("note"))
	case eventbus.EventChallenge:
		return fmt.Sprintf("%s %s %s: %s", who, warnColor.Sprint("challenges"), m.RefAgent, m.String("reason"))
	case eventbus.EventSessionDone:
		return fmt.Sprintf("%s done: %d findings", who, m.Int("n_findings"))
	}
	return fmt.Sprintf("%s %s %v", who, m.Type, m.Payload)
}

func printSummary(w io.Writer, s *session.Summary) {
	fmt.Fprintf(w, "\nSession %s on %q (%s)\n", s.SessionID, s.Topic, s.Duration.Round(1e6))

	names := make([]string, 0, len(s.Agents))
	for n := range s.Agents {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		a := s.Agents[n]
		status := okColor.Sprint(a.Status)
		switch {
		case a.Incomplete:
			status = warnColor.Sprint("incomplete")
		case a.Error != "":
			status = failColor.Sprint(a.Status)
		}
		fmt.Fprintf(w, "  %s %s, %d capabilities, %d reactions, %s\n",
			agentColor.Sprintf("%-12s", n), status, len(a.Completed), a.Reactions, a.Duration.Round(1e6))
		if a.Error != "" {
			fmt.Fprintf(w, "    %s\n", dimColor.Sprint(a.Error))
		}
	}

	fmt.Fprintf(w, "\nFindings (%d)\n", len(s.Findings))
	for _, f := range s.Findings {
		fmt.Fprintf(w, "  %s %s\n", agentColor.Sprintf("%-12s", f.Agent), f.Text)
	}

	types := make([]string, 0, len(s.EventCounts))
	for t := range s.EventCounts {
		types = append(types, string(t))
	}
	sort.Strings(types)
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = fmt.Sprintf("%s=%s", t, humanize.Comma(int64(s.EventCounts[eventbus.EventType(t)])))
	}
	fmt.Fprintf(w, "\nEvents: %s\n", strings.Join(parts, " "))
}
