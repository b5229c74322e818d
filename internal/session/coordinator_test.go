package session

import (
	"context"
	"errors"
	"testing"
	"time"

	hive "github.com/ZanzyTHEbar/dragonscale-hive"
	"github.com/ZanzyTHEbar/dragonscale-hive/internal/adapters"
	"github.com/ZanzyTHEbar/dragonscale-hive/internal/captree"
	"github.com/ZanzyTHEbar/dragonscale-hive/internal/eventbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type silentReasoner struct{}

func (silentReasoner) Reason(context.Context, string, int) (string, error) { return "", nil }

func newHive(t *testing.T, cfg hive.Config, caps ...*adapters.FuncCapability) (*hive.Hive, *captree.Node) {
	t.Helper()
	reg, err := adapters.NewRegistry(caps...)
	require.NoError(t, err)
	h, err := hive.New(
		hive.WithCatalog(reg),
		hive.WithInvoker(reg),
		hive.WithReasoner(silentReasoner{}),
		hive.WithConfig(cfg),
	)
	require.NoError(t, err)
	tree, _ := captree.Build(reg.Capabilities(), nil)
	return h, tree
}

func literature(fn adapters.CapabilityFunc) *adapters.FuncCapability {
	return adapters.NewFuncCapability("pubmed_search", fn,
		adapters.WithCategory("literature"), adapters.WithParameters("query"))
}

var profiles = []hive.AgentProfile{
	{Name: "alpha", Domain: "literature", Vocabulary: []string{"papers"}},
	{Name: "beta", Domain: "structure"},
}

func TestNew_ValidatesProfiles(t *testing.T) {
	h, tree := newHive(t, hive.DefaultConfig())

	_, err := New(h, tree, nil)
	assert.Equal(t, hive.ErrCodeValidation, hive.CodeOf(err))

	_, err = New(h, tree, []hive.AgentProfile{{Name: "a"}, {Name: "a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")

	_, err = New(h, tree, []hive.AgentProfile{{Domain: "x"}})
	assert.Error(t, err)

	_, err = New(nil, tree, profiles)
	assert.Equal(t, hive.ErrCodeConfiguration, hive.CodeOf(err))
}

func TestCoordinator_AllAgentsFinish(t *testing.T) {
	h, tree := newHive(t, hive.DefaultConfig(), literature(func(_ context.Context, p map[string]any) (any, error) {
		return map[string]any{"summary": "papers on " + p["query"].(string), "count": 4.0}, nil
	}))
	c, err := New(h, tree, profiles)
	require.NoError(t, err)

	bus := eventbus.New()
	sub := bus.Subscribe()
	summary := c.Run(context.Background(), "TP53", WithBus(bus), WithSessionID("s-1"))

	assert.Equal(t, "s-1", summary.SessionID)
	assert.Equal(t, "TP53", summary.Topic)
	assert.Empty(t, summary.Incomplete)
	require.Len(t, summary.Findings, 2)
	for _, f := range summary.Findings {
		assert.Contains(t, f.Text, "papers on TP53")
		assert.Equal(t, 1.0, f.Confidence)
		assert.Equal(t, []string{"pubmed_search"}, f.Sources)
	}

	require.Len(t, summary.Agents, 2)
	for name, a := range summary.Agents {
		assert.Equal(t, hive.AgentStatusDone, a.Status, name)
		assert.Equal(t, []string{"pubmed_search"}, a.Completed, name)
		assert.False(t, a.Incomplete)
		assert.Positive(t, a.Duration)
	}
	assert.Equal(t, 1, summary.EventCounts[eventbus.EventSessionDone])
	assert.Equal(t, 2, summary.EventCounts[eventbus.EventFinding])
	assert.Equal(t, 2, summary.EventCounts[eventbus.EventToolResult])

	var last eventbus.Message
	for m := range sub.C {
		last = m
	}
	assert.Equal(t, eventbus.EventSessionDone, last.Type)
	assert.Equal(t, 2, last.Int("n_findings"))
	assert.ElementsMatch(t, []string{"alpha", "beta"}, last.Strings("agents"))
	assert.ErrorIs(t, bus.Publish(eventbus.Message{Type: "late"}), eventbus.ErrClosed)
}

func TestCoordinator_FailuresStillSummarize(t *testing.T) {
	h, tree := newHive(t, hive.DefaultConfig(), literature(func(context.Context, map[string]any) (any, error) {
		return nil, errors.New("exit status 2")
	}))
	c, err := New(h, tree, profiles)
	require.NoError(t, err)

	summary := c.Run(context.Background(), "TP53")
	assert.NotEmpty(t, summary.SessionID)
	require.Len(t, summary.Findings, 2)
	for _, f := range summary.Findings {
		assert.Contains(t, f.Text, "no results")
		assert.Zero(t, f.Confidence)
	}
	for _, a := range summary.Agents {
		assert.Equal(t, hive.AgentStatusDone, a.Status)
		assert.Empty(t, a.Completed)
	}
}

func TestCoordinator_DeadlineMarksIncomplete(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	cfg := hive.DefaultConfig()
	cfg.AgentTimeout = 50 * time.Millisecond
	h, tree := newHive(t, cfg, literature(func(context.Context, map[string]any) (any, error) {
		<-release
		return "late", nil
	}))
	c, err := New(h, tree, profiles, WithGrace(50*time.Millisecond))
	require.NoError(t, err)

	start := time.Now()
	summary := c.Run(context.Background(), "TP53")
	assert.Less(t, time.Since(start), 2*time.Second)

	assert.Equal(t, []string{"alpha", "beta"}, summary.Incomplete)
	assert.Empty(t, summary.Findings)
	assert.Equal(t, 1, summary.EventCounts[eventbus.EventSessionDone])
	for _, a := range summary.Agents {
		assert.True(t, a.Incomplete)
		assert.NotEmpty(t, a.Error)
	}
}
