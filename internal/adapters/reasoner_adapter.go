package adapters

import (
	"context"

	hive "github.com/ZanzyTHEbar/dragonscale-hive"
	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core"
	"github.com/firebase/genkit/go/genkit"
)

// ReasonInput is the input of a reasoner flow.
type ReasonInput struct {
	Prompt    string `json:"prompt"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

// ReasonerFlow is a Genkit flow that answers one prompt with text.
type ReasonerFlow = core.Flow[*ReasonInput, string, struct{}]

// GenkitReasoner uses a Genkit flow to implement hive.Reasoner.
type GenkitReasoner struct {
	flow *ReasonerFlow
}

// NewGenkitReasoner creates a reasoner backed by flow.
func NewGenkitReasoner(flow *ReasonerFlow) *GenkitReasoner {
	return &GenkitReasoner{flow: flow}
}

// Reason implements hive.Reasoner.
func (a *GenkitReasoner) Reason(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if a.flow == nil {
		return "", hive.NewConfigurationError("reasoner flow is not configured", nil)
	}
	out, err := a.flow.Run(ctx, &ReasonInput{Prompt: prompt, MaxTokens: maxTokens})
	if err != nil {
		return "", hive.NewReasonerError("reason", err)
	}
	return out, nil
}

// DefineReasonerFlow registers a flow that sends the prompt to the default
// model of g and returns the generated text.
func DefineReasonerFlow(g *genkit.Genkit, name string) *ReasonerFlow {
	return genkit.DefineFlow(g, name, func(ctx context.Context, in *ReasonInput) (string, error) {
		// WithPrompt formats its text, so the prompt goes in as an argument.
		opts := []ai.GenerateOption{ai.WithPrompt("%s", in.Prompt)}
		if in.MaxTokens > 0 {
			opts = append(opts, ai.WithConfig(&ai.GenerationCommonConfig{MaxOutputTokens: in.MaxTokens}))
		}
		return genkit.GenerateText(ctx, g, opts...)
	})
}
