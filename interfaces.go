package hive

import "context"

// Reasoner is the external language-model call consulted by the searcher and
// by agents. Nothing is assumed about the returned text; callers decode it
// strictly and fall back when decoding fails.
type Reasoner interface {
	Reason(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// ReasonerFunc adapts a function to the Reasoner interface.
type ReasonerFunc func(ctx context.Context, prompt string, maxTokens int) (string, error)

// Reason implements Reasoner.
func (f ReasonerFunc) Reason(ctx context.Context, prompt string, maxTokens int) (string, error) {
	return f(ctx, prompt, maxTokens)
}

// Invoker runs a capability with resolved parameters and returns its decoded
// output. It must honour ctx's deadline.
type Invoker interface {
	Invoke(ctx context.Context, capability Capability, params map[string]any) (any, error)
}

// Catalog is the read-only capability table.
type Catalog interface {
	// Capabilities returns every capability in catalog order.
	Capabilities() []Capability
	// Lookup finds a capability by id.
	Lookup(id string) (Capability, bool)
}

// Cache provides storage for frequently accessed data, like reasoner responses.
type Cache interface {
	Get(ctx context.Context, key string) (any, error)
	Set(ctx context.Context, key string, value any) error
}
