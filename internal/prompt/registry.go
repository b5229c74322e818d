package prompt

import (
	"fmt"
	"strings"
	"sync"
	"text/template"
)

// Names of the built-in prompts.
const (
	Branch     = "branch"
	Leaf       = "leaf"
	Prune      = "prune"
	Plan       = "plan"
	Synthesize = "synthesize"
)

// Registry holds named prompt templates. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	root     *template.Template
	partials map[string]string
}

// NewRegistry creates a registry preloaded with the built-in prompts.
func NewRegistry() *Registry {
	r := &Registry{
		root:     template.New("prompts").Funcs(defaultFuncs()),
		partials: make(map[string]string),
	}
	for name, body := range builtins {
		if err := r.DefinePrompt(name, body); err != nil {
			panic(fmt.Sprintf("built-in prompt %q: %v", name, err))
		}
	}
	return r
}

// DefinePrompt adds or replaces a prompt.
func (r *Registry) DefinePrompt(name, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.root.New(name).Parse(body); err != nil {
		return fmt.Errorf("failed to define prompt '%s': %w", name, err)
	}
	return nil
}

// DefinePartial adds a named fragment usable from prompts with {{template "name" .}}.
func (r *Registry) DefinePartial(name, body string) error {
	if err := r.DefinePrompt(name, body); err != nil {
		return fmt.Errorf("failed to define partial '%s': %w", name, err)
	}
	r.mu.Lock()
	r.partials[name] = body
	r.mu.Unlock()
	return nil
}

// DefineHelper registers a template function. Helpers must be defined
// before the prompts that use them.
func (r *Registry) DefineHelper(name string, fn any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.root.Funcs(template.FuncMap{name: fn})
}

// Has reports whether a prompt is defined.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.root.Lookup(name) != nil
}

// Render executes the named prompt with data.
func (r *Registry) Render(name string, data any) (string, error) {
	r.mu.RLock()
	t := r.root.Lookup(name)
	r.mu.RUnlock()
	if t == nil {
		return "", fmt.Errorf("prompt '%s' not found", name)
	}

	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", fmt.Errorf("failed to render prompt '%s': %w", name, err)
	}
	return strings.TrimSpace(b.String()), nil
}

func defaultFuncs() template.FuncMap {
	return template.FuncMap{
		"join":  strings.Join,
		"lower": strings.ToLower,
		"trunc": func(n int, s string) string {
			if len(s) <= n {
				return s
			}
			return s[:n] + "..."
		},
	}
}

var builtins = map[string]string{
	Branch: `You are narrowing a catalogue of research tools.
Goal: {{.Goal}}

Current category: {{.Node}}
Sub-categories:
{{- range .Options}}
- id: {{.ID}} | {{.Name}} ({{.Count}} tools): {{.Description}}
{{- end}}

Which sub-categories could contain tools that help with the goal?
Answer with a JSON array of ids only, for example ["a","b"].`,

	Leaf: `Goal: {{.Goal}}

Candidate tools in {{.Node}}:
{{- range .Options}}
- {{.ID}}: {{trunc 200 .Description}}
{{- end}}

Pick the tools that directly help with the goal.
Answer with a JSON array of objects: [{"id": "...", "reason": "one line"}].`,

	Prune: `Goal: {{.Goal}}

Selected tools:
{{- range .Options}}
- {{.ID}} [{{.Category}}]: {{trunc 200 .Description}}
{{- end}}

Some of these may do near-identical lookups. Return the ids to keep, dropping
only clear duplicates, as a JSON array of ids.`,

	Plan: `Goal: {{.Goal}}

Arrange these tools into an execution plan. A step may depend on the output of
earlier steps; independent steps should not depend on each other.
{{- range .Options}}
- {{.ID}} [{{.Category}}]: {{trunc 200 .Description}}{{if .Params}} (params: {{join .Params ", "}}){{end}}
{{- end}}

Answer with JSON: {"plan": [{"id": "step id", "capability_id": "tool id", "depends_on": ["step id"], "purpose": "..."}]}`,

	Synthesize: `You are {{.Agent}}, investigating: {{.Topic}}

Tool results:
{{- range .Results}}
- {{.Tool}}: {{trunc 400 .Summary}}
{{- end}}
{{- if .Peers}}

Other agents reported:
{{- range .Peers}}
- {{.Agent}}: {{trunc 300 .Text}}
{{- end}}
{{- end}}

Write one concise finding (3 sentences at most) grounded only in the results above.`,
}
