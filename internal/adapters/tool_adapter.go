package adapters

import (
	"context"
	"fmt"
	"sort"
	"sync"

	hive "github.com/ZanzyTHEbar/dragonscale-hive"
)

// CapabilityFunc is the body of an in-process capability.
type CapabilityFunc func(ctx context.Context, params map[string]any) (any, error)

// FuncCapability adapts a Go function to a catalog capability.
type FuncCapability struct {
	fn        CapabilityFunc
	validator func(map[string]any) error
	info      hive.Capability
}

// ToolOption configures a FuncCapability.
type ToolOption func(*FuncCapability)

// WithValidator sets a custom validator run before every call.
func WithValidator(validator func(map[string]any) error) ToolOption {
	return func(c *FuncCapability) {
		c.validator = validator
	}
}

// WithCategory sets the capability's category.
func WithCategory(category string) ToolOption {
	return func(c *FuncCapability) {
		c.info.Category = category
	}
}

// WithDescription sets the one-line description shown to the reasoner.
func WithDescription(description string) ToolOption {
	return func(c *FuncCapability) {
		c.info.Description = description
	}
}

// WithParameters sets the accepted parameter names.
func WithParameters(names ...string) ToolOption {
	return func(c *FuncCapability) {
		c.info.Params = append([]string(nil), names...)
	}
}

// NewFuncCapability creates a capability backed by fn.
func NewFuncCapability(id string, fn CapabilityFunc, options ...ToolOption) *FuncCapability {
	c := &FuncCapability{
		fn:   fn,
		info: hive.Capability{ID: id},
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// Capability returns the catalog entry.
func (c *FuncCapability) Capability() hive.Capability {
	return c.info
}

// Validate runs the configured validator.
func (c *FuncCapability) Validate(params map[string]any) error {
	if c.validator != nil {
		return c.validator(params)
	}
	return nil
}

// Execute validates params and runs the function.
func (c *FuncCapability) Execute(ctx context.Context, params map[string]any) (any, error) {
	if c.fn == nil {
		return nil, fmt.Errorf("capability function is nil")
	}
	if err := c.Validate(params); err != nil {
		return nil, fmt.Errorf("input validation failed for %s: %w", c.info.ID, err)
	}
	return c.fn(ctx, params)
}

// Registry holds in-process capabilities. It is both a catalog and an invoker.
type Registry struct {
	mu    sync.RWMutex
	caps  map[string]*FuncCapability
	order []string
}

// NewRegistry creates a registry with the given capabilities.
func NewRegistry(caps ...*FuncCapability) (*Registry, error) {
	r := &Registry{caps: make(map[string]*FuncCapability)}
	for _, c := range caps {
		if err := r.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a capability. Ids must be unique.
func (r *Registry) Register(c *FuncCapability) error {
	id := c.info.ID
	if id == "" {
		return hive.NewValidationError("registry", "capability id cannot be empty", nil)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.caps[id]; exists {
		return hive.NewValidationError("registry", fmt.Sprintf("capability '%s' already registered", id), nil)
	}
	r.caps[id] = c
	r.order = append(r.order, id)
	return nil
}

// Capabilities implements hive.Catalog.
func (r *Registry) Capabilities() []hive.Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]hive.Capability, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.caps[id].info)
	}
	return out
}

// Lookup implements hive.Catalog.
func (r *Registry) Lookup(id string) (hive.Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.caps[id]
	if !ok {
		return hive.Capability{}, false
	}
	return c.info, true
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	_, ok := r.Lookup(id)
	return ok
}

// IDs returns the registered ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := append([]string(nil), r.order...)
	sort.Strings(ids)
	return ids
}

// Invoke implements hive.Invoker.
func (r *Registry) Invoke(ctx context.Context, c hive.Capability, params map[string]any) (any, error) {
	r.mu.RLock()
	fc, ok := r.caps[c.ID]
	r.mu.RUnlock()
	if !ok {
		return nil, hive.NewCapabilityNotFoundError("invoke", c.ID)
	}
	out, err := fc.Execute(ctx, params)
	if err != nil {
		if hive.IsHiveError(err) {
			return nil, err
		}
		return nil, hive.NewCapabilityExecutionError("invoke", c.ID, err)
	}
	return out, nil
}

// Provider is an invoker that can tell whether it serves a capability.
type Provider interface {
	hive.Invoker
	Has(id string) bool
}

// Chain dispatches each call to the first provider that has the capability.
type Chain []Provider

// Invoke implements hive.Invoker.
func (c Chain) Invoke(ctx context.Context, capability hive.Capability, params map[string]any) (any, error) {
	for _, p := range c {
		if p.Has(capability.ID) {
			return p.Invoke(ctx, capability, params)
		}
	}
	return nil, hive.NewCapabilityNotFoundError("invoke", capability.ID)
}
