// Package hive provides the shared runtime for multi-agent capability
// orchestration: capability discovery, dependency scheduling and the
// collaborators every agent needs.
package hive

import (
	"fmt"
	"io"
	"log/slog"
	"time"
)

// Hive is the explicit context object handed to every component that needs
// the catalog, the reasoner or the execution binding. It is built once per
// process and never mutated afterwards.
type Hive struct {
	catalog  Catalog
	reasoner Reasoner
	invoker  Invoker
	logger   *slog.Logger

	config Config
}

// Config holds the tunables of search, execution and sessions.
type Config struct {
	// Reasoner call budget
	ReasonerTimeout   time.Duration
	ReasonerMaxTokens int

	// Hierarchical search
	AutoExpandThreshold int // interior nodes with at most this many children are expanded without asking
	EarlyStopThreshold  int // a lone kept child with fewer capabilities is collected directly
	LeafAutoInclude     int // leaves with at most this many capabilities are taken whole
	SearchWorkers       int // cap on concurrent sibling explorations
	PlanDependencies    bool

	// Capability execution
	CapabilityTimeout time.Duration
	MaxParallel       int // 0 means the phase width

	// Sessions
	AgentTimeout     time.Duration
	MaxPeerReactions int
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ReasonerTimeout:     30 * time.Second,
		ReasonerMaxTokens:   1024,
		AutoExpandThreshold: 3,
		EarlyStopThreshold:  5,
		LeafAutoInclude:     2,
		SearchWorkers:       3,
		PlanDependencies:    true,
		CapabilityTimeout:   45 * time.Second,
		MaxParallel:         0,
		AgentTimeout:        10 * time.Minute,
		MaxPeerReactions:    3,
	}
}

// Option is a function that configures a Hive instance.
type Option func(*Hive)

// WithConfig sets the configuration.
func WithConfig(config Config) Option {
	return func(h *Hive) {
		h.config = config
	}
}

// WithCatalog sets the capability catalog.
func WithCatalog(catalog Catalog) Option {
	return func(h *Hive) {
		h.catalog = catalog
	}
}

// WithReasoner sets the reasoner.
func WithReasoner(reasoner Reasoner) Option {
	return func(h *Hive) {
		h.reasoner = reasoner
	}
}

// WithInvoker sets the execution binding.
func WithInvoker(invoker Invoker) Option {
	return func(h *Hive) {
		h.invoker = invoker
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hive) {
		h.logger = logger
	}
}

// New creates a new Hive with the provided options.
func New(options ...Option) (*Hive, error) {
	h := &Hive{
		config: DefaultConfig(),
	}

	for _, option := range options {
		option(h)
	}

	if h.catalog == nil {
		return nil, NewConfigurationError("catalog is required", nil)
	}
	if h.reasoner == nil {
		return nil, NewConfigurationError("reasoner is required", nil)
	}
	if h.invoker == nil {
		return nil, NewConfigurationError("invoker is required", nil)
	}
	if err := h.config.Validate(); err != nil {
		return nil, NewConfigurationError("invalid configuration", err)
	}

	if h.logger == nil {
		h.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return h, nil
}

// Validate checks the configuration for values that would stall or disable a component.
func (c Config) Validate() error {
	switch {
	case c.ReasonerTimeout <= 0:
		return fmt.Errorf("reasoner timeout must be positive, got %v", c.ReasonerTimeout)
	case c.CapabilityTimeout <= 0:
		return fmt.Errorf("capability timeout must be positive, got %v", c.CapabilityTimeout)
	case c.AgentTimeout <= 0:
		return fmt.Errorf("agent timeout must be positive, got %v", c.AgentTimeout)
	case c.SearchWorkers < 1:
		return fmt.Errorf("search workers must be at least 1, got %d", c.SearchWorkers)
	case c.MaxParallel < 0:
		return fmt.Errorf("max parallel cannot be negative, got %d", c.MaxParallel)
	case c.MaxPeerReactions < 0:
		return fmt.Errorf("max peer reactions cannot be negative, got %d", c.MaxPeerReactions)
	}
	return nil
}

// Catalog returns the capability catalog.
func (h *Hive) Catalog() Catalog { return h.catalog }

// Reasoner returns the reasoner.
func (h *Hive) Reasoner() Reasoner { return h.reasoner }

// Invoker returns the execution binding.
func (h *Hive) Invoker() Invoker { return h.invoker }

// Logger returns the structured logger.
func (h *Hive) Logger() *slog.Logger { return h.logger }

// Config returns a copy of the configuration.
func (h *Hive) Config() Config { return h.config }
