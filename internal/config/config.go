// Package config loads hive configuration from a YAML file, HIVE_*
// environment variables and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	hive "github.com/ZanzyTHEbar/dragonscale-hive"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides, e.g. HIVE_SEARCH_MAX_WORKERS.
const EnvPrefix = "HIVE"

// Config holds all configuration for the hive CLI.
type Config struct {
	Reasoner  ReasonerConfig      `mapstructure:"reasoner"`
	Search    SearchConfig        `mapstructure:"search"`
	Execution ExecutionConfig     `mapstructure:"execution"`
	Session   SessionConfig       `mapstructure:"session"`
	Catalog   CatalogConfig       `mapstructure:"catalog"`
	Agents    []hive.AgentProfile `mapstructure:"agents"`
}

// ReasonerConfig holds model settings.
type ReasonerConfig struct {
	Model     string        `mapstructure:"model"`
	Timeout   time.Duration `mapstructure:"timeout"`
	MaxTokens int           `mapstructure:"max_tokens"`
	// CacheTTL of zero disables the response cache.
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
	CacheFile string        `mapstructure:"cache_file"`
}

// SearchConfig holds hierarchical search thresholds.
type SearchConfig struct {
	AutoExpandThreshold int  `mapstructure:"auto_expand_threshold"`
	EarlyStopThreshold  int  `mapstructure:"early_stop_threshold"`
	LeafAutoInclude     int  `mapstructure:"leaf_auto_include"`
	MaxWorkers          int  `mapstructure:"max_workers"`
	PlanDependencies    bool `mapstructure:"plan_dependencies"`
}

// ExecutionConfig holds capability invocation settings.
type ExecutionConfig struct {
	CapabilityTimeout time.Duration `mapstructure:"capability_timeout"`
	BinDir            string        `mapstructure:"bin_dir"`
	Interpreter       string        `mapstructure:"interpreter"`
	Extension         string        `mapstructure:"extension"`
	MaxParallel       int           `mapstructure:"max_parallel"`
}

// SessionConfig holds per-session limits.
type SessionConfig struct {
	AgentTimeout     time.Duration `mapstructure:"agent_timeout"`
	Grace            time.Duration `mapstructure:"grace"`
	MaxPeerReactions int           `mapstructure:"max_peer_reactions"`
}

// CatalogConfig points at the capability catalog and optional taxonomy.
type CatalogConfig struct {
	Path         string `mapstructure:"path"`
	TaxonomyPath string `mapstructure:"taxonomy_path"`
}

// DefaultProfiles are used when the config names no agents.
func DefaultProfiles() []hive.AgentProfile {
	return []hive.AgentProfile{
		{
			Name:              "literature",
			Domain:            "literature",
			Goal:              "find published evidence about {{topic}}",
			Vocabulary:        []string{"study", "paper", "reported", "cohort"},
			ChallengeTriggers: []string{"structure", "binding site"},
		},
		{
			Name:              "structure",
			Domain:            "structure",
			Goal:              "characterise the protein structure and interactions of {{topic}}",
			Vocabulary:        []string{"structure", "domain", "binding", "fold"},
			ChallengeTriggers: []string{"clinical", "trial"},
		},
		{
			Name:              "genomics",
			Domain:            "genomics",
			Goal:              "summarise variants and expression data for {{topic}}",
			Vocabulary:        []string{"variant", "mutation", "expression", "gene"},
			ChallengeTriggers: []string{"pathway"},
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := hive.DefaultConfig()

	v.SetDefault("reasoner.model", "googleai/gemini-2.0-flash")
	v.SetDefault("reasoner.timeout", d.ReasonerTimeout)
	v.SetDefault("reasoner.max_tokens", d.ReasonerMaxTokens)
	v.SetDefault("reasoner.cache_ttl", time.Hour)
	v.SetDefault("reasoner.cache_file", "")

	v.SetDefault("search.auto_expand_threshold", d.AutoExpandThreshold)
	v.SetDefault("search.early_stop_threshold", d.EarlyStopThreshold)
	v.SetDefault("search.leaf_auto_include", d.LeafAutoInclude)
	v.SetDefault("search.max_workers", d.SearchWorkers)
	v.SetDefault("search.plan_dependencies", d.PlanDependencies)

	v.SetDefault("execution.capability_timeout", d.CapabilityTimeout)
	v.SetDefault("execution.bin_dir", "bin")
	v.SetDefault("execution.interpreter", "")
	v.SetDefault("execution.extension", "")
	v.SetDefault("execution.max_parallel", d.MaxParallel)

	v.SetDefault("session.agent_timeout", d.AgentTimeout)
	v.SetDefault("session.grace", 5*time.Second)
	v.SetDefault("session.max_peer_reactions", d.MaxPeerReactions)

	v.SetDefault("catalog.path", "catalog.yaml")
	v.SetDefault("catalog.taxonomy_path", "")
}

// Load reads path if given, otherwise hive.yaml from the working directory
// or the user config dir when present. Environment variables take
// precedence over the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("hive")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "hive"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if len(cfg.Agents) == 0 {
		cfg.Agents = DefaultProfiles()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the fields the runtime config does not cover.
func (c *Config) Validate() error {
	if c.Reasoner.MaxTokens <= 0 {
		return hive.NewConfigurationError(fmt.Sprintf("reasoner.max_tokens must be positive, got %d", c.Reasoner.MaxTokens), nil)
	}
	if c.Reasoner.CacheTTL < 0 {
		return hive.NewConfigurationError("reasoner.cache_ttl cannot be negative", nil)
	}
	names := make(map[string]bool, len(c.Agents))
	for _, a := range c.Agents {
		if a.Name == "" {
			return hive.NewConfigurationError("agent profile without a name", nil)
		}
		if names[a.Name] {
			return hive.NewConfigurationError(fmt.Sprintf("duplicate agent %q", a.Name), nil)
		}
		names[a.Name] = true
	}
	if err := c.ToHiveConfig().Validate(); err != nil {
		return hive.NewConfigurationError("invalid configuration", err)
	}
	return nil
}

// ToHiveConfig maps the file layout onto the runtime configuration.
func (c *Config) ToHiveConfig() hive.Config {
	return hive.Config{
		ReasonerTimeout:     c.Reasoner.Timeout,
		ReasonerMaxTokens:   c.Reasoner.MaxTokens,
		AutoExpandThreshold: c.Search.AutoExpandThreshold,
		EarlyStopThreshold:  c.Search.EarlyStopThreshold,
		LeafAutoInclude:     c.Search.LeafAutoInclude,
		SearchWorkers:       c.Search.MaxWorkers,
		PlanDependencies:    c.Search.PlanDependencies,
		CapabilityTimeout:   c.Execution.CapabilityTimeout,
		MaxParallel:         c.Execution.MaxParallel,
		AgentTimeout:        c.Session.AgentTimeout,
		MaxPeerReactions:    c.Session.MaxPeerReactions,
	}
}

// SelectAgents returns the profiles named in names, in that order. An empty
// names returns every profile.
func (c *Config) SelectAgents(names []string) ([]hive.AgentProfile, error) {
	if len(names) == 0 {
		return append([]hive.AgentProfile(nil), c.Agents...), nil
	}
	byName := make(map[string]hive.AgentProfile, len(c.Agents))
	for _, a := range c.Agents {
		byName[a.Name] = a
	}
	out := make([]hive.AgentProfile, 0, len(names))
	for _, n := range names {
		p, ok := byName[strings.TrimSpace(n)]
		if !ok {
			return nil, hive.NewValidationError("config", fmt.Sprintf("unknown agent %q", n), nil)
		}
		out = append(out, p)
	}
	return out, nil
}
