package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	hive "github.com/ZanzyTHEbar/dragonscale-hive"
	"github.com/ZanzyTHEbar/dragonscale-hive/internal/adapters"
	"github.com/ZanzyTHEbar/dragonscale-hive/internal/cache"
	"github.com/ZanzyTHEbar/dragonscale-hive/internal/captree"
	"github.com/ZanzyTHEbar/dragonscale-hive/internal/catalog"
	"github.com/ZanzyTHEbar/dragonscale-hive/internal/config"
	"github.com/ZanzyTHEbar/dragonscale-hive/internal/invoker"
	"github.com/ZanzyTHEbar/dragonscale-hive/internal/tools"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
)

// runtime is everything a command needs, built from the config file.
type runtime struct {
	cfg    *config.Config
	hive   *hive.Hive
	tree   *captree.Node
	logger *slog.Logger
	close  func()
}

// offlineReasoner is used without an API key. Every decision point then
// takes its fallback.
type offlineReasoner struct{}

func (offlineReasoner) Reason(context.Context, string, int) (string, error) {
	return "", errors.New("no reasoner configured: set GEMINI_API_KEY")
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func loadRuntime(ctx context.Context) (*runtime, error) {
	logger := newLogger()
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	loaded, report, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return nil, err
	}
	for _, p := range report.Problems {
		logger.Warn("catalog entry skipped", "problem", p)
	}
	builtins, err := tools.Builtins()
	if err != nil {
		return nil, err
	}
	// Built-ins come last so a catalog entry with the same id wins.
	table, merged := catalog.NewTable(append(loaded.Capabilities(), builtins.Capabilities()...))
	logger.Debug("catalog loaded", "file", report.Loaded, "total", merged.Loaded)

	taxonomy := captree.DefaultTaxonomy()
	if cfg.Catalog.TaxonomyPath != "" {
		if taxonomy, err = captree.LoadTaxonomy(cfg.Catalog.TaxonomyPath); err != nil {
			return nil, err
		}
	}
	tree, built := captree.Build(table.Capabilities(), taxonomy)
	logger.Debug("capability tree built",
		"assigned", built.Assigned,
		"unassigned", built.Unassigned,
		"skipped", built.Skipped)

	var subOpts []invoker.Option
	subOpts = append(subOpts, invoker.WithLogger(logger))
	if cfg.Execution.Interpreter != "" {
		subOpts = append(subOpts, invoker.WithInterpreter(cfg.Execution.Interpreter, cfg.Execution.Extension))
	}
	sub, err := invoker.NewSubprocess(cfg.Execution.BinDir, subOpts...)
	if err != nil {
		return nil, err
	}

	reasoner, closeReasoner, err := newReasoner(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	h, err := hive.New(
		hive.WithCatalog(table),
		hive.WithInvoker(adapters.Chain{sub, builtins}),
		hive.WithReasoner(reasoner),
		hive.WithConfig(cfg.ToHiveConfig()),
		hive.WithLogger(logger),
	)
	if err != nil {
		closeReasoner()
		return nil, err
	}
	return &runtime{cfg: cfg, hive: h, tree: tree, logger: logger, close: closeReasoner}, nil
}

func newReasoner(ctx context.Context, cfg *config.Config, logger *slog.Logger) (hive.Reasoner, func(), error) {
	noop := func() {}
	if os.Getenv("GEMINI_API_KEY") == "" {
		logger.Warn("GEMINI_API_KEY not set, running without a reasoner")
		return offlineReasoner{}, noop, nil
	}

	g, err := genkit.Init(ctx,
		genkit.WithPlugins(&googlegenai.GoogleAI{}),
		genkit.WithDefaultModel(cfg.Reasoner.Model),
	)
	if err != nil {
		return nil, noop, fmt.Errorf("genkit initialization failed: %w", err)
	}
	var reasoner hive.Reasoner = adapters.NewGenkitReasoner(adapters.DefineReasonerFlow(g, "reason"))

	if cfg.Reasoner.CacheTTL <= 0 {
		return reasoner, noop, nil
	}
	opts := []cache.Option{cache.WithLogger(logger)}
	callTimeout := cache.WithCallTimeout(cfg.Reasoner.Timeout)
	if cfg.Reasoner.CacheFile != "" {
		fc, err := cache.NewFilePersistentCache(cfg.Reasoner.CacheTTL, cfg.Reasoner.CacheFile, opts...)
		if err != nil {
			return nil, noop, err
		}
		return cache.NewCachedReasoner(reasoner, fc, logger, callTimeout), func() { _ = fc.Close() }, nil
	}
	mc := cache.NewInMemoryCache(cfg.Reasoner.CacheTTL, opts...)
	return cache.NewCachedReasoner(reasoner, mc, logger, callTimeout), func() { _ = mc.Close() }, nil
}
