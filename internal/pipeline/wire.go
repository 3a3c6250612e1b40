package pipeline

import (
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/saas-radar/internal/config"
	"github.com/sells-group/saas-radar/internal/cost"
	"github.com/sells-group/saas-radar/internal/enrich"
	"github.com/sells-group/saas-radar/internal/fetcher"
	"github.com/sells-group/saas-radar/internal/ingest"
	"github.com/sells-group/saas-radar/internal/metrics"
	"github.com/sells-group/saas-radar/internal/normalize"
	"github.com/sells-group/saas-radar/internal/persist"
	"github.com/sells-group/saas-radar/internal/resilience"
	"github.com/sells-group/saas-radar/internal/source"
	"github.com/sells-group/saas-radar/internal/store"
	"github.com/sells-group/saas-radar/pkg/anthropic"
)

// LoadCatalog reads the configured source catalog, or the built-in one when
// no path is set.
func LoadCatalog(cfg config.SourcesConfig) (*source.Catalog, error) {
	if cfg.CatalogPath == "" {
		return source.DefaultCatalog(), nil
	}
	cat, err := source.LoadCatalog(cfg.CatalogPath)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load catalog")
	}
	return cat, nil
}

// BuildSources constructs one ingest.Source per catalog entry.
func BuildSources(cat *source.Catalog, cfg config.SourcesConfig) []ingest.Source {
	client := fetcher.NewHTTPClient(time.Duration(cfg.TimeoutSecs) * time.Second)
	deps := source.Deps{
		Client:    client,
		UserAgent: cfg.UserAgent,
		Robots:    fetcher.NewRobotsChecker(client, cfg.UserAgent, time.Duration(cfg.RobotsTTLHours)*time.Hour),
	}
	out := make([]ingest.Source, 0, len(cat.Sources))
	for _, e := range cat.Sources {
		out = append(out, ingest.Source{
			Adapter: source.Build(e, deps),
			Enabled: e.IsEnabled(),
			Limit:   e.Limit,
		})
	}
	return out
}

// NewBackend selects the inference backend named by enrich.provider. The
// "none" provider returns nil, which enriches with the fallback only.
func NewBackend(cfg *config.Config) (enrich.Backend, error) {
	switch cfg.Enrich.Provider {
	case "anthropic":
		client := anthropic.NewClient(cfg.Anthropic.Key, anthropic.ClientOptions{BaseURL: cfg.Anthropic.BaseURL})
		return enrich.NewAnthropicBackend(client, cfg.Anthropic.Model), nil
	case "openai":
		return enrich.NewOpenAIBackend(cfg.OpenAI.Key, cfg.OpenAI.BaseURL, cfg.OpenAI.Model), nil
	case "none", "":
		return nil, nil
	default:
		return nil, eris.Errorf("pipeline: unknown enrich provider %q", cfg.Enrich.Provider)
	}
}

// Rates merges configured pricing over the default rates.
func Rates(p config.PricingConfig) cost.Rates {
	override := cost.Rates{
		Anthropic: make(map[string]cost.ModelRate, len(p.Anthropic)),
		OpenAI:    make(map[string]cost.ModelRate, len(p.OpenAI)),
	}
	for model, mp := range p.Anthropic {
		override.Anthropic[model] = cost.ModelRate(mp)
	}
	for model, mp := range p.OpenAI {
		override.OpenAI[model] = cost.ModelRate(mp)
	}
	return cost.DefaultRates().Merge(override)
}

// Build assembles a Runner from configuration.
func Build(cfg *config.Config, st store.Store) (*Runner, error) {
	cat, err := LoadCatalog(cfg.Sources)
	if err != nil {
		return nil, err
	}
	if err := cat.Validate(); err != nil {
		return nil, eris.Wrap(err, "pipeline: validate catalog")
	}

	backend, err := NewBackend(cfg)
	if err != nil {
		return nil, err
	}

	breakerCfg := resilience.FromCircuitConfig(cfg.Enrich.BreakerThreshold, cfg.Enrich.BreakerResetSecs)
	breakerCfg.OnStateChange = func(from, to resilience.CircuitState) {
		zap.L().Warn("pipeline: inference circuit state change",
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}

	return New(Deps{
		Store:   st,
		Sources: BuildSources(cat, cfg.Sources),
		Ingest: ingest.Options{
			MaxInFlight:      cfg.Sources.MaxInFlight,
			FailureThreshold: cfg.Sources.FailureThreshold,
			DefaultLimit:     cfg.Sources.DefaultLimit,
			Retry: resilience.FromRetryConfig(
				cfg.Retry.MaxAttempts,
				cfg.Retry.InitialBackoffMs,
				cfg.Retry.MaxBackoffMs,
				cfg.Retry.Multiplier,
				cfg.Retry.JitterFraction,
			),
		},
		Normalize: normalize.Options{
			MaxTitleLen:       cfg.Normalize.MaxTitleLen,
			MaxDescriptionLen: cfg.Normalize.MaxDescriptionLen,
			MaxVotes:          cfg.Normalize.MaxVotes,
		},
		Backend:    backend,
		Calculator: cost.NewCalculator(Rates(cfg.Pricing)),
		Breaker:    resilience.NewCircuitBreaker(breakerCfg),
		Enrich: enrich.Options{
			BatchSize:              cfg.Enrich.BatchSize,
			Concurrency:            cfg.Enrich.Concurrency,
			Timeout:                time.Duration(cfg.Enrich.TimeoutSecs) * time.Second,
			MaxTokens:              cfg.Enrich.MaxTokens,
			EstimatedInputPerItem:  cfg.Enrich.EstimatedInputPerItem,
			EstimatedOutputPerItem: cfg.Enrich.EstimatedOutputPerItem,
		},
		BudgetUSD: cfg.Enrich.BudgetUSD,
		Persist: persist.Options{
			Workers:      cfg.Persist.Workers,
			WriteTimeout: time.Duration(cfg.Persist.WriteTimeoutSecs) * time.Second,
			Controller: persist.ControllerConfig{
				Initial:        cfg.Persist.InitialBatchSize,
				Min:            cfg.Persist.MinBatchSize,
				Max:            cfg.Persist.MaxBatchSize,
				Step:           cfg.Persist.AdditiveStep,
				DecreaseFactor: cfg.Persist.DecreaseFactor,
				TargetLatency:  time.Duration(cfg.Persist.TargetLatencyMs) * time.Millisecond,
			},
		},
		Metrics:        metrics.New(),
		PushgatewayURL: cfg.Metrics.PushgatewayURL,
		MetricsJob:     cfg.Metrics.Job,
	}), nil
}

// RunOptions derives the per-run options from configuration and CLI flags.
func RunOptions(cfg config.RunConfig, dryRun, force bool) Options {
	return Options{
		DryRun:       dryRun,
		Force:        force,
		Deadline:     cfg.Deadline(),
		MinInterval:  cfg.MinInterval(),
		FlushTimeout: time.Duration(cfg.FlushTimeoutSecs) * time.Second,
	}
}
