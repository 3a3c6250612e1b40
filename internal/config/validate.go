package config

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Validate checks the settings required by a command mode. Known modes are
// "run", "migrate" and "inspect". All problems are reported together.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch mode {
	case "run":
		problems = append(problems, c.validateStore()...)
		problems = append(problems, c.validateEnrich()...)
		problems = append(problems, c.validatePersist()...)
		if c.Sources.DefaultLimit < 1 {
			problems = append(problems, "sources.default_limit must be > 0")
		}
		if c.Sources.FailureThreshold < 1 {
			problems = append(problems, "sources.failure_threshold must be > 0")
		}
		if c.Retry.MaxAttempts < 1 {
			problems = append(problems, "retry.max_attempts must be > 0")
		}
		if c.Run.DeadlineSecs < 1 {
			problems = append(problems, "run.deadline_secs must be > 0")
		}
	case "migrate", "inspect":
		problems = append(problems, c.validateStore()...)
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) validateStore() []string {
	var problems []string
	switch c.Store.Driver {
	case "postgres", "sqlite":
	default:
		problems = append(problems, "store.driver must be postgres or sqlite")
	}
	if c.Store.DatabaseURL == "" {
		problems = append(problems, "store.database_url is required")
	}
	return problems
}

func (c *Config) validateEnrich() []string {
	var problems []string
	switch c.Enrich.Provider {
	case "anthropic":
		if c.Anthropic.Key == "" {
			problems = append(problems, "anthropic.key is required")
		}
	case "openai":
		if c.OpenAI.Key == "" {
			problems = append(problems, "openai.key is required")
		}
	case "none":
	default:
		problems = append(problems, "enrich.provider must be anthropic, openai or none")
	}
	if c.Enrich.BatchSize < 1 {
		problems = append(problems, "enrich.batch_size must be > 0")
	}
	if c.Enrich.Concurrency < 1 {
		problems = append(problems, "enrich.concurrency must be > 0")
	}
	if c.Enrich.BudgetUSD < 0 {
		problems = append(problems, "enrich.budget_usd must be >= 0")
	}
	return problems
}

func (c *Config) validatePersist() []string {
	var problems []string
	p := c.Persist
	if p.MinBatchSize < 1 || p.MaxBatchSize < p.MinBatchSize {
		problems = append(problems, "persist batch bounds must satisfy 1 <= min_batch_size <= max_batch_size")
	}
	if p.InitialBatchSize < p.MinBatchSize || p.InitialBatchSize > p.MaxBatchSize {
		problems = append(problems, "persist.initial_batch_size must lie within the batch bounds")
	}
	if p.DecreaseFactor <= 0 || p.DecreaseFactor >= 1 {
		problems = append(problems, "persist.decrease_factor must be between 0 and 1")
	}
	if p.TargetLatencyMs < 1 {
		problems = append(problems, "persist.target_latency_ms must be > 0")
	}
	if p.Workers < 1 {
		problems = append(problems, "persist.workers must be > 0")
	}
	return problems
}
