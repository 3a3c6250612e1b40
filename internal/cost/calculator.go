package cost

// Rates holds per-provider pricing configuration.
type Rates struct {
	Anthropic map[string]ModelRate `yaml:"anthropic" mapstructure:"anthropic"`
	OpenAI    map[string]ModelRate `yaml:"openai" mapstructure:"openai"`
}

// ModelRate holds per-model token pricing (per million tokens).
type ModelRate struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// Calculator computes costs for API usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Claude computes the cost for a Claude API call.
func (c *Calculator) Claude(model string, input, output, cacheWrite, cacheRead int) float64 {
	rate, ok := c.rates.Anthropic[model]
	if !ok {
		return 0
	}

	inCost := (float64(input) / 1e6) * rate.Input
	outCost := (float64(output) / 1e6) * rate.Output
	cwCost := (float64(cacheWrite) / 1e6) * rate.Input * rate.CacheWriteMul
	crCost := (float64(cacheRead) / 1e6) * rate.Input * rate.CacheReadMul

	return inCost + outCost + cwCost + crCost
}

// OpenAI computes the cost for an OpenAI chat completion.
func (c *Calculator) OpenAI(model string, input, output int) float64 {
	rate, ok := c.rates.OpenAI[model]
	if !ok {
		return 0
	}
	return (float64(input)/1e6)*rate.Input + (float64(output)/1e6)*rate.Output
}

// Merge returns r with every model in override added or replaced.
func (r Rates) Merge(override Rates) Rates {
	out := Rates{
		Anthropic: make(map[string]ModelRate, len(r.Anthropic)+len(override.Anthropic)),
		OpenAI:    make(map[string]ModelRate, len(r.OpenAI)+len(override.OpenAI)),
	}
	for k, v := range r.Anthropic {
		out.Anthropic[k] = v
	}
	for k, v := range override.Anthropic {
		out.Anthropic[k] = v
	}
	for k, v := range r.OpenAI {
		out.OpenAI[k] = v
	}
	for k, v := range override.OpenAI {
		out.OpenAI[k] = v
	}
	return out
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		Anthropic: map[string]ModelRate{
			"claude-haiku-4-5-20251001": {
				Input: 0.80, Output: 4.00,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
			"claude-sonnet-4-5-20250929": {
				Input: 3.00, Output: 15.00,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
		},
		OpenAI: map[string]ModelRate{
			"gpt-4o-mini": {Input: 0.15, Output: 0.60},
			"gpt-4o":      {Input: 2.50, Output: 10.00},
			"gpt-4.1-mini": {
				Input: 0.40, Output: 1.60,
			},
		},
	}
}
