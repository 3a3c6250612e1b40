package persist

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// ControllerConfig bounds the adaptive batch size.
type ControllerConfig struct {
	Initial int
	Min     int
	Max     int
	// Step is added to the size after a fast write.
	Step int
	// DecreaseFactor multiplies the size after a slow or failed write.
	DecreaseFactor float64
	// TargetLatency is the write latency the controller steers towards.
	TargetLatency time.Duration
}

func (c ControllerConfig) withDefaults() ControllerConfig {
	if c.Min <= 0 {
		c.Min = 5
	}
	if c.Max < c.Min {
		c.Max = max(500, c.Min)
	}
	if c.Initial <= 0 {
		c.Initial = 50
	}
	c.Initial = min(max(c.Initial, c.Min), c.Max)
	if c.Step <= 0 {
		c.Step = 10
	}
	if c.DecreaseFactor <= 0 || c.DecreaseFactor >= 1 {
		c.DecreaseFactor = 0.5
	}
	if c.TargetLatency <= 0 {
		c.TargetLatency = 2 * time.Second
	}
	return c
}

// Controller is an additive-increase/multiplicative-decrease loop over the
// persistence batch size. Each observed write is scaled to the current size
// using its measured throughput:
//
//	projected < target/2      size += Step
//	projected >= 0.8*target   size *= DecreaseFactor
//	failed write              size *= DecreaseFactor
//
// and the size is held otherwise. The size always stays within [Min, Max].
type Controller struct {
	mu   sync.Mutex
	cfg  ControllerConfig
	size int
}

// NewController creates a Controller starting at cfg.Initial.
func NewController(cfg ControllerConfig) *Controller {
	cfg = cfg.withDefaults()
	return &Controller{cfg: cfg, size: cfg.Initial}
}

// Size returns the batch size for the next write.
func (c *Controller) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Config returns the effective configuration.
func (c *Controller) Config() ControllerConfig {
	return c.cfg
}

// Observe feeds one write of n records that took took back into the loop and
// returns the new size.
func (c *Controller) Observe(n int, took time.Duration, err error) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.size
	switch {
	case err != nil:
		c.decrease()
	case n <= 0:
	default:
		projected := time.Duration(float64(took) * float64(c.size) / float64(n))
		switch {
		case projected >= c.cfg.TargetLatency*8/10:
			c.decrease()
		case projected < c.cfg.TargetLatency/2:
			c.size = min(c.cfg.Max, c.size+c.cfg.Step)
		}
	}

	if c.size != prev {
		zap.L().Debug("persist: batch size adjusted",
			zap.Int("from", prev),
			zap.Int("to", c.size),
			zap.Int("records", n),
			zap.Duration("took", took),
			zap.Bool("failed", err != nil),
		)
	}
	return c.size
}

func (c *Controller) decrease() {
	c.size = max(c.cfg.Min, int(float64(c.size)*c.cfg.DecreaseFactor))
}
