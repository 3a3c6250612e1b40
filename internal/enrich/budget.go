package enrich

import (
	"sync"

	"github.com/rotisserie/eris"
)

// ErrBudgetExceeded is returned by Reserve once the spend ceiling is reached.
var ErrBudgetExceeded = eris.New("enrich: inference budget exceeded")

// Budget is the run's inference spend counter. Workers reserve an estimate
// before each call and settle it with the actual cost afterwards, so
// concurrent batches can overshoot the ceiling by at most one estimate.
type Budget struct {
	mu       sync.Mutex
	ceiling  float64
	spent    float64
	reserved float64
}

// NewBudget creates a Budget. A ceiling <= 0 means unlimited.
func NewBudget(ceilingUSD float64) *Budget {
	return &Budget{ceiling: ceilingUSD}
}

// Reserve claims estimate dollars, or fails with ErrBudgetExceeded when
// spent plus outstanding reservations already reach the ceiling.
func (b *Budget) Reserve(estimate float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ceiling > 0 && b.spent+b.reserved >= b.ceiling {
		return ErrBudgetExceeded
	}
	b.reserved += estimate
	return nil
}

// Settle releases a reservation and records what the call actually cost.
func (b *Budget) Settle(estimate, actual float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reserved -= estimate
	if b.reserved < 0 {
		b.reserved = 0
	}
	b.spent += actual
}

// Spent returns the settled spend.
func (b *Budget) Spent() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.spent
}

// Remaining returns the unspent, unreserved amount, or -1 when unlimited.
func (b *Budget) Remaining() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ceiling <= 0 {
		return -1
	}
	return max(0, b.ceiling-b.spent-b.reserved)
}
