package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(threshold int, reset time.Duration) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: threshold, ResetTimeout: reset})
	cb.nowFunc = clock.Now
	return cb, clock
}

func fail(_ context.Context) error { return errors.New("inference 503") }
func succeed(_ context.Context) error { return nil }

func TestCircuitBreaker_ClosedPassesThrough(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Minute)

	var calls int
	err := cb.Execute(context.Background(), func(_ context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if cb.State() != CircuitClosed {
		t.Errorf("expected closed, got %s", cb.State())
	}
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Minute)

	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), fail)
	}
	if cb.State() != CircuitOpen {
		t.Fatalf("expected open after 3 failures, got %s", cb.State())
	}

	err := cb.Execute(context.Background(), func(_ context.Context) error {
		t.Error("should not be called when circuit is open")
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestCircuitBreaker_SuccessResetsCount(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Minute)

	_ = cb.Execute(context.Background(), fail)
	_ = cb.Execute(context.Background(), fail)
	_ = cb.Execute(context.Background(), succeed)
	_ = cb.Execute(context.Background(), fail)

	if cb.State() != CircuitClosed {
		t.Errorf("expected closed, got %s", cb.State())
	}
	if cb.Failures() != 1 {
		t.Errorf("expected 1 failure, got %d", cb.Failures())
	}
}

func TestCircuitBreaker_HalfOpenProbeCloses(t *testing.T) {
	cb, clock := newTestBreaker(1, time.Minute)

	_ = cb.Execute(context.Background(), fail)
	if cb.State() != CircuitOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}

	clock.Advance(time.Minute)
	if cb.State() != CircuitHalfOpen {
		t.Fatalf("expected half-open after reset timeout, got %s", cb.State())
	}

	if err := cb.Execute(context.Background(), succeed); err != nil {
		t.Fatalf("probe should pass: %v", err)
	}
	if cb.State() != CircuitClosed {
		t.Errorf("expected closed after successful probe, got %s", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenProbeFailureReopens(t *testing.T) {
	cb, clock := newTestBreaker(2, time.Minute)

	_ = cb.Execute(context.Background(), fail)
	_ = cb.Execute(context.Background(), fail)
	clock.Advance(2 * time.Minute)

	_ = cb.Execute(context.Background(), fail)
	if cb.State() != CircuitOpen {
		t.Errorf("expected reopened, got %s", cb.State())
	}

	clock.Advance(30 * time.Second)
	if err := cb.Execute(context.Background(), succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected rejection before reset timeout, got %v", err)
	}
}

func TestCircuitBreaker_SingleProbeInHalfOpen(t *testing.T) {
	cb, clock := newTestBreaker(1, time.Minute)
	_ = cb.Execute(context.Background(), fail)
	clock.Advance(time.Minute)

	probing := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(context.Background(), func(_ context.Context) error {
			close(probing)
			<-release
			return nil
		})
	}()
	<-probing

	if err := cb.Execute(context.Background(), succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected concurrent call rejected while probing, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("probe failed: %v", err)
	}
	if cb.State() != CircuitClosed {
		t.Errorf("expected closed, got %s", cb.State())
	}
}

func TestCircuitBreaker_CancellationDoesNotTrip(t *testing.T) {
	cb, _ := newTestBreaker(1, time.Minute)
	_ = cb.Execute(context.Background(), func(_ context.Context) error { return context.Canceled })
	if cb.State() != CircuitClosed {
		t.Errorf("cancellation should not open the circuit, got %s", cb.State())
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	var transitions []string
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     time.Minute,
		OnStateChange: func(from, to CircuitState) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})
	clock := &fakeClock{now: time.Now()}
	cb.nowFunc = clock.Now

	_ = cb.Execute(context.Background(), fail)
	clock.Advance(time.Minute)
	_ = cb.Execute(context.Background(), succeed)

	want := []string{"closed->open", "open->half-open", "half-open->closed"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, transitions[i], want[i])
		}
	}
}

func TestExecuteVal(t *testing.T) {
	cb, _ := newTestBreaker(2, time.Minute)
	v, err := ExecuteVal(context.Background(), cb, func(_ context.Context) (int, error) {
		return 42, nil
	})
	if err != nil || v != 42 {
		t.Errorf("ExecuteVal = %d, %v", v, err)
	}
}

func TestFromCircuitConfig(t *testing.T) {
	cfg := FromCircuitConfig(5, 10)
	if cfg.FailureThreshold != 5 || cfg.ResetTimeout != 10*time.Second {
		t.Errorf("unexpected config %+v", cfg)
	}
	def := FromCircuitConfig(0, 0)
	if def.FailureThreshold != 3 || def.ResetTimeout != time.Minute {
		t.Errorf("expected defaults, got %+v", def)
	}
}
