// Package source wraps each external origin behind a uniform "fetch up to N
// recent items" capability.
package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/sells-group/saas-radar/internal/model"
	"github.com/sells-group/saas-radar/internal/resilience"
)

// Adapter fetches recent items from one external origin. Zero results is a
// valid empty success. Every failure is returned as a *FetchError.
type Adapter interface {
	ID() string
	Fetch(ctx context.Context, limit int) ([]model.RawRecord, error)
}

// FetchError is a transport, parse or configuration failure of one source.
type FetchError struct {
	SourceID  string
	Cause     error
	Retryable bool
}

func (e *FetchError) Error() string {
	kind := "permanent"
	if e.Retryable {
		kind = "retryable"
	}
	return fmt.Sprintf("source %s: %s: %v", e.SourceID, kind, e.Cause)
}

func (e *FetchError) Unwrap() error {
	return e.Cause
}

// NewFetchError classifies err for sourceID. Transient errors are retryable;
// cancellation and everything else is not.
func NewFetchError(sourceID string, err error) *FetchError {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe
	}
	return &FetchError{
		SourceID:  sourceID,
		Cause:     err,
		Retryable: resilience.IsTransient(err),
	}
}

// IsRetryable reports whether err is a retryable FetchError.
func IsRetryable(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Retryable
}

// misconfigured stands in for a catalog entry that cannot be built. Every
// fetch fails without retry so the coordinator records the problem.
type misconfigured struct {
	id  string
	err error
}

func (m *misconfigured) ID() string { return m.id }

func (m *misconfigured) Fetch(context.Context, int) ([]model.RawRecord, error) {
	return nil, &FetchError{SourceID: m.id, Cause: m.err, Retryable: false}
}
