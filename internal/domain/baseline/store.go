package baseline

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Store persists baselines. Implementations return ErrNotFound (possibly
// wrapped) from Load when the identity has no baseline.
type Store interface {
	Load(ctx context.Context, identity string) (Baseline, error)
	Save(ctx context.Context, b Baseline) error
	Delete(ctx context.Context, identity string) error
}

// Status is the outcome of a scoring-time lookup.
type Status string

const (
	StatusFound          Status = "found"
	StatusUnavailable    Status = "unavailable"
	StatusAdapterFailure Status = "adapter_failure"
)

type loadResult struct {
	b   Baseline
	err error
}

// Lookup loads the baseline of identity for scoring. It never fails: a
// missing baseline yields StatusUnavailable and any store error, panic or
// timeout yields StatusAdapterFailure with the cause returned for logging.
// A non-positive timeout only honors ctx.
func Lookup(ctx context.Context, store Store, identity string, timeout time.Duration) (*Baseline, Status, error) {
	if store == nil {
		return nil, StatusUnavailable, nil
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan loadResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- loadResult{err: fmt.Errorf("baseline store panic: %v", r)}
			}
		}()
		b, err := store.Load(ctx, identity)
		done <- loadResult{b: b, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, StatusAdapterFailure, ctx.Err()
	case res := <-done:
		switch {
		case errors.Is(res.err, ErrNotFound):
			return nil, StatusUnavailable, nil
		case res.err != nil:
			return nil, StatusAdapterFailure, res.err
		}
		return &res.b, StatusFound, nil
	}
}
