// Package fanout runs isolated units of work concurrently on a bounded pool.
//
// Every unit gets its own timeout and its own error slot; a panic or error in
// one unit never reaches its siblings or the caller. Run returns once every
// unit finished or the overall deadline passed, whichever comes first. Units
// still running at the deadline see their context cancelled and are reported
// as timed out.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrDeadline marks a unit that had not finished when the overall deadline hit.
var ErrDeadline = errors.New("fanout: overall deadline exceeded")

// Options bound a Run.
type Options struct {
	// Workers caps concurrency. Zero means one goroutine per unit.
	Workers int
	// TaskTimeout bounds each unit. Zero means no per-unit timeout.
	TaskTimeout time.Duration
	// Deadline bounds the whole run. Zero means wait for every unit.
	Deadline time.Duration
}

// Outcome is the result of one unit, in input order.
type Outcome[T any] struct {
	Item     T
	Err      error
	Duration time.Duration
	Done     bool
}

// Run applies fn to every item and collects the outcomes.
func Run[T any](ctx context.Context, items []T, opts Options, fn func(ctx context.Context, item T) error) []Outcome[T] {
	outcomes := make([]Outcome[T], len(items))
	for i, item := range items {
		outcomes[i] = Outcome[T]{Item: item, Err: ErrDeadline}
	}
	if len(items) == 0 {
		return outcomes
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	workers := opts.Workers
	if workers <= 0 || workers > len(items) {
		workers = len(items)
	}
	sem := make(chan struct{}, workers)

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for i, item := range items {
		wg.Add(1)
		go func(i int, item T) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-runCtx.Done():
				return
			}
			defer func() { <-sem }()

			start := time.Now()
			err := runOne(runCtx, opts.TaskTimeout, item, fn)

			mu.Lock()
			outcomes[i] = Outcome[T]{Item: item, Err: err, Duration: time.Since(start), Done: true}
			mu.Unlock()
		}(i, item)
	}

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()

	var deadline <-chan time.Time
	if opts.Deadline > 0 {
		timer := time.NewTimer(opts.Deadline)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case <-finished:
	case <-deadline:
	case <-ctx.Done():
	}

	mu.Lock()
	defer mu.Unlock()
	snapshot := make([]Outcome[T], len(outcomes))
	copy(snapshot, outcomes)
	return snapshot
}

func runOne[T any](ctx context.Context, timeout time.Duration, item T, fn func(ctx context.Context, item T) error) (err error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("fanout: panic: %v", r)
			}
		}()
		done <- fn(ctx, item)
	}()

	select {
	case err = <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Failed returns the outcomes that did not succeed.
func Failed[T any](outcomes []Outcome[T]) []Outcome[T] {
	var out []Outcome[T]
	for _, o := range outcomes {
		if o.Err != nil {
			out = append(out, o)
		}
	}
	return out
}
