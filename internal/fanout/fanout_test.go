package fanout

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunIsolatesFailures(t *testing.T) {
	items := []string{"ok-1", "boom", "panic", "ok-2"}
	var calls atomic.Int32

	outcomes := Run(context.Background(), items, Options{Workers: 2}, func(ctx context.Context, item string) error {
		calls.Add(1)
		switch item {
		case "boom":
			return errors.New("boom")
		case "panic":
			panic("kaboom")
		}
		return nil
	})

	require.Len(t, outcomes, 4)
	assert.Equal(t, int32(4), calls.Load())
	assert.NoError(t, outcomes[0].Err)
	assert.EqualError(t, outcomes[1].Err, "boom")
	assert.ErrorContains(t, outcomes[2].Err, "panic")
	assert.NoError(t, outcomes[3].Err)
	assert.Len(t, Failed(outcomes), 2)
	for _, o := range outcomes {
		assert.True(t, o.Done)
	}
}

func TestRunTaskTimeout(t *testing.T) {
	outcomes := Run(context.Background(), []int{1, 2}, Options{TaskTimeout: 20 * time.Millisecond}, func(ctx context.Context, item int) error {
		if item == 1 {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	})

	assert.ErrorIs(t, outcomes[0].Err, context.DeadlineExceeded)
	assert.NoError(t, outcomes[1].Err)
}

func TestRunOverallDeadlineReturnsEarly(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	start := time.Now()
	outcomes := Run(context.Background(), []int{1, 2}, Options{Deadline: 30 * time.Millisecond}, func(ctx context.Context, item int) error {
		if item == 1 {
			select {
			case <-block:
			case <-time.After(5 * time.Second):
			}
		}
		return nil
	})

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.ErrorIs(t, outcomes[0].Err, ErrDeadline)
	assert.False(t, outcomes[0].Done)
	assert.NoError(t, outcomes[1].Err)
}

func TestRunBoundsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	items := make([]int, 10)

	Run(context.Background(), items, Options{Workers: 3}, func(ctx context.Context, _ int) error {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return nil
	})

	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestRunEmpty(t *testing.T) {
	outcomes := Run(context.Background(), []int(nil), Options{}, func(ctx context.Context, _ int) error { return nil })
	assert.Empty(t, outcomes)
}
