package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/medspa-scheduling/internal/scheduler"
	"github.com/wolfman30/medspa-scheduling/pkg/logging"
)

type fakeRunner struct {
	ticks    []time.Time
	cleanups []time.Time
	err      error
}

func (f *fakeRunner) Tick(ctx context.Context, ref time.Time) (*scheduler.TickReport, error) {
	f.ticks = append(f.ticks, ref)
	if f.err != nil {
		return nil, f.err
	}
	return &scheduler.TickReport{Ref: ref}, nil
}

func (f *fakeRunner) Cleanup(ctx context.Context, now time.Time) (*scheduler.CleanupReport, error) {
	f.cleanups = append(f.cleanups, now)
	if f.err != nil {
		return nil, f.err
	}
	return &scheduler.CleanupReport{Cutoff: now}, nil
}

func TestHandleTick(t *testing.T) {
	runner := &fakeRunner{}
	at := time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)

	out, err := handle(context.Background(), runner, logging.Discard(), events.CloudWatchEvent{
		ID:         "evt-1",
		DetailType: "Scheduled Event",
		Time:       at,
	})
	require.NoError(t, err)
	assert.Equal(t, []time.Time{at}, runner.ticks)
	assert.Empty(t, runner.cleanups)
	assert.Equal(t, at, out.(*scheduler.TickReport).Ref)
}

func TestHandleCleanup(t *testing.T) {
	runner := &fakeRunner{}

	_, err := handle(context.Background(), runner, logging.Discard(), events.CloudWatchEvent{DetailType: cleanupDetailType})
	require.NoError(t, err)
	assert.Len(t, runner.cleanups, 1)
	assert.False(t, runner.cleanups[0].IsZero())
	assert.Empty(t, runner.ticks)
}

func TestHandlePropagatesErrors(t *testing.T) {
	runner := &fakeRunner{err: errors.New("settings unavailable")}

	_, err := handle(context.Background(), runner, logging.Discard(), events.CloudWatchEvent{Time: time.Now()})
	assert.ErrorContains(t, err, "scheduler tick: settings unavailable")
}
