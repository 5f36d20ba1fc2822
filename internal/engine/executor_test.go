package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/blitter/internal/blit"
	"github.com/roach88/blitter/internal/hal"
)

// startExecutor runs e.Run in a goroutine and returns its result channel.
func startExecutor(ctx context.Context, e *Engine) <-chan error {
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	return done
}

func TestExecutor_StopsOnContextCancel(t *testing.T) {
	dev := hal.NewSimDevice()
	e := New(dev)
	dev.Attach(e)

	ctx, cancel := context.WithCancel(context.Background())
	done := startExecutor(ctx, e)
	cancel()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(time.Second):
		t.Fatal("executor did not stop after cancel")
	}
}

func TestExecutor_StopsOnClose(t *testing.T) {
	dev := hal.NewSimDevice()
	e := New(dev)
	dev.Attach(e)

	done := startExecutor(context.Background(), e)
	require.NoError(t, e.Close())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("executor did not stop after close")
	}
}

func TestExecutor_SkipsJobAbortedBeforeStart(t *testing.T) {
	dev := hal.NewSimDevice()
	journal := NewMemoryJournal()
	e := New(dev, WithJournal(journal), WithWaitTimeout(20*time.Millisecond))
	dev.Attach(e)

	// The executor is not running yet, so the dispatched job never starts.
	stale, err := e.Admit()
	require.NoError(t, err)
	require.NoError(t, e.Configure(context.Background(), stale, testDescriptor()))
	_, err = e.Submit(stale)
	require.NoError(t, err)
	assert.Equal(t, stale, e.Active())

	require.NoError(t, e.Release(context.Background(), stale))
	assert.Equal(t, blit.ContextID(""), e.Active())
	assert.Zero(t, dev.Stops(), "an unstarted job needs no device stop")

	ctx, cancel := context.WithCancel(context.Background())
	done := startExecutor(ctx, e)
	t.Cleanup(func() {
		cancel()
		<-done
	})

	live, err := e.Admit()
	require.NoError(t, err)
	require.NoError(t, e.Configure(context.Background(), live, testDescriptor()))
	jobID, err := e.Submit(live)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return dev.InFlight() == 1 },
		time.Second, time.Millisecond)
	jobs := dev.Jobs()
	require.Len(t, jobs, 1, "the aborted job must never reach the device")
	assert.Equal(t, jobID, jobs[0].ID)

	dev.Fire(nil)
	_, err = e.WaitDone(context.Background(), live)
	require.NoError(t, err)

	stats := e.Stats()
	assert.Equal(t, int64(1), stats.Aborted)
	assert.Equal(t, int64(1), stats.Completed)
	assert.Contains(t, journal.Kinds(stale), KindAbort)
}

func TestExecutor_SubmitFailureThenStopFailure(t *testing.T) {
	e := newTestEngine(t, nil)
	id := admitConfigured(t, e)

	e.dev.FailNextSubmit(hal.ErrSimFault)
	stopErr := errors.New("stop wedged")
	e.dev.FailNextStop(stopErr)

	_, err := e.Submit(id)
	require.NoError(t, err)

	_, err = e.WaitDone(context.Background(), id)
	require.Error(t, err)
	assert.True(t, IsHardwareFault(err))
	assert.ErrorIs(t, err, hal.ErrSimFault)
	assert.ErrorIs(t, err, stopErr)
	assert.Equal(t, 1, e.dev.Stops())
}

// gatedStopDevice blocks its first Stop until gate is closed.
type gatedStopDevice struct {
	*hal.SimDevice
	once    sync.Once
	entered chan struct{}
	gate    chan struct{}
}

func (d *gatedStopDevice) Stop() error {
	d.once.Do(func() {
		close(d.entered)
		<-d.gate
	})
	return d.SimDevice.Stop()
}

func TestComplete_LateStopNeverHitsNextJob(t *testing.T) {
	dev := &gatedStopDevice{
		SimDevice: hal.NewSimDevice(),
		entered:   make(chan struct{}),
		gate:      make(chan struct{}),
	}
	journal := NewMemoryJournal()
	e := New(dev, WithJournal(journal), WithWaitTimeout(50*time.Millisecond))
	dev.Attach(e)

	ctx, cancel := context.WithCancel(context.Background())
	done := startExecutor(ctx, e)
	t.Cleanup(func() {
		cancel()
		<-done
	})

	a, err := e.Admit()
	require.NoError(t, err)
	require.NoError(t, e.Configure(context.Background(), a, testDescriptor()))
	b, err := e.Admit()
	require.NoError(t, err)
	require.NoError(t, e.Configure(context.Background(), b, testDescriptor()))

	_, err = e.Submit(a)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return dev.InFlight() == 1 },
		time.Second, time.Millisecond)
	_, err = e.Submit(b)
	require.NoError(t, err)

	// A's completion signal stalls inside the device stop.
	go dev.Fire(nil)
	<-dev.entered

	released := make(chan error, 1)
	go func() { released <- e.Release(context.Background(), a) }()

	require.Eventually(t, func() bool { return journal.Count(KindTimeout) == 1 },
		time.Second, time.Millisecond, "release never timed out")
	close(dev.gate)
	require.NoError(t, <-released)

	require.Eventually(t, func() bool { return dev.InFlight() == 1 },
		time.Second, time.Millisecond, "B never reached the device")
	assert.Equal(t, b, e.Active())

	dev.Fire(nil)
	res, err := e.WaitDone(context.Background(), b)
	require.NoError(t, err)
	assert.False(t, res.TimedOut)
	assert.Equal(t, blit.ContextID(""), e.Active())

	stats := e.Stats()
	assert.Equal(t, int64(2), stats.Completed)
	assert.Zero(t, stats.Aborted)
}
