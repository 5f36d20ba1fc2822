package store

import (
	"context"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/blitter/internal/engine"
	"github.com/roach88/blitter/internal/hal"
)

func TestRecorder_FlushWritesEntries(t *testing.T) {
	s := createTestStore(t)
	r := NewRecorder(s)
	ctx := context.Background()

	for _, e := range jobEntries("c1", "job-1", 1, 1, engine.KindComplete) {
		r.Record(e)
	}
	require.NoError(t, r.Flush(ctx))
	assert.Equal(t, int64(3), r.Written())

	job, err := s.ReadJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeOK, job.Outcome)
}

func TestRecorder_RunDrainsUntilClose(t *testing.T) {
	s := createTestStore(t)
	r := NewRecorder(s)

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	r.Record(engine.Entry{Seq: 1, Kind: engine.KindAdmit, ContextID: "c1"})
	r.Record(engine.Entry{Seq: 2, Kind: engine.KindRelease, ContextID: "c1"})
	r.Close()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}

	events, err := s.ReadEvents(context.Background(), EventFilter{})
	require.NoError(t, err)
	assert.Len(t, events, 2)

	r.Record(engine.Entry{Seq: 3, Kind: engine.KindAdmit})
	assert.Equal(t, int64(1), r.Dropped(), "entries after close are dropped")
}

func TestRecorder_RunFlushesOnCancel(t *testing.T) {
	s := createTestStore(t)
	r := NewRecorder(s)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	r.Record(engine.Entry{Seq: 1, Kind: engine.KindAdmit, ContextID: "c1"})
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	seq, err := s.LastSeq(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq)
}

func TestRecorder_MaxPending(t *testing.T) {
	s := createTestStore(t)
	r := NewRecorder(s, WithMaxPending(2))

	for i := int64(1); i <= 5; i++ {
		r.Record(engine.Entry{Seq: i, Kind: engine.KindCache})
	}
	assert.Equal(t, int64(3), r.Dropped())

	require.NoError(t, r.Flush(context.Background()))
	assert.Equal(t, int64(2), r.Written())
}

func TestRecorder_BreakerOpensOnFailingStore(t *testing.T) {
	s := createTestStore(t)
	r := NewRecorder(s, WithBreaker(2, time.Hour))
	ctx := context.Background()

	// A closed database fails every write.
	require.NoError(t, s.Close())

	for i := int64(1); i <= 2; i++ {
		r.Record(engine.Entry{Seq: i, Kind: engine.KindAdmit})
		require.Error(t, r.Flush(ctx))
	}
	assert.Equal(t, gobreaker.StateOpen, r.BreakerState())

	r.Record(engine.Entry{Seq: 3, Kind: engine.KindAdmit})
	err := r.Flush(ctx)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int64(3), r.Dropped())
	assert.Equal(t, int64(0), r.Written())
}

// The recorder is a drop-in engine journal.
func TestRecorder_AsEngineJournal(t *testing.T) {
	s := createTestStore(t)
	r := NewRecorder(s)

	dev := hal.NewSimDevice()
	e := engine.New(dev, engine.WithJournal(r), engine.WithIDGenerator(engine.NewFixedGenerator("ctx-1")))
	dev.Attach(e)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = e.Run(ctx) }()

	id, err := e.Admit()
	require.NoError(t, err)
	require.NoError(t, e.Configure(ctx, id, engineDescriptor()))
	jobID, err := e.Submit(id)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return dev.InFlight() == 1 }, time.Second, time.Millisecond)
	dev.Fire(nil)
	_, err = e.WaitDone(ctx, id)
	require.NoError(t, err)
	require.NoError(t, e.Release(ctx, id))

	require.NoError(t, r.Flush(ctx))

	job, err := s.ReadJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeOK, job.Outcome)
	assert.Equal(t, "ctx-1", string(job.ContextID))

	events, err := s.ReadEvents(ctx, EventFilter{ContextID: id})
	require.NoError(t, err)
	kinds := make([]engine.Kind, len(events))
	for i, ev := range events {
		kinds[i] = ev.Kind
	}
	assert.Equal(t, []engine.Kind{
		engine.KindAdmit, engine.KindConfigure, engine.KindSubmit,
		engine.KindDispatch, engine.KindComplete, engine.KindRelease,
	}, kinds)
}
