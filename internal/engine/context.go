package engine

import "github.com/roach88/blitter/internal/blit"

// contextState is one admitted client context.
// All fields are guarded by Engine.mu.
type contextState struct {
	id      blit.ContextID
	desc    *blit.Descriptor
	regions []blit.Region
	quota   *RegionQuota

	// jobs holds submitted jobs not yet dispatched, oldest first.
	jobs []*jobRecord
	seq  int64

	// queued is true while the context sits in the engine backlog.
	queued bool

	// releasing is set once Release starts. The context is never
	// dispatched again and new work is refused.
	releasing bool
	released  bool

	// lastFault is the failure of the most recent job, reported once to
	// the next WaitDone.
	lastFault *Error
	lastJobID string
}

func newContextState(id blit.ContextID, maxRegions int) *contextState {
	return &contextState{
		id:    id,
		quota: NewRegionQuota(maxRegions),
	}
}

// idle reports whether the context has no job running or waiting.
func (c *contextState) idle(active *contextState) bool {
	return active != c && len(c.jobs) == 0
}

// jobRecord tracks one job from submission to completion.
type jobRecord struct {
	job blit.Job
	ctx *contextState

	// started is set by the executor, under Engine.mu, just before the
	// job is handed to the device.
	started bool
}
