package engine

import (
	"context"
	"errors"
	"log/slog"
)

// Run starts the executor loop that hands dispatched jobs to the device.
// Blocks until ctx is cancelled or the engine is closed.
//
// CRITICAL: Must be called from exactly ONE goroutine. A single executor is
// what keeps device submissions from overlapping.
//
// ERROR HANDLING: A failed device submission is fatal for that job only.
// The job completes with HARDWARE_FAULT, the engine goes idle and the loop
// continues. Submissions are never retried.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("executor starting")

	for {
		if jr, ok := e.queue.TryDequeue(); ok {
			e.execute(jr)
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("executor stopping: context cancelled")
			return ctx.Err()

		case <-e.queue.Wait():
			// The signal channel closes when the queue is closed, which
			// makes this case fire immediately.
			if e.queue.Closed() && e.queue.Len() == 0 {
				slog.Info("executor stopping: engine closed")
				return nil
			}
		}
	}
}

// execute submits jr to the device exactly once.
func (e *Engine) execute(jr *jobRecord) {
	e.hwMu.Lock()
	defer e.hwMu.Unlock()

	e.mu.Lock()
	if e.activeJob != jr {
		// Aborted between dispatch and execution.
		e.mu.Unlock()
		slog.Debug("skipping aborted job", "context", jr.job.ContextID, "job", jr.job.ID)
		return
	}
	jr.started = true
	e.mu.Unlock()

	slog.Debug("submitting job",
		"context", jr.job.ContextID,
		"job", jr.job.ID,
		"seq", jr.job.Seq,
		"op", jr.job.Descriptor.Op,
		"regions", len(jr.job.Regions),
	)

	err := e.device.Submit(jr.job)
	if err == nil {
		return
	}

	slog.Error("device submit failed",
		"context", jr.job.ContextID,
		"job", jr.job.ID,
		"error", err,
	)

	// The device raises no completion for a rejected job, so finish it here.
	if stopErr := e.device.Stop(); stopErr != nil {
		err = errors.Join(err, stopErr)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.activeJob == jr {
		e.finishLocked(jr, hardwareFault(jr.job.ContextID, jr.job.ID, "device submit failed", err))
	}
}

// abort stops c's running job and completes it with TIMEOUT.
// Caller must not hold e.mu.
func (e *Engine) abort(c *contextState) {
	e.hwMu.Lock()
	defer e.hwMu.Unlock()

	e.mu.Lock()
	jr := e.activeJob
	if jr == nil || jr.ctx != c {
		e.mu.Unlock()
		return
	}
	started := jr.started
	e.mu.Unlock()

	var stopErr error
	if started {
		stopErr = e.device.Stop()
		if stopErr != nil {
			slog.Error("device stop failed during abort", "context", c.id, "job", jr.job.ID, "error", stopErr)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.activeJob != jr {
		// The completion signal won the race.
		return
	}
	e.stats.Aborted++
	e.record(KindAbort, c.id, &jr.job, "")
	slog.Warn("job aborted", "context", c.id, "job", jr.job.ID, "started", started)

	e.finishLocked(jr, &Error{
		Code:      ErrCodeTimeout,
		Message:   "job aborted after wait timeout",
		ContextID: c.id,
		JobID:     jr.job.ID,
		Err:       stopErr,
	})
}
