package engine

import (
	"errors"
	"log/slog"
)

// Complete is the completion signal raised by the device when the running
// job finishes or is stopped. fault is nil on success.
//
// Complete finalizes the device, performs Active -> Idle and wakes every
// waiter. It may be called from any goroutine and never waits on a waiter.
// A signal with no job on the device is counted as spurious and ignored.
//
// The device is stopped under hwMu, after re-checking that the job is still
// current, so a late signal can never stop the job that replaced it.
func (e *Engine) Complete(fault error) {
	e.hwMu.Lock()
	defer e.hwMu.Unlock()

	e.mu.Lock()
	jr := e.activeJob
	if jr == nil || !jr.started {
		e.stats.Spurious++
		e.record(KindSpurious, "", nil, "")
		e.mu.Unlock()
		slog.Warn("spurious completion", "fault", fault)
		return
	}
	e.mu.Unlock()

	stopErr := e.device.Stop()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.activeJob != jr {
		// Started jobs are only finished under hwMu.
		return
	}

	if fault == nil && stopErr == nil {
		slog.Debug("job complete", "context", jr.job.ContextID, "job", jr.job.ID)
		e.finishLocked(jr, nil)
		return
	}

	cause := errors.Join(fault, stopErr)
	slog.Error("job failed", "context", jr.job.ContextID, "job", jr.job.ID, "error", cause)
	msg := "device reported fault"
	if fault == nil {
		msg = "device stop failed"
	}
	e.finishLocked(jr, hardwareFault(jr.job.ContextID, jr.job.ID, msg, cause))
}
