package engine

import (
	"context"
	"time"
)

// notifier is a broadcast condition paired with Engine.mu.
//
// Waiters take the current channel under the lock, release the lock and
// block on it. broadcast closes the channel and installs a fresh one, which
// wakes every waiter at once. Waiters always re-check their predicate after
// waking.
type notifier struct {
	ch chan struct{}
}

func newNotifier() *notifier {
	return &notifier{ch: make(chan struct{})}
}

// wait returns the channel the next broadcast will close.
// Caller must hold Engine.mu.
func (n *notifier) wait() <-chan struct{} {
	return n.ch
}

// broadcast wakes every waiter.
// Caller must hold Engine.mu and must have committed the state change.
func (n *notifier) broadcast() {
	close(n.ch)
	n.ch = make(chan struct{})
}

// waitLocked blocks until cond holds, timeout elapses or ctx is done.
//
// Caller must hold e.mu; waitLocked returns with e.mu held in every case so
// the caller can re-evaluate state. A timeout is reported through timedOut
// and is not an error.
func (e *Engine) waitLocked(ctx context.Context, timeout time.Duration, cond func() bool) (timedOut bool, err error) {
	if cond() {
		return false, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for !cond() {
		ch := e.notify.wait()
		e.mu.Unlock()

		select {
		case <-ch:
			e.mu.Lock()
		case <-timer.C:
			e.mu.Lock()
			return !cond(), nil
		case <-ctx.Done():
			e.mu.Lock()
			return false, ctx.Err()
		}
	}
	return false, nil
}
