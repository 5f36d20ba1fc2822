// Package engine implements the blit engine arbiter.
//
// The engine owns one raster device and shares it between any number of
// client contexts. It is the heart of blitter: it admits contexts, turns
// their configuration and regions into jobs, and grants the device to one
// context at a time.
//
// ARCHITECTURE:
//
// Arbiter:
// A single mutex guards the registry and the active slot. The slot moves
// Idle -> Active(context) on Submit or when a completion promotes the next
// backlog entry, and Active -> Idle only through the completion path.
// Submission never waits for the device; a busy engine queues the context
// in a FIFO backlog.
//
// Executor:
// Run is a single goroutine fed by a signal-channel queue. It calls
// Device.Submit exactly once per dispatched job, so device submissions
// never overlap.
//
// Completion:
// Complete is the interrupt-equivalent signal. It stops the device,
// clears the active slot and broadcasts to waiters. It never blocks on a
// waiter.
//
// Waiting:
// Configure, WaitDone, Release and Suspend block on a broadcast condition
// paired with the engine mutex. Every wait is bounded. Waiters re-check
// their predicate under the lock after waking, and a timeout is advisory.
// Release is the exception: a context whose job outlives the wait has that
// job aborted on the device before the context is freed.
//
// CRITICAL PATTERNS:
//
// Logical Clock:
// Every journal entry is stamped from Clock.Next().
// NEVER use wall-clock timestamps for ordering.
//
// Lock order:
// hwMu (device start/abort) is always taken before mu.
package engine
