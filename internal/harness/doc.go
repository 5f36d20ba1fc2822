// Package harness runs blit scenarios against a real engine.
//
// A scenario builds an engine over a manual simulated device, drives it
// through a device.Node with a scripted list of steps, and checks the
// resulting journal. Completion interrupts are raised explicitly by fire and
// fault steps, so every run of a scenario produces the same trace.
//
// # Scenario Format
//
//	name: two_sessions_round_robin
//	description: "Two sessions share the engine in submission order"
//	config:
//	  wait_timeout: 100ms
//	steps:
//	  - { session: a, op: open }
//	  - { session: a, op: configure }
//	  - { session: a, op: region, args: { src: { w: 8, h: 8 }, dst: { w: 8, h: 8 } } }
//	  - { session: a, op: submit }
//	  - { session: a, op: close, async: true }
//	  - { op: fire }
//	  - { op: join }
//	assertions:
//	  - type: trace_order
//	    kinds: [submit, dispatch, complete, release]
//	  - type: final_state
//	    source: stats
//	    expect: { contexts: 0, completed: 1 }
//
// Steps run in order. An async step runs on its own goroutine and is checked
// at the next join step (or when the scenario ends). expect is "ok" (the
// default) or an error code such as BUSY or TIMEOUT. A wait step that times
// out matches TIMEOUT.
//
// # Trace
//
// The trace is the engine journal with session aliases in place of context
// IDs and per-context job numbers in place of job IDs. Seqs come from a
// resettable test clock, so traces can be compared against golden files.
//
// # Assertion Types
//
//   - trace_contains: an entry with the given kind (and session/detail) exists
//   - trace_order: first occurrences of kinds appear in order
//   - trace_count: a kind appears exactly N times
//   - final_state: engine stats or journaled job outcomes match expect
package harness
