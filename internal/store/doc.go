// Package store provides SQLite-backed durable storage for the engine journal.
//
// The store keeps two tables:
//   - events: every journal entry, keyed by seq
//   - jobs: one row per submitted job, folded from its entries
//     (submit, dispatch, complete, fault, abort, discard)
//
// # Critical Patterns
//
// Logical time:
//   - All ordering uses seq INTEGER (logical clock), NEVER timestamps
//   - All queries MUST include ORDER BY seq ASC
//
// Idempotent writes:
//   - Entries and job rows use ON CONFLICT DO NOTHING, so replaying a
//     batch after a partial failure is safe
//
// Non-blocking recording:
//   - The engine records from its lock and its completion path. Recorder
//     buffers entries in memory and writes them from its own goroutine
//     through a circuit breaker, shedding entries while the database is
//     failing
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
package store
