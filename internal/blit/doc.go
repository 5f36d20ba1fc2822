// Package blit defines the value types shared by every layer of the blit
// arbiter: job descriptors, update regions, surfaces, memory ranges and cache
// maintenance directions, plus the canonical encoding used to derive
// content-addressed job identifiers.
//
// This package imports nothing internal. All other internal packages import
// blit; blit imports none of them.
//
// Key design constraints:
//   - NO float types anywhere - alpha and geometry are int64
//   - Descriptors are values; the engine copies them on Configure
//   - All JSON tags use snake_case
//   - Ordering uses logical sequence numbers (seq), never wall-clock time
package blit
