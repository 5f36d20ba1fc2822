package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/blitter/internal/blit"
)

// RegionQuota bounds the number of regions pending on one context.
//
// Each context owns a RegionQuota. AddRegion checks it before appending, and
// Configure and Submit reset it because both clear the pending list.
// A limit of zero or less disables the quota.
type RegionQuota struct {
	limit   int
	current int
}

// NewRegionQuota creates a quota with the given limit.
func NewRegionQuota(limit int) *RegionQuota {
	return &RegionQuota{limit: limit}
}

// Check increments the counter and validates against the limit.
// The counter is not incremented when the check fails.
func (q *RegionQuota) Check(id blit.ContextID) error {
	if q.limit > 0 && q.current >= q.limit {
		return &QuotaExceededError{ContextID: id, Count: q.current + 1, Limit: q.limit}
	}
	q.current++
	return nil
}

// Reset sets the counter back to 0.
func (q *RegionQuota) Reset() {
	q.current = 0
}

// Current returns the number of regions counted.
func (q *RegionQuota) Current() int {
	return q.current
}

// Limit returns the configured limit.
func (q *RegionQuota) Limit() int {
	return q.limit
}

// QuotaExceededError is returned when a context queues more regions than
// its quota allows.
type QuotaExceededError struct {
	ContextID blit.ContextID
	Count     int
	Limit     int
}

// Error implements the error interface.
func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("context %s exceeded region quota: %d regions > %d limit",
		e.ContextID, e.Count, e.Limit)
}

// IsQuotaExceededError returns true if the error is a QuotaExceededError.
func IsQuotaExceededError(err error) bool {
	var qe *QuotaExceededError
	return errors.As(err, &qe)
}
