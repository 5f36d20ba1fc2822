package hal

import "github.com/roach88/blitter/internal/blit"

// Completer receives completion signals from a device.
// fault is nil when the job finished normally. The signal must be raised
// from outside Submit and Stop.
type Completer interface {
	Complete(fault error)
}

// Device is the single raster execution unit.
//
// Submit starts one job. A device that returns an error from Submit never
// raises a completion for that job. Stop finalizes the unit after a
// completion, or aborts the job in flight.
type Device interface {
	Submit(job blit.Job) error
	Stop() error
}

// Cache performs cache maintenance on a memory range.
type Cache interface {
	Maintain(r blit.MemRange, dir blit.CacheDirection) error
}

// Power gates the clock and power domain shared by every context.
type Power interface {
	Enable() error
	Disable() error
}
