package hal

import (
	"errors"
	"sync"
	"time"

	"github.com/roach88/blitter/internal/blit"
)

// ErrSimFault is the fault the simulated device reports when none is given.
var ErrSimFault = errors.New("simulated device fault")

type simJob struct {
	gen uint64
	job blit.Job
}

// SimDevice is an in-process Device.
//
// In manual mode (the default) a submitted job stays in flight until Fire is
// called. With WithLatency the device completes each job on its own after
// the latency elapses. The device tracks how many jobs are in flight at once
// so callers can check that submissions never overlap.
type SimDevice struct {
	mu        sync.Mutex
	completer Completer
	latency   time.Duration

	gen         uint64
	pending     []simJob
	jobs        []blit.Job
	inFlight    int
	maxInFlight int
	stops       int
	aborted     int

	submitErrs []error
	stopErrs   []error
	faults     []error
}

// SimOption configures a SimDevice.
type SimOption func(*SimDevice)

// WithLatency makes the device complete each job after d.
// A zero duration keeps the device in manual mode.
func WithLatency(d time.Duration) SimOption {
	return func(s *SimDevice) {
		s.latency = d
	}
}

// NewSimDevice creates a simulated device.
func NewSimDevice(opts ...SimOption) *SimDevice {
	d := &SimDevice{}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Attach sets the receiver of completion signals.
func (d *SimDevice) Attach(c Completer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.completer = c
}

// Submit starts a job.
func (d *SimDevice) Submit(job blit.Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.jobs = append(d.jobs, job)
	if len(d.submitErrs) > 0 {
		err := d.submitErrs[0]
		d.submitErrs = d.submitErrs[1:]
		return err
	}

	d.gen++
	d.pending = append(d.pending, simJob{gen: d.gen, job: job})
	d.inFlight++
	if d.inFlight > d.maxInFlight {
		d.maxInFlight = d.inFlight
	}

	if d.latency > 0 {
		gen := d.gen
		time.AfterFunc(d.latency, func() { d.finish(gen) })
	}
	return nil
}

// Stop finalizes the unit. A job still in flight is aborted and will never
// raise a completion.
func (d *SimDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stops++
	if len(d.pending) > 0 {
		d.inFlight -= len(d.pending)
		d.aborted += len(d.pending)
		d.pending = nil
	}
	if len(d.stopErrs) > 0 {
		err := d.stopErrs[0]
		d.stopErrs = d.stopErrs[1:]
		return err
	}
	return nil
}

// Fire raises a completion signal for the oldest job in flight, reporting
// fault. It raises the signal even when nothing is in flight, which the
// engine sees as a spurious completion. It reports whether a job was
// in flight.
func (d *SimDevice) Fire(fault error) bool {
	d.mu.Lock()
	hadJob := len(d.pending) > 0
	if hadJob {
		d.pending = d.pending[1:]
		d.inFlight--
	}
	c := d.completer
	d.mu.Unlock()

	if c != nil {
		c.Complete(fault)
	}
	return hadJob
}

// finish completes the job identified by gen if it is still in flight.
func (d *SimDevice) finish(gen uint64) {
	d.mu.Lock()
	idx := -1
	for i, p := range d.pending {
		if p.gen == gen {
			idx = i
			break
		}
	}
	if idx < 0 {
		d.mu.Unlock()
		return
	}
	d.pending = append(d.pending[:idx], d.pending[idx+1:]...)
	d.inFlight--
	var fault error
	if len(d.faults) > 0 {
		fault = d.faults[0]
		d.faults = d.faults[1:]
	}
	c := d.completer
	d.mu.Unlock()

	if c != nil {
		c.Complete(fault)
	}
}

// FailNextSubmit makes the next Submit return err without starting the job.
func (d *SimDevice) FailNextSubmit(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.submitErrs = append(d.submitErrs, err)
}

// FailNextStop makes the next Stop return err.
func (d *SimDevice) FailNextStop(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopErrs = append(d.stopErrs, err)
}

// FaultNext makes the next self-timed completion report err.
// It has no effect in manual mode, where Fire carries the fault.
func (d *SimDevice) FaultNext(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faults = append(d.faults, err)
}

// Jobs returns every job passed to Submit, in order.
func (d *SimDevice) Jobs() []blit.Job {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]blit.Job, len(d.jobs))
	copy(out, d.jobs)
	return out
}

// InFlight returns the number of jobs currently running.
func (d *SimDevice) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inFlight
}

// MaxInFlight returns the largest number of jobs that ever ran at once.
func (d *SimDevice) MaxInFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxInFlight
}

// Stops returns how many times Stop was called.
func (d *SimDevice) Stops() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stops
}

// Aborted returns how many in-flight jobs Stop discarded.
func (d *SimDevice) Aborted() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.aborted
}

// CacheCall is one recorded cache maintenance request.
type CacheCall struct {
	Range blit.MemRange
	Dir   blit.CacheDirection
}

// SimCache records maintenance requests.
type SimCache struct {
	mu    sync.Mutex
	calls []CacheCall
	errs  []error
}

// NewSimCache creates an empty recorder.
func NewSimCache() *SimCache {
	return &SimCache{}
}

// Maintain records the request.
func (c *SimCache) Maintain(r blit.MemRange, dir blit.CacheDirection) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.errs) > 0 {
		err := c.errs[0]
		c.errs = c.errs[1:]
		return err
	}
	c.calls = append(c.calls, CacheCall{Range: r, Dir: dir})
	return nil
}

// FailNext makes the next Maintain return err.
func (c *SimCache) FailNext(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, err)
}

// Calls returns the recorded requests in order.
func (c *SimCache) Calls() []CacheCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]CacheCall, len(c.calls))
	copy(out, c.calls)
	return out
}

// SimPower counts power transitions.
type SimPower struct {
	mu       sync.Mutex
	on       bool
	enables  int
	disables int
}

// NewSimPower creates a powered-off domain.
func NewSimPower() *SimPower {
	return &SimPower{}
}

// Enable powers the domain up.
func (p *SimPower) Enable() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.on = true
	p.enables++
	return nil
}

// Disable powers the domain down.
func (p *SimPower) Disable() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.on = false
	p.disables++
	return nil
}

// On reports whether the domain is powered.
func (p *SimPower) On() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.on
}

// Enables returns how many times Enable was called.
func (p *SimPower) Enables() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enables
}

// Disables returns how many times Disable was called.
func (p *SimPower) Disables() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.disables
}
