package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/blitter/internal/blit"
	"github.com/roach88/blitter/internal/hal"
)

const (
	// DefaultWaitTimeout bounds every blocking wait.
	DefaultWaitTimeout = 10 * time.Second

	// DefaultMaxContexts is the admission limit.
	DefaultMaxContexts = 64

	// DefaultMaxRegions is the per-context pending region quota.
	DefaultMaxRegions = 256
)

// Engine arbitrates a single raster device between many client contexts.
//
// Thread-safety model:
//   - Admit, Release, Configure, AddRegion, Submit, WaitDone, CacheOp,
//     Suspend, Resume, Stats: safe from any goroutine
//   - Complete: safe from any goroutine, never blocks on a waiter
//   - Run: must be called from exactly one goroutine
//
// INVARIANTS:
//   - active is nil or a registered context
//   - at most one job is on the device at any instant
//   - every dispatched job leaves the active slot exactly once
//   - power is enabled iff at least one context is live and the engine is
//     not suspended
type Engine struct {
	device  hal.Device
	cache   hal.Cache
	power   hal.Power
	memory  *hal.MemoryMap
	journal Journal
	clock   Sequencer
	ids     IDGenerator

	waitTimeout time.Duration
	maxContexts int
	maxRegions  int

	// hwMu serializes every device call that starts or stops a job.
	// Lock order: hwMu before mu.
	hwMu sync.Mutex

	mu        sync.Mutex
	contexts  map[blit.ContextID]*contextState
	active    *contextState
	activeJob *jobRecord
	backlog   []*contextState
	notify    *notifier
	powered   bool
	suspended bool
	closed    bool
	stats     Stats

	cacheOps atomic.Int64
	queue    *jobQueue
}

// Stats is a point-in-time snapshot of engine state and counters.
type Stats struct {
	Contexts   int            `json:"contexts"`
	Active     blit.ContextID `json:"active,omitempty"`
	Backlog    int            `json:"backlog"`
	Powered    bool           `json:"powered"`
	Suspended  bool           `json:"suspended"`
	Admitted   int64          `json:"admitted"`
	Released   int64          `json:"released"`
	Submitted  int64          `json:"submitted"`
	Dispatched int64          `json:"dispatched"`
	Completed  int64          `json:"completed"`
	Faulted    int64          `json:"faulted"`
	Aborted    int64          `json:"aborted"`
	Discarded  int64          `json:"discarded"`
	Timeouts   int64          `json:"timeouts"`
	Spurious   int64          `json:"spurious"`
	CacheOps   int64          `json:"cache_ops"`
}

// WaitResult reports the outcome of WaitDone.
type WaitResult struct {
	// TimedOut is advisory: the context may still have work in flight.
	TimedOut bool `json:"timed_out"`

	// LastJobID is the most recently finished job of the context.
	LastJobID string `json:"last_job_id,omitempty"`
}

// Option allows configuration of engine parameters.
type Option func(*Engine)

// WithCache sets the cache maintenance collaborator.
func WithCache(c hal.Cache) Option {
	return func(e *Engine) {
		e.cache = c
	}
}

// WithPower sets the shared clock and power collaborator.
func WithPower(p hal.Power) Option {
	return func(e *Engine) {
		e.power = p
	}
}

// WithMemoryMap sets the banks that cache maintenance ranges resolve against.
func WithMemoryMap(m *hal.MemoryMap) Option {
	return func(e *Engine) {
		e.memory = m
	}
}

// WithJournal sets the journal that receives engine entries.
func WithJournal(j Journal) Option {
	return func(e *Engine) {
		e.journal = j
	}
}

// WithClock sets the clock that stamps journal entries.
func WithClock(c Sequencer) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithIDGenerator sets the context ID generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) {
		e.ids = g
	}
}

// WithWaitTimeout sets the bound on every blocking wait.
//
// Default: 10s (DefaultWaitTimeout)
func WithWaitTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.waitTimeout = d
	}
}

// WithMaxContexts sets the admission limit. Zero disables it.
func WithMaxContexts(n int) Option {
	return func(e *Engine) {
		e.maxContexts = n
	}
}

// WithMaxRegions sets the per-context pending region quota. Zero disables it.
func WithMaxRegions(n int) Option {
	return func(e *Engine) {
		e.maxRegions = n
	}
}

// New creates an idle Engine driving dev.
//
// The engine does not dispatch anything until Run is started.
func New(dev hal.Device, opts ...Option) *Engine {
	e := &Engine{
		device:      dev,
		cache:       nopCache{},
		power:       nopPower{},
		journal:     nopJournal{},
		clock:       NewClock(),
		ids:         UUIDv7Generator{},
		waitTimeout: DefaultWaitTimeout,
		maxContexts: DefaultMaxContexts,
		maxRegions:  DefaultMaxRegions,
		contexts:    make(map[blit.ContextID]*contextState),
		notify:      newNotifier(),
		queue:       newJobQueue(),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.memory == nil {
		e.memory, _ = hal.NewMemoryMap()
	}
	return e
}

// record stamps and journals an entry.
// Caller must hold e.mu so entries reach the journal in seq order.
func (e *Engine) record(kind Kind, id blit.ContextID, job *blit.Job, detail string) {
	entry := Entry{
		Seq:       e.clock.Next(),
		Kind:      kind,
		ContextID: id,
		Detail:    detail,
	}
	if job != nil {
		entry.JobID = job.ID
		entry.JobSeq = job.Seq
	}
	e.journal.Record(entry)
}

// lookupLocked returns the live context for id.
// Caller must hold e.mu.
func (e *Engine) lookupLocked(id blit.ContextID) (*contextState, error) {
	if e.closed {
		return nil, closedError()
	}
	c, ok := e.contexts[id]
	if !ok || c.releasing {
		return nil, invalidContext(id)
	}
	return c, nil
}

// Admit registers a new context.
//
// The first live context powers up the shared clock domain. Admission fails
// with RESOURCE_EXHAUSTED at the context limit, and with HARDWARE_FAULT when
// power cannot be enabled. A failed admission creates no context.
func (e *Engine) Admit() (blit.ContextID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return "", closedError()
	}
	if e.maxContexts > 0 && len(e.contexts) >= e.maxContexts {
		return "", &Error{
			Code:    ErrCodeResourceExhausted,
			Message: fmt.Sprintf("context limit reached (%d)", e.maxContexts),
		}
	}

	if !e.powered && !e.suspended {
		if err := e.power.Enable(); err != nil {
			slog.Error("power enable failed", "error", err)
			return "", hardwareFault("", "", "power enable failed", err)
		}
		e.powered = true
	}

	id := blit.ContextID(e.ids.Generate())
	e.contexts[id] = newContextState(id, e.maxRegions)
	e.stats.Admitted++
	e.record(KindAdmit, id, nil, "")

	slog.Info("context admitted", "context", id, "live", len(e.contexts))
	return id, nil
}

// Release unregisters a context.
//
// If the context owns the engine, Release waits for the job to finish, up to
// the wait timeout. When the wait elapses the job is aborted on the device
// before the context is freed, so the device never outlives its context.
// Jobs still queued for the context are discarded. Releasing the last live
// context powers the shared clock domain down.
func (e *Engine) Release(ctx context.Context, id blit.ContextID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, err := e.lookupLocked(id)
	if err != nil {
		return err
	}
	c.releasing = true

	timedOut, err := e.waitLocked(ctx, e.waitTimeout, func() bool { return e.active != c })
	if err != nil {
		c.releasing = false
		e.requeueLocked(c)
		e.promoteLocked()
		return fmt.Errorf("release %s: %w", id, err)
	}
	if timedOut {
		e.stats.Timeouts++
		e.record(KindTimeout, id, nil, "release")
		slog.Warn("wait timeout", "op", "release", "context", id, "timeout", e.waitTimeout)

		e.mu.Unlock()
		e.abort(c)
		e.mu.Lock()
	}

	for _, jr := range c.jobs {
		e.stats.Discarded++
		e.record(KindDiscard, id, &jr.job, "")
	}
	c.jobs = nil
	c.regions = nil
	e.removeFromBacklogLocked(c)

	delete(e.contexts, id)
	c.released = true
	e.stats.Released++
	e.record(KindRelease, id, nil, "")

	if len(e.contexts) == 0 && e.powered {
		if err := e.power.Disable(); err != nil {
			slog.Error("power disable failed", "error", err)
		}
		e.powered = false
	}
	e.notify.broadcast()

	slog.Info("context released", "context", id, "live", len(e.contexts))
	return nil
}

// Configure installs a job descriptor on the context.
//
// Configure waits until the context does not own the engine so a live job
// never races a configuration change. A timed out wait is logged and the
// descriptor is installed anyway: queued and running jobs carry their own
// snapshot of the descriptor. Installing a descriptor clears pending regions.
func (e *Engine) Configure(ctx context.Context, id blit.ContextID, d blit.Descriptor) error {
	if err := d.Validate(); err != nil {
		return invalidArgument(id, "invalid descriptor", err)
	}
	hash, err := blit.DescriptorHash(d)
	if err != nil {
		return invalidArgument(id, "invalid descriptor", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	c, err := e.lookupLocked(id)
	if err != nil {
		return err
	}

	timedOut, err := e.waitLocked(ctx, e.waitTimeout, func() bool {
		return e.active != c || c.releasing
	})
	if err != nil {
		return fmt.Errorf("configure %s: %w", id, err)
	}
	if c.releasing {
		return invalidContext(id)
	}
	if timedOut {
		e.stats.Timeouts++
		e.record(KindTimeout, id, nil, "configure")
		slog.Warn("wait timeout", "op", "configure", "context", id, "timeout", e.waitTimeout)
	}

	desc := d
	if d.Clip != nil {
		clip := *d.Clip
		desc.Clip = &clip
	}
	c.desc = &desc
	c.regions = nil
	c.quota.Reset()
	e.record(KindConfigure, id, nil, string(d.Op))

	slog.Debug("context configured", "context", id, "op", d.Op, "descriptor", hash[:12])
	return nil
}

// AddRegion appends an update region to the context's pending list.
// It never blocks.
func (e *Engine) AddRegion(id blit.ContextID, r blit.Region) error {
	if err := r.Validate(); err != nil {
		return invalidArgument(id, "invalid region", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	c, err := e.lookupLocked(id)
	if err != nil {
		return err
	}
	if c.desc == nil {
		return invalidArgument(id, "context is not configured", nil)
	}
	if err := r.FitsDescriptor(*c.desc); err != nil {
		return invalidArgument(id, "region does not fit descriptor", err)
	}
	if err := c.quota.Check(id); err != nil {
		return &Error{Code: ErrCodeResourceExhausted, Message: "region quota exceeded", ContextID: id, Err: err}
	}

	c.regions = append(c.regions, r)
	e.record(KindRegion, id, nil, "")
	return nil
}

// Submit turns the context's descriptor and pending regions into a job.
//
// If the engine is idle the job is dispatched at once. Otherwise the context
// joins the backlog and the call still returns immediately: submission never
// waits for the engine. It returns the job ID.
func (e *Engine) Submit(id blit.ContextID) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, err := e.lookupLocked(id)
	if err != nil {
		return "", err
	}
	if c.desc == nil {
		return "", invalidArgument(id, "context is not configured", nil)
	}

	seq := c.seq + 1
	jobID, err := blit.JobID(id, *c.desc, c.regions, seq)
	if err != nil {
		return "", invalidArgument(id, "cannot identify job", err)
	}
	c.seq = seq

	jr := &jobRecord{
		job: blit.Job{
			ID:         jobID,
			ContextID:  id,
			Seq:        seq,
			Descriptor: *c.desc,
			Regions:    c.regions,
		},
		ctx: c,
	}
	c.regions = nil
	c.quota.Reset()
	c.jobs = append(c.jobs, jr)

	e.stats.Submitted++
	e.record(KindSubmit, id, &jr.job, fmt.Sprintf("regions=%d", len(jr.job.Regions)))

	if e.active == nil && !e.suspended && len(e.backlog) == 0 {
		e.activateLocked(c)
		return jobID, nil
	}

	e.requeueLocked(c)
	e.record(KindQueue, id, &jr.job, fmt.Sprintf("depth=%d", len(e.backlog)))
	slog.Debug("job queued", "context", id, "job", jobID, "backlog", len(e.backlog))
	return jobID, nil
}

// WaitDone blocks until the context has no job running or queued, or the
// wait timeout elapses.
//
// A timeout is advisory and is reported through WaitResult, not as an error.
// If the context's last job failed, WaitDone returns a HARDWARE_FAULT error
// once and clears it.
func (e *Engine) WaitDone(ctx context.Context, id blit.ContextID) (WaitResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, err := e.lookupLocked(id)
	if err != nil {
		return WaitResult{}, err
	}

	timedOut, err := e.waitLocked(ctx, e.waitTimeout, func() bool {
		return c.idle(e.active) || c.releasing
	})
	if err != nil {
		return WaitResult{}, fmt.Errorf("wait %s: %w", id, err)
	}
	if c.releasing {
		return WaitResult{}, invalidContext(id)
	}

	res := WaitResult{TimedOut: timedOut, LastJobID: c.lastJobID}
	if timedOut {
		e.stats.Timeouts++
		e.record(KindTimeout, id, nil, "wait")
		slog.Warn("wait timeout", "op", "wait", "context", id, "timeout", e.waitTimeout)
		return res, nil
	}

	if c.lastFault != nil {
		fault := c.lastFault
		c.lastFault = nil
		return res, fault
	}
	return res, nil
}

// Suspend stops dispatching and powers the device down.
//
// Suspend waits for the running job to finish. If the wait elapses the
// engine resumes dispatching and Suspend returns a TIMEOUT error. Submissions
// made while suspended are queued.
func (e *Engine) Suspend(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return closedError()
	}
	if e.suspended {
		return nil
	}
	e.suspended = true

	timedOut, err := e.waitLocked(ctx, e.waitTimeout, func() bool { return e.active == nil })
	if err != nil || timedOut {
		e.suspended = false
		e.promoteLocked()
		if err != nil {
			return fmt.Errorf("suspend: %w", err)
		}
		e.stats.Timeouts++
		e.record(KindTimeout, "", nil, "suspend")
		slog.Warn("wait timeout", "op", "suspend", "timeout", e.waitTimeout)
		return &Error{Code: ErrCodeTimeout, Message: "engine did not go idle before suspend"}
	}

	if e.powered {
		if err := e.power.Disable(); err != nil {
			slog.Error("power disable failed", "error", err)
		}
		e.powered = false
	}
	e.record(KindSuspend, "", nil, "")
	slog.Info("engine suspended", "backlog", len(e.backlog))
	return nil
}

// Resume powers the device back up and dispatches the backlog.
func (e *Engine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return closedError()
	}
	if !e.suspended {
		return nil
	}
	if len(e.contexts) > 0 && !e.powered {
		if err := e.power.Enable(); err != nil {
			slog.Error("power enable failed", "error", err)
			return hardwareFault("", "", "power enable failed", err)
		}
		e.powered = true
	}
	e.suspended = false
	e.record(KindResume, "", nil, "")
	e.promoteLocked()

	slog.Info("engine resumed")
	return nil
}

// Close shuts the engine down and stops the executor.
//
// Close is refused with BUSY while a job is active or any context is
// registered. Closing twice is a no-op.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	if e.active != nil || len(e.contexts) > 0 {
		return &Error{
			Code:    ErrCodeBusy,
			Message: fmt.Sprintf("engine in use (%d contexts)", len(e.contexts)),
		}
	}
	e.closed = true
	e.queue.Close()
	e.notify.broadcast()

	slog.Info("engine closed")
	return nil
}

// Stats returns a snapshot of engine state and counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.stats
	s.Contexts = len(e.contexts)
	s.Backlog = len(e.backlog)
	s.Powered = e.powered
	s.Suspended = e.suspended
	s.CacheOps = e.cacheOps.Load()
	if e.active != nil {
		s.Active = e.active.id
	}
	return s
}

// Active returns the context that owns the engine, or "" when idle.
func (e *Engine) Active() blit.ContextID {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == nil {
		return ""
	}
	return e.active.id
}

// Contexts returns the number of live contexts.
func (e *Engine) Contexts() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.contexts)
}

// activateLocked performs Idle -> Active(c) with c's oldest job and hands the
// job to the executor.
// Caller must hold e.mu, and the engine must be idle.
func (e *Engine) activateLocked(c *contextState) {
	jr := c.jobs[0]
	c.jobs[0] = nil
	c.jobs = c.jobs[1:]

	e.active = c
	e.activeJob = jr
	e.stats.Dispatched++
	e.record(KindDispatch, c.id, &jr.job, "")

	if !e.queue.Enqueue(jr) {
		e.finishLocked(jr, closedError())
	}
}

// promoteLocked dispatches the next backlog context if the engine is idle.
// Contexts being released are skipped.
// Caller must hold e.mu.
func (e *Engine) promoteLocked() {
	for e.active == nil && !e.suspended && len(e.backlog) > 0 {
		c := e.backlog[0]
		e.backlog[0] = nil
		e.backlog = e.backlog[1:]
		c.queued = false

		if c.releasing || len(c.jobs) == 0 {
			continue
		}
		e.activateLocked(c)
	}
}

// finishLocked performs Active -> Idle for jr, wakes waiters, then promotes
// the next context. fault is nil when the job succeeded.
// Caller must hold e.mu, and jr must be the active job.
func (e *Engine) finishLocked(jr *jobRecord, fault *Error) {
	c := jr.ctx
	e.active = nil
	e.activeJob = nil
	c.lastJobID = jr.job.ID

	if fault == nil {
		c.lastFault = nil
		e.stats.Completed++
		e.record(KindComplete, c.id, &jr.job, "")
	} else {
		c.lastFault = fault
		e.stats.Faulted++
		e.record(KindFault, c.id, &jr.job, fault.Message)
	}

	// Round robin: a context with more work goes to the back of the line.
	e.requeueLocked(c)

	e.notify.broadcast()
	e.promoteLocked()
}

// requeueLocked puts c at the back of the backlog if it has jobs waiting
// and is neither queued, active nor being released.
// Caller must hold e.mu.
func (e *Engine) requeueLocked(c *contextState) {
	if len(c.jobs) > 0 && !c.queued && !c.releasing && e.active != c {
		e.backlog = append(e.backlog, c)
		c.queued = true
	}
}

// removeFromBacklogLocked drops c from the backlog.
// Caller must hold e.mu.
func (e *Engine) removeFromBacklogLocked(c *contextState) {
	if !c.queued {
		return
	}
	kept := e.backlog[:0]
	for _, b := range e.backlog {
		if b != c {
			kept = append(kept, b)
		}
	}
	for i := len(kept); i < len(e.backlog); i++ {
		e.backlog[i] = nil
	}
	e.backlog = kept
	c.queued = false
}

type nopCache struct{}

func (nopCache) Maintain(blit.MemRange, blit.CacheDirection) error { return nil }

type nopPower struct{}

func (nopPower) Enable() error  { return nil }
func (nopPower) Disable() error { return nil }
