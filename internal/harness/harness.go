package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/blitter/internal/blit"
	"github.com/roach88/blitter/internal/device"
	"github.com/roach88/blitter/internal/engine"
	"github.com/roach88/blitter/internal/hal"
	"github.com/roach88/blitter/internal/store"
	"github.com/roach88/blitter/internal/testutil"
)

// deviceStartTimeout bounds how long a fire step waits for the executor to
// hand the dispatched job to the device.
const deviceStartTimeout = 5 * time.Second

// Harness holds the state of one scenario run.
type Harness struct {
	eng     *engine.Engine
	node    *device.Node
	dev     *hal.SimDevice
	journal *engine.MemoryJournal
	logger  *slog.Logger

	mu       sync.Mutex // guards sessions and aliases; async open steps write them
	sessions map[string]*device.Session
	aliases  map[blit.ContextID]string
	pending  []*pendingStep
}

// pendingStep is an async step that has not been joined yet.
type pendingStep struct {
	index int
	step  Step
	done  chan string
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh engine, simulated device and in-memory
// journal database. An error is returned only when the run itself could not
// be set up; failed expectations and assertions are reported in the result.
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller supplied context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	cfg, err := scenario.Config.resolve()
	if err != nil {
		return nil, fmt.Errorf("invalid scenario config: %w", err)
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	rec := store.NewRecorder(st)
	recDone := make(chan struct{})
	go func() {
		defer close(recDone)
		_ = rec.Run(context.Background())
	}()

	opts, err := cfg.EngineOptions()
	if err != nil {
		rec.Close()
		<-recDone
		return nil, fmt.Errorf("invalid scenario config: %w", err)
	}

	journal := engine.NewMemoryJournal()
	dev := hal.NewSimDevice()
	opts = append(opts,
		engine.WithJournal(engine.Tee(journal, rec)),
		engine.WithCache(hal.NewSimCache()),
		engine.WithPower(hal.NewSimPower()),
		engine.WithClock(testutil.NewDeterministicClock()),
		engine.WithIDGenerator(testutil.NewSequentialIDs("ctx")),
	)
	eng := engine.New(dev, opts...)
	dev.Attach(eng)

	runCtx, stopExecutor := context.WithCancel(ctx)
	execDone := make(chan struct{})
	go func() {
		defer close(execDone)
		_ = eng.Run(runCtx)
	}()

	node, err := device.NewNode(eng, device.WithCacheRate(cfg.Session.CacheRate, cfg.Session.CacheBurst))
	if err != nil {
		stopExecutor()
		<-execDone
		rec.Close()
		<-recDone
		return nil, fmt.Errorf("failed to open device node: %w", err)
	}

	h := &Harness{
		eng:      eng,
		node:     node,
		dev:      dev,
		journal:  journal,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
		sessions: make(map[string]*device.Session),
		aliases:  make(map[blit.ContextID]string),
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		h.execute(ctx, i, step, result)
	}
	h.join(result)

	stopExecutor()
	<-execDone
	rec.Close()
	<-recDone

	for _, e := range journal.Entries() {
		result.AddTrace(h.traceEvent(e))
	}

	stats, err := toStateMap(eng.Stats())
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot stats: %w", err)
	}
	result.State[SourceStats] = stats

	jobStats, err := st.JobStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read job stats: %w", err)
	}
	jobs, err := toStateMap(jobStats)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot job stats: %w", err)
	}
	result.State[SourceJobs] = jobs

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// execute runs one step, inline or on its own goroutine.
func (h *Harness) execute(ctx context.Context, index int, step Step, result *Result) {
	if step.Op == OpJoin {
		h.join(result)
		return
	}

	if step.Async {
		p := &pendingStep{index: index, step: step, done: make(chan string, 1)}
		h.pending = append(h.pending, p)
		sess := h.session(step.Session)
		go func() {
			p.done <- outcome(h.perform(ctx, sess, step))
		}()
		return
	}

	got := outcome(h.perform(ctx, h.session(step.Session), step))
	h.check(index, step, got, result)
}

// session returns the session opened under alias, or nil.
func (h *Harness) session(alias string) *device.Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sessions[alias]
}

// join waits for every async step and checks its expectation, in launch order.
func (h *Harness) join(result *Result) {
	for _, p := range h.pending {
		got := <-p.done
		h.check(p.index, p.step, got, result)
	}
	h.pending = nil
}

func (h *Harness) check(index int, step Step, got string, result *Result) {
	want := step.expected()
	h.logger.Info("step completed",
		"step", index,
		"op", step.Op,
		"session", step.Session,
		"expected", want,
		"actual", got,
	)
	if got != want {
		result.AddError(fmt.Sprintf("step %d (%s %s): expected %s, got %s",
			index, step.Op, step.Session, want, got))
	}
}

// perform executes a step and returns its error. A wait that times out is
// reported as a TIMEOUT error.
func (h *Harness) perform(ctx context.Context, sess *device.Session, step Step) error {
	switch step.Op {
	case OpOpen:
		s, err := h.node.Open()
		if err != nil {
			return err
		}
		h.mu.Lock()
		h.sessions[step.Session] = s
		h.aliases[s.ID()] = step.Session
		h.mu.Unlock()
		return nil

	case OpConfigure:
		d, err := descriptorArg(step.Args)
		if err != nil {
			return err
		}
		_, err = sess.Ioctl(ctx, device.ReqConfigure, d)
		return err

	case OpRegion:
		r, err := regionArg(step.Args)
		if err != nil {
			return err
		}
		_, err = sess.Ioctl(ctx, device.ReqAddRegion, r)
		return err

	case OpSubmit:
		_, err := sess.Ioctl(ctx, device.ReqSubmit, nil)
		return err

	case OpWait:
		out, err := sess.Ioctl(ctx, device.ReqWaitDone, nil)
		if err != nil {
			return err
		}
		if res, ok := out.(engine.WaitResult); ok && res.TimedOut {
			return &engine.Error{Code: engine.ErrCodeTimeout, Message: "wait timed out", ContextID: sess.ID()}
		}
		return nil

	case OpClose:
		return sess.Close(ctx)

	case OpCache:
		arg, err := cacheArg(step.Args)
		if err != nil {
			return err
		}
		_, err = sess.Ioctl(ctx, device.ReqCacheOp, arg)
		return err

	case OpIoctl:
		req, err := requestArg(step.Args)
		if err != nil {
			return err
		}
		_, err = sess.Ioctl(ctx, req, nil)
		return err

	case OpFire:
		h.fire(nil)
		return nil

	case OpFault:
		h.fire(hal.ErrSimFault)
		return nil

	case OpSuspend:
		return h.eng.Suspend(ctx)

	case OpResume:
		return h.eng.Resume()
	}
	return fmt.Errorf("unknown op %q", step.Op)
}

// fire raises the device completion. When a job owns the engine, fire first
// waits for the executor to start it so the signal is not spurious.
func (h *Harness) fire(fault error) {
	if h.eng.Active() != "" {
		deadline := time.Now().Add(deviceStartTimeout)
		for h.dev.InFlight() == 0 && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
	}
	h.dev.Fire(fault)
}

// traceEvent maps a journal entry onto scenario names.
func (h *Harness) traceEvent(e engine.Entry) TraceEvent {
	ev := TraceEvent{
		Seq:    e.Seq,
		Kind:   string(e.Kind),
		Job:    e.JobSeq,
		Detail: e.Detail,
	}
	if e.ContextID != "" {
		alias, ok := h.aliases[e.ContextID]
		if !ok {
			alias = string(e.ContextID)
		}
		ev.Session = alias
	}
	return ev
}

// outcome reduces an error to the expectation vocabulary.
func outcome(err error) string {
	if err == nil {
		return ExpectOK
	}
	if code := engine.CodeOf(err); code != "" {
		return string(code)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "CANCELLED"
	}
	return "ERROR: " + err.Error()
}

// Default arguments used when a step gives none.
func defaultDescriptor() blit.Descriptor {
	return blit.Descriptor{
		Op:    blit.OpCopy,
		Src:   blit.Surface{Addr: 0x10000000, Stride: 256, Width: 64, Height: 64, Format: blit.FormatARGB8888},
		Dst:   blit.Surface{Addr: 0x10100000, Stride: 256, Width: 64, Height: 64, Format: blit.FormatARGB8888},
		Alpha: blit.MaxAlpha,
	}
}

func defaultRegion() blit.Region {
	return blit.Region{Src: blit.Rect{W: 16, H: 16}, Dst: blit.Rect{W: 16, H: 16}}
}

func descriptorArg(args map[string]interface{}) (blit.Descriptor, error) {
	if len(args) == 0 {
		return defaultDescriptor(), nil
	}
	var d blit.Descriptor
	err := decodeArgs(args, &d)
	return d, err
}

func regionArg(args map[string]interface{}) (blit.Region, error) {
	if len(args) == 0 {
		return defaultRegion(), nil
	}
	var r blit.Region
	err := decodeArgs(args, &r)
	return r, err
}

type cacheArgs struct {
	Addr uint64 `yaml:"addr"`
	Size uint64 `yaml:"size"`
	Dir  string `yaml:"dir"`
}

func cacheArg(args map[string]interface{}) (device.CacheArg, error) {
	var a cacheArgs
	if err := decodeArgs(args, &a); err != nil {
		return device.CacheArg{}, err
	}
	dir, err := blit.ParseCacheDirection(a.Dir)
	if err != nil {
		return device.CacheArg{}, &engine.Error{Code: engine.ErrCodeInvalidArgument, Message: "bad cache direction", Err: err}
	}
	return device.CacheArg{Range: blit.MemRange{Addr: a.Addr, Size: a.Size}, Dir: dir}, nil
}

type ioctlArgs struct {
	Request string `yaml:"request"`
	Number  uint32 `yaml:"number"`
}

func requestArg(args map[string]interface{}) (device.Request, error) {
	var a ioctlArgs
	if err := decodeArgs(args, &a); err != nil {
		return 0, err
	}
	if a.Request == "" {
		return device.Request(a.Number), nil
	}
	req, ok := device.ParseRequest(a.Request)
	if !ok {
		return 0, &engine.Error{Code: engine.ErrCodeInvalidArgument, Message: fmt.Sprintf("unknown request name %q", a.Request)}
	}
	return req, nil
}

// decodeArgs re-decodes YAML-parsed args into a typed value, rejecting
// unknown fields.
func decodeArgs(args map[string]interface{}, out interface{}) error {
	data, err := yaml.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode args: %w", err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return &engine.Error{Code: engine.ErrCodeInvalidArgument, Message: "bad step args", Err: err}
	}
	return nil
}

// toStateMap flattens a snapshot struct through its JSON form.
func toStateMap(v interface{}) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	if err := decoder.Decode(&m); err != nil {
		return nil, err
	}
	return m, nil
}
