package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/blitter/internal/blit"
	"github.com/roach88/blitter/internal/config"
	"github.com/roach88/blitter/internal/device"
	"github.com/roach88/blitter/internal/engine"
	"github.com/roach88/blitter/internal/hal"
	"github.com/roach88/blitter/internal/store"
)

const (
	// defaultRunLatency is used when the config leaves the device in manual
	// mode, which would never complete a job without a driver calling Fire.
	defaultRunLatency = time.Millisecond

	// surfaceBytes is the footprint of one 64x64 ARGB8888 surface.
	surfaceBytes = 64 * 256
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	ConfigPath string
	Database   string
	Sessions   int
	Jobs       int

	// IDGenerator allows overriding the context ID generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	IDGenerator engine.IDGenerator
}

// RunResult summarizes a run.
type RunResult struct {
	Sessions       int          `json:"sessions"`
	JobsPerSession int          `json:"jobs_per_session"`
	Failed         int64        `json:"failed"`
	CacheRejected  int64        `json:"cache_rejected"`
	Elapsed        string       `json:"elapsed"`
	Stats          engine.Stats `json:"stats"`
	Journal        *JournalInfo `json:"journal,omitempty"`
}

// JournalInfo reports what reached the journal database.
type JournalInfo struct {
	Path    string `json:"path"`
	Written int64  `json:"written"`
	Dropped int64  `json:"dropped"`
	Breaker string `json:"breaker"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Drive the engine with concurrent sessions",
		Long: `Start the engine over the simulated device and drive it with concurrent
sessions.

Each session opens a context, configures a copy descriptor and submits
--jobs jobs, one region each, then waits for completion and closes. When a
journal database is given (--db or journal.path in the config), every engine
transition is recorded there for 'blitter trace'.

Example:
  blitter run --config ./blitter.yaml
  blitter run --config ./blitter.yaml --db ./journal.db --sessions 8 --jobs 32`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to config file (defaults apply when empty)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (overrides journal.path)")
	cmd.Flags().IntVar(&opts.Sessions, "sessions", 4, "number of concurrent sessions")
	cmd.Flags().IntVar(&opts.Jobs, "jobs", 8, "jobs submitted per session")

	return cmd
}

func runEngine(opts *RunOptions, cmd *cobra.Command) error {
	// Configure logging based on verbose flag
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))

	if opts.Sessions <= 0 || opts.Jobs <= 0 {
		return NewExitError(ExitCommandError, "--sessions and --jobs must be positive")
	}

	cfg := config.Default()
	if opts.ConfigPath != "" {
		loaded, err := config.Load(opts.ConfigPath)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load config", err)
		}
		cfg = *loaded
	}

	bank, err := workBank(&cfg, opts.Sessions)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid memory layout", err)
	}

	engOpts, err := cfg.EngineOptions()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid config", err)
	}
	engOpts = append(engOpts,
		engine.WithCache(hal.NewSimCache()),
		engine.WithPower(hal.NewSimPower()),
	)
	if opts.IDGenerator != nil {
		engOpts = append(engOpts, engine.WithIDGenerator(opts.IDGenerator))
	}

	// Setup signal handling for graceful shutdown
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	// Open journal (create if not exists)
	dbPath := opts.Database
	if dbPath == "" {
		dbPath = cfg.Journal.Path
	}
	var (
		rec     *store.Recorder
		recDone chan struct{}
	)
	if dbPath != "" {
		slog.Info("opening journal", "path", dbPath)
		st, err := store.Open(dbPath)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				slog.Error("error closing database", "error", closeErr)
			}
		}()

		// Continue the sequence of an existing journal.
		last, err := st.LastSeq(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read journal", err)
		}

		rec = store.NewRecorder(st,
			store.WithMaxPending(cfg.Journal.MaxPending),
			store.WithBreaker(uint32(cfg.Journal.BreakerFailures), cfg.Journal.BreakerCooldown.Std()),
		)
		recDone = make(chan struct{})
		go func() {
			defer close(recDone)
			_ = rec.Run(context.WithoutCancel(ctx))
		}()
		defer func() {
			rec.Close()
			<-recDone
		}()
		engOpts = append(engOpts,
			engine.WithJournal(rec),
			engine.WithClock(engine.NewClockAt(last)),
		)
	}

	latency := cfg.Device.Latency.Std()
	if latency <= 0 {
		slog.Debug("device latency not set, using default", "latency", defaultRunLatency)
		latency = defaultRunLatency
	}
	dev := hal.NewSimDevice(hal.WithLatency(latency))
	eng := engine.New(dev, engOpts...)
	dev.Attach(eng)

	execCtx, stopExecutor := context.WithCancel(context.Background())
	execDone := make(chan error, 1)
	go func() {
		execDone <- eng.Run(execCtx)
	}()
	defer func() {
		stopExecutor()
		<-execDone
	}()

	node, err := device.NewNode(eng, device.WithCacheRate(cfg.Session.CacheRate, cfg.Session.CacheBurst))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open device node", err)
	}

	slog.Info("engine started", "sessions", opts.Sessions, "jobs", opts.Jobs, "latency", latency)
	start := time.Now()

	var failed, cacheRejected atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < opts.Sessions; i++ {
		d := sessionDescriptor(bank, i)
		g.Go(func() error {
			return driveSession(gctx, node, d, opts.Jobs, &failed, &cacheRejected)
		})
	}
	runErr := g.Wait()

	closeCtx, closeCancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Engine.WaitTimeout.Std()*2)
	defer closeCancel()
	if err := node.CloseAll(closeCtx); err != nil {
		slog.Error("error closing sessions", "error", err)
		if runErr == nil {
			runErr = err
		}
	}

	result := RunResult{
		Sessions:       opts.Sessions,
		JobsPerSession: opts.Jobs,
		Failed:         failed.Load(),
		CacheRejected:  cacheRejected.Load(),
		Elapsed:        time.Since(start).Round(time.Millisecond).String(),
		Stats:          eng.Stats(),
	}

	if rec != nil {
		rec.Close()
		<-recDone
		result.Journal = &JournalInfo{
			Path:    dbPath,
			Written: rec.Written(),
			Dropped: rec.Dropped(),
			Breaker: rec.BreakerState().String(),
		}
	}

	slog.Info("engine stopped", "elapsed", result.Elapsed)

	if runErr != nil && ctx.Err() == nil {
		return outputRunError(opts, cmd, result, runErr)
	}
	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), CLIResponse{Status: "ok", Data: result})
	}
	outputRunText(cmd, result)
	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d job(s) failed", result.Failed))
	}
	return nil
}

// driveSession runs one client: open, configure, submit jobs, wait, close.
// Faulted jobs are counted; engine errors other than BUSY on cache requests
// end the session.
func driveSession(ctx context.Context, node *device.Node, d blit.Descriptor, jobs int, failed, cacheRejected *atomic.Int64) error {
	sess, err := node.Open()
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	defer func() {
		if closeErr := sess.Close(context.WithoutCancel(ctx)); closeErr != nil {
			slog.Warn("session close failed", "context", sess.ID(), "error", closeErr)
		}
	}()

	if err := sess.Configure(ctx, d); err != nil {
		return fmt.Errorf("configure %s: %w", sess.ID(), err)
	}

	region := blit.Region{
		Src: blit.Rect{W: d.Src.Width, H: d.Src.Height},
		Dst: blit.Rect{W: d.Dst.Width, H: d.Dst.Height},
	}
	src := blit.MemRange{Addr: d.Src.Addr, Size: surfaceBytes}

	for j := 0; j < jobs; j++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := sess.CacheOp(src, blit.CacheClean); err != nil {
			if !engine.IsBusy(err) {
				return fmt.Errorf("cache op %s: %w", sess.ID(), err)
			}
			cacheRejected.Add(1)
		}
		if err := sess.AddRegion(region); err != nil {
			return fmt.Errorf("add region %s: %w", sess.ID(), err)
		}
		if _, err := sess.Submit(); err != nil {
			return fmt.Errorf("submit %s: %w", sess.ID(), err)
		}

		// Waiting after every submit keeps the per-context backlog short and
		// surfaces each job's fault on its own.
		res, err := sess.WaitDone(ctx)
		switch {
		case engine.IsHardwareFault(err):
			failed.Add(1)
		case err != nil:
			return fmt.Errorf("wait %s: %w", sess.ID(), err)
		case res.TimedOut:
			slog.Warn("session wait timed out", "context", sess.ID(), "job", j)
		}
	}
	return nil
}

// workBank returns the bank the sessions blit in. It needs one source
// surface plus one destination surface per session.
func workBank(cfg *config.Config, sessions int) (hal.Bank, error) {
	need := uint64(sessions+1) * surfaceBytes
	for _, b := range cfg.Memory {
		if b.Size >= need {
			return b, nil
		}
	}
	return hal.Bank{}, fmt.Errorf("no memory bank can hold %d surfaces (%d bytes)", sessions+1, need)
}

// sessionDescriptor returns a 64x64 copy from the shared source surface to
// the destination surface of session i.
func sessionDescriptor(bank hal.Bank, i int) blit.Descriptor {
	return blit.Descriptor{
		Op:    blit.OpCopy,
		Src:   blit.Surface{Addr: bank.Base, Stride: 256, Width: 64, Height: 64, Format: blit.FormatARGB8888},
		Dst:   blit.Surface{Addr: bank.Base + uint64(i+1)*surfaceBytes, Stride: 256, Width: 64, Height: 64, Format: blit.FormatARGB8888},
		Alpha: blit.MaxAlpha,
	}
}

func outputRunError(opts *RunOptions, cmd *cobra.Command, result RunResult, runErr error) error {
	code := errorCode(runErr, ErrCodeRunFailed)
	if opts.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   result,
			Error:  &CLIError{Code: code, Message: runErr.Error()},
		}
		if err := writeJSON(cmd.OutOrStdout(), response); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Error [%s]: %s\n", code, runErr.Error())
	}
	return WrapExitError(ExitFailure, "run failed", runErr)
}

func outputRunText(cmd *cobra.Command, result RunResult) {
	w := cmd.OutOrStdout()
	s := result.Stats

	fmt.Fprintf(w, "Ran %d session(s) x %d job(s) in %s\n", result.Sessions, result.JobsPerSession, result.Elapsed)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Admitted:   %d\n", s.Admitted)
	fmt.Fprintf(w, "  Released:   %d\n", s.Released)
	fmt.Fprintf(w, "  Submitted:  %d\n", s.Submitted)
	fmt.Fprintf(w, "  Dispatched: %d\n", s.Dispatched)
	fmt.Fprintf(w, "  Completed:  %d\n", s.Completed)
	fmt.Fprintf(w, "  Faulted:    %d\n", s.Faulted)
	fmt.Fprintf(w, "  Aborted:    %d\n", s.Aborted)
	fmt.Fprintf(w, "  Timeouts:   %d\n", s.Timeouts)
	fmt.Fprintf(w, "  Cache Ops:  %d (%d rejected)\n", s.CacheOps, result.CacheRejected)

	if result.Journal != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "=== Journal ===")
		fmt.Fprintf(w, "  Path:    %s\n", result.Journal.Path)
		fmt.Fprintf(w, "  Written: %d\n", result.Journal.Written)
		fmt.Fprintf(w, "  Dropped: %d\n", result.Journal.Dropped)
		fmt.Fprintf(w, "  Breaker: %s\n", result.Journal.Breaker)
	}
}
