package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/blitter/internal/blit"
	"github.com/roach88/blitter/internal/engine"
	"github.com/roach88/blitter/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database  string
	ContextID string   // optional - filter to one context
	Kinds     []string // optional - filter to entry kinds
	Limit     int
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	ContextID string         `json:"context_id,omitempty"`
	Timeline  []engine.Entry `json:"timeline"`
	Jobs      []store.JobRow `json:"jobs"`
	Stats     TraceStats     `json:"stats"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	TotalEvents int            `json:"total_events"`
	Contexts    int            `json:"contexts"`
	Jobs        store.JobStats `json:"jobs"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the journal timeline",
		Long: `Show the engine journal recorded by 'blitter run'.

The output includes:
- Timeline: every journal entry in sequence order
- Jobs: each job with its submit, dispatch and finish sequence numbers
- Stats: job counts by outcome

Examples:
  blitter trace --db ./journal.db
  blitter trace --db ./journal.db --context 0192f0c1-...
  blitter trace --db ./journal.db --kind fault --kind timeout
  blitter trace --db ./journal.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.ContextID, "context", "", "filter to one context ID")
	cmd.Flags().StringSliceVar(&opts.Kinds, "kind", nil, "filter to entry kinds (repeatable)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of entries (0 = all)")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	// store.Open creates missing files; a trace of a path that does not
	// exist is a usage error.
	if _, err := os.Stat(opts.Database); err != nil {
		return WrapExitError(ExitCommandError, "database not found", err)
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	filter := store.EventFilter{
		ContextID: blit.ContextID(opts.ContextID),
		Limit:     opts.Limit,
	}
	for _, k := range opts.Kinds {
		filter.Kinds = append(filter.Kinds, engine.Kind(k))
	}

	events, err := st.ReadEvents(ctx, filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read events", err)
	}

	jobs, err := st.ReadJobs(ctx, filter.ContextID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read jobs", err)
	}

	result := TraceResult{
		ContextID: opts.ContextID,
		Timeline:  events,
		Jobs:      jobs,
		Stats: TraceStats{
			TotalEvents: len(events),
			Contexts:    countContexts(events),
			Jobs:        countJobs(jobs),
		},
	}

	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), CLIResponse{Status: "ok", Data: result})
	}

	if len(events) == 0 {
		if opts.ContextID != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "No events found for context: %s\n", opts.ContextID)
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), "No events found.")
		}
		return nil
	}

	return outputTraceText(cmd.OutOrStdout(), result, opts.Verbose)
}

func countContexts(events []engine.Entry) int {
	seen := make(map[blit.ContextID]struct{})
	for _, e := range events {
		if e.ContextID != "" {
			seen[e.ContextID] = struct{}{}
		}
	}
	return len(seen)
}

// countJobs aggregates outcomes of the listed jobs so a context filter
// applies to the stats too.
func countJobs(jobs []store.JobRow) store.JobStats {
	var st store.JobStats
	for _, j := range jobs {
		st.Total++
		switch j.Outcome {
		case store.OutcomePending:
			st.Pending++
		case store.OutcomeRunning:
			st.Running++
		case store.OutcomeOK:
			st.OK++
		case store.OutcomeFault:
			st.Faulted++
		case store.OutcomeAborted:
			st.Aborted++
		case store.OutcomeDiscarded:
			st.Discarded++
		}
	}
	return st
}

// outputTraceText outputs the trace result as text.
func outputTraceText(w io.Writer, result TraceResult, verbose bool) error {
	if result.ContextID != "" {
		fmt.Fprintf(w, "Trace for Context: %s\n", result.ContextID)
	} else {
		fmt.Fprintf(w, "Trace: %d context(s)\n", result.Stats.Contexts)
	}
	fmt.Fprintln(w)

	// Timeline section
	fmt.Fprintln(w, "=== Timeline ===")
	for _, e := range result.Timeline {
		formatTimelineEntry(w, e, verbose)
	}
	fmt.Fprintln(w)

	// Jobs section
	fmt.Fprintln(w, "=== Jobs ===")
	if len(result.Jobs) == 0 {
		fmt.Fprintln(w, "  (no jobs)")
	} else {
		for _, j := range result.Jobs {
			fmt.Fprintf(w, "  %s #%d %-9s regions=%d submit=%d dispatch=%s finish=%s\n",
				truncateID(string(j.ContextID)), j.JobSeq, j.Outcome, j.Regions,
				j.SubmitSeq, seqOrDash(j.DispatchSeq), seqOrDash(j.FinishSeq))
			if verbose && j.Detail != "" {
				fmt.Fprintf(w, "       Detail: %s\n", j.Detail)
			}
		}
	}
	fmt.Fprintln(w)

	// Stats section
	s := result.Stats.Jobs
	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Total Events: %d\n", result.Stats.TotalEvents)
	fmt.Fprintf(w, "  Contexts:     %d\n", result.Stats.Contexts)
	fmt.Fprintf(w, "  Jobs:         %d\n", s.Total)
	fmt.Fprintf(w, "  Completed:    %d\n", s.OK)
	fmt.Fprintf(w, "  Faulted:      %d\n", s.Faulted)
	fmt.Fprintf(w, "  Aborted:      %d\n", s.Aborted)
	fmt.Fprintf(w, "  Discarded:    %d\n", s.Discarded)
	fmt.Fprintf(w, "  Unfinished:   %d\n", s.Pending+s.Running)

	return nil
}

// formatTimelineEntry formats a single journal entry for text output.
func formatTimelineEntry(w io.Writer, e engine.Entry, verbose bool) {
	var b strings.Builder
	fmt.Fprintf(&b, "  [%d] %s", e.Seq, strings.ToUpper(string(e.Kind)))
	if e.ContextID != "" {
		fmt.Fprintf(&b, " %s", truncateID(string(e.ContextID)))
	}
	if e.JobSeq != 0 {
		fmt.Fprintf(&b, " #%d", e.JobSeq)
	}
	if e.Detail != "" {
		fmt.Fprintf(&b, " (%s)", e.Detail)
	}
	fmt.Fprintln(w, b.String())

	if verbose && e.JobID != "" {
		fmt.Fprintf(w, "       Job: %s\n", e.JobID)
	}
}

func seqOrDash(seq int64) string {
	if seq == 0 {
		return "-"
	}
	return fmt.Sprintf("%d", seq)
}

// truncateID truncates a long ID for display.
func truncateID(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:8] + "..." + id[len(id)-8:]
}
