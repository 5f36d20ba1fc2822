package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/blitter/internal/engine"
)

// Job outcomes stored in jobs.outcome.
const (
	OutcomePending   = "pending"
	OutcomeRunning   = "running"
	OutcomeOK        = "ok"
	OutcomeFault     = "fault"
	OutcomeAborted   = "aborted"
	OutcomeDiscarded = "discarded"
)

// WriteEntry records a single journal entry.
func (s *Store) WriteEntry(ctx context.Context, e engine.Entry) error {
	return s.WriteEntries(ctx, []engine.Entry{e})
}

// WriteEntries records a batch of journal entries atomically and folds them
// into the jobs table.
//
// Uses ON CONFLICT DO NOTHING for idempotency: rewriting a batch that was
// already stored changes nothing.
func (s *Store) WriteEntries(ctx context.Context, entries []engine.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write entries: begin transaction: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	for _, e := range entries {
		inserted, err := insertEvent(ctx, tx, e)
		if err != nil {
			return fmt.Errorf("write entries: seq %d: %w", e.Seq, err)
		}
		if !inserted || e.JobID == "" {
			continue
		}
		if err := foldJob(ctx, tx, e); err != nil {
			return fmt.Errorf("write entries: job %s: %w", e.JobID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write entries: commit: %w", err)
	}
	return nil
}

func insertEvent(ctx context.Context, tx *sql.Tx, e engine.Entry) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO events (seq, kind, context_id, job_id, job_seq, detail)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(seq) DO NOTHING
	`,
		e.Seq,
		string(e.Kind),
		string(e.ContextID),
		e.JobID,
		e.JobSeq,
		e.Detail,
	)
	if err != nil {
		return false, fmt.Errorf("insert event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// foldJob applies a job-scoped entry to its row in the jobs table.
func foldJob(ctx context.Context, tx *sql.Tx, e engine.Entry) error {
	var err error
	switch e.Kind {
	case engine.KindSubmit:
		_, err = tx.ExecContext(ctx, `
			INSERT INTO jobs (id, context_id, job_seq, regions, submit_seq, outcome)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING
		`, e.JobID, string(e.ContextID), e.JobSeq, regionCount(e.Detail), e.Seq, OutcomePending)

	case engine.KindDispatch:
		_, err = tx.ExecContext(ctx, `
			UPDATE jobs SET dispatch_seq = ?, outcome = ? WHERE id = ?
		`, e.Seq, OutcomeRunning, e.JobID)

	case engine.KindComplete:
		_, err = tx.ExecContext(ctx, `
			UPDATE jobs SET finish_seq = ?, outcome = ? WHERE id = ?
		`, e.Seq, OutcomeOK, e.JobID)

	case engine.KindAbort:
		_, err = tx.ExecContext(ctx, `
			UPDATE jobs SET outcome = ? WHERE id = ?
		`, OutcomeAborted, e.JobID)

	case engine.KindFault:
		// An aborted job also records a fault; keep the more specific outcome.
		_, err = tx.ExecContext(ctx, `
			UPDATE jobs
			SET finish_seq = ?,
			    detail = ?,
			    outcome = CASE WHEN outcome = ? THEN outcome ELSE ? END
			WHERE id = ?
		`, e.Seq, e.Detail, OutcomeAborted, OutcomeFault, e.JobID)

	case engine.KindDiscard:
		_, err = tx.ExecContext(ctx, `
			UPDATE jobs SET finish_seq = ?, outcome = ? WHERE id = ?
		`, e.Seq, OutcomeDiscarded, e.JobID)
	}
	return err
}

// regionCount parses the "regions=N" detail of a submit entry.
func regionCount(detail string) int64 {
	v, ok := strings.CutPrefix(detail, "regions=")
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
