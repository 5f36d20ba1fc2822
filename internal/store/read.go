package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/roach88/blitter/internal/blit"
	"github.com/roach88/blitter/internal/engine"
)

// EventFilter selects journal entries.
// Zero-valued fields do not filter.
type EventFilter struct {
	ContextID blit.ContextID
	Kinds     []engine.Kind
	AfterSeq  int64
	Limit     int
}

// ReadEvents returns entries matching f ordered by seq.
// Returns an empty slice (not nil) if nothing matches.
func (s *Store) ReadEvents(ctx context.Context, f EventFilter) ([]engine.Entry, error) {
	var (
		where []string
		args  []any
	)
	if f.ContextID != "" {
		where = append(where, "context_id = ?")
		args = append(args, string(f.ContextID))
	}
	if len(f.Kinds) > 0 {
		marks := make([]string, len(f.Kinds))
		for i, k := range f.Kinds {
			marks[i] = "?"
			args = append(args, string(k))
		}
		where = append(where, "kind IN ("+strings.Join(marks, ", ")+")")
	}
	if f.AfterSeq > 0 {
		where = append(where, "seq > ?")
		args = append(args, f.AfterSeq)
	}

	query := "SELECT seq, kind, context_id, job_id, job_seq, detail FROM events"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	entries := []engine.Entry{}
	for rows.Next() {
		var (
			e         engine.Entry
			kind, cid string
		)
		if err := rows.Scan(&e.Seq, &kind, &cid, &e.JobID, &e.JobSeq, &e.Detail); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Kind = engine.Kind(kind)
		e.ContextID = blit.ContextID(cid)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return entries, nil
}

// JobRow is the folded history of one job.
// Seq fields are 0 until the job reaches that stage.
type JobRow struct {
	ID          string         `json:"id"`
	ContextID   blit.ContextID `json:"context_id"`
	JobSeq      int64          `json:"job_seq"`
	Regions     int64          `json:"regions"`
	SubmitSeq   int64          `json:"submit_seq"`
	DispatchSeq int64          `json:"dispatch_seq,omitempty"`
	FinishSeq   int64          `json:"finish_seq,omitempty"`
	Outcome     string         `json:"outcome"`
	Detail      string         `json:"detail,omitempty"`
}

const jobColumns = `id, context_id, job_seq, regions, submit_seq, dispatch_seq, finish_seq, outcome, detail`

// ReadJob returns a job by ID.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadJob(ctx context.Context, id string) (JobRow, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	return scanJob(row)
}

// ReadJobs returns the jobs of a context ordered by submission.
// An empty contextID returns every job.
func (s *Store) ReadJobs(ctx context.Context, contextID blit.ContextID) ([]JobRow, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	var args []any
	if contextID != "" {
		query += ` WHERE context_id = ?`
		args = append(args, string(contextID))
	}
	query += ` ORDER BY submit_seq ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	jobs := []JobRow{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(sc scanner) (JobRow, error) {
	var (
		j                     JobRow
		cid                   string
		dispatchSeq, finishSq sql.NullInt64
	)
	err := sc.Scan(&j.ID, &cid, &j.JobSeq, &j.Regions, &j.SubmitSeq, &dispatchSeq, &finishSq, &j.Outcome, &j.Detail)
	if err != nil {
		if err == sql.ErrNoRows {
			return JobRow{}, err
		}
		return JobRow{}, fmt.Errorf("scan job: %w", err)
	}
	j.ContextID = blit.ContextID(cid)
	j.DispatchSeq = dispatchSeq.Int64
	j.FinishSeq = finishSq.Int64
	return j, nil
}

// JobStats counts jobs by outcome.
type JobStats struct {
	Total     int64 `json:"total"`
	Pending   int64 `json:"pending"`
	Running   int64 `json:"running"`
	OK        int64 `json:"ok"`
	Faulted   int64 `json:"faulted"`
	Aborted   int64 `json:"aborted"`
	Discarded int64 `json:"discarded"`
}

// JobStats aggregates the jobs table.
func (s *Store) JobStats(ctx context.Context) (JobStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT outcome, COUNT(*) FROM jobs GROUP BY outcome ORDER BY outcome
	`)
	if err != nil {
		return JobStats{}, fmt.Errorf("query job stats: %w", err)
	}
	defer rows.Close()

	var st JobStats
	for rows.Next() {
		var (
			outcome string
			n       int64
		)
		if err := rows.Scan(&outcome, &n); err != nil {
			return JobStats{}, fmt.Errorf("scan job stats: %w", err)
		}
		st.Total += n
		switch outcome {
		case OutcomePending:
			st.Pending = n
		case OutcomeRunning:
			st.Running = n
		case OutcomeOK:
			st.OK = n
		case OutcomeFault:
			st.Faulted = n
		case OutcomeAborted:
			st.Aborted = n
		case OutcomeDiscarded:
			st.Discarded = n
		}
	}
	if err := rows.Err(); err != nil {
		return JobStats{}, fmt.Errorf("iterate job stats: %w", err)
	}
	return st, nil
}

// LastSeq returns the highest recorded seq, or 0 for an empty journal.
// A new engine continues the journal with engine.NewClockAt(LastSeq).
func (s *Store) LastSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM events`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("query last seq: %w", err)
	}
	return seq.Int64, nil
}
