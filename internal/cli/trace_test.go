package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/blitter/internal/engine"
	"github.com/roach88/blitter/internal/store"
)

// seedJournal writes two contexts: ctx-a completes one job, ctx-b faults one.
func seedJournal(t *testing.T) string {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "journal.db")
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	entries := []engine.Entry{
		{Seq: 1, Kind: engine.KindAdmit, ContextID: "ctx-a"},
		{Seq: 2, Kind: engine.KindAdmit, ContextID: "ctx-b"},
		{Seq: 3, Kind: engine.KindSubmit, ContextID: "ctx-a", JobID: "job-a1", JobSeq: 1, Detail: "regions=2"},
		{Seq: 4, Kind: engine.KindDispatch, ContextID: "ctx-a", JobID: "job-a1", JobSeq: 1},
		{Seq: 5, Kind: engine.KindSubmit, ContextID: "ctx-b", JobID: "job-b1", JobSeq: 1, Detail: "regions=1"},
		{Seq: 6, Kind: engine.KindQueue, ContextID: "ctx-b", JobID: "job-b1", JobSeq: 1, Detail: "depth=0"},
		{Seq: 7, Kind: engine.KindComplete, ContextID: "ctx-a", JobID: "job-a1", JobSeq: 1},
		{Seq: 8, Kind: engine.KindDispatch, ContextID: "ctx-b", JobID: "job-b1", JobSeq: 1},
		{Seq: 9, Kind: engine.KindFault, ContextID: "ctx-b", JobID: "job-b1", JobSeq: 1, Detail: "simulated device fault"},
		{Seq: 10, Kind: engine.KindRelease, ContextID: "ctx-a"},
		{Seq: 11, Kind: engine.KindRelease, ContextID: "ctx-b"},
	}
	require.NoError(t, st.WriteEntries(context.Background(), entries))
	return dbPath
}

func executeTrace(t *testing.T, format string, args ...string) (*bytes.Buffer, error) {
	t.Helper()

	buf := &bytes.Buffer{}
	cmd := NewTraceCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	return buf, cmd.Execute()
}

func TestTraceMissingDatabaseFlag(t *testing.T) {
	_, err := executeTrace(t, "text", "--context", "ctx-a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}

func TestTraceNonExistentDatabase(t *testing.T) {
	_, err := executeTrace(t, "text", "--db", "/nonexistent/path/journal.db")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "database not found")
}

func TestTraceEmptyJournal(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "journal.db")
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	st.Close()

	buf, err := executeTrace(t, "text", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "No events found.")
}

func TestTraceUnknownContext(t *testing.T) {
	dbPath := seedJournal(t)

	buf, err := executeTrace(t, "text", "--db", dbPath, "--context", "ctx-missing")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "No events found for context: ctx-missing")
}

func TestTraceText(t *testing.T) {
	dbPath := seedJournal(t)

	buf, err := executeTrace(t, "text", "--db", dbPath)
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "Trace: 2 context(s)")
	assert.Contains(t, output, "=== Timeline ===")
	assert.Contains(t, output, "[3] SUBMIT ctx-a #1 (regions=2)")
	assert.Contains(t, output, "[9] FAULT ctx-b #1 (simulated device fault)")
	assert.Contains(t, output, "=== Jobs ===")
	assert.Contains(t, output, "ctx-a #1 ok        regions=2 submit=3 dispatch=4 finish=7")
	assert.Contains(t, output, "=== Stats ===")
	assert.Contains(t, output, "Completed:    1")
	assert.Contains(t, output, "Faulted:      1")
}

func TestTraceContextFilter(t *testing.T) {
	dbPath := seedJournal(t)

	buf, err := executeTrace(t, "text", "--db", dbPath, "--context", "ctx-b")
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "Trace for Context: ctx-b")
	assert.Contains(t, output, "QUEUE ctx-b")
	assert.NotContains(t, output, "ctx-a")
	assert.Contains(t, output, "Jobs:         1")
}

func TestTraceVerbose(t *testing.T) {
	dbPath := seedJournal(t)

	buf := &bytes.Buffer{}
	cmd := NewTraceCommand(&RootOptions{Format: "text", Verbose: true})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--db", dbPath, "--context", "ctx-b"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "Job: job-b1")
	assert.Contains(t, buf.String(), "Detail: simulated device fault")
}

func TestTraceJSON(t *testing.T) {
	dbPath := seedJournal(t)

	buf, err := executeTrace(t, "json", "--db", dbPath, "--kind", "dispatch", "--kind", "complete")
	require.NoError(t, err)

	var resp struct {
		Status string      `json:"status"`
		Data   TraceResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data.Timeline, 3)
	assert.Equal(t, engine.KindDispatch, resp.Data.Timeline[0].Kind)
	assert.Equal(t, engine.KindComplete, resp.Data.Timeline[1].Kind)
	assert.Equal(t, int64(8), resp.Data.Timeline[2].Seq)
	assert.Equal(t, 3, resp.Data.Stats.TotalEvents)
	assert.Equal(t, int64(2), resp.Data.Stats.Jobs.Total)
	require.Len(t, resp.Data.Jobs, 2)
	assert.Equal(t, store.OutcomeFault, resp.Data.Jobs[1].Outcome)
}

func TestTraceLimit(t *testing.T) {
	dbPath := seedJournal(t)

	buf, err := executeTrace(t, "json", "--db", dbPath, "--limit", "2")
	require.NoError(t, err)

	var resp struct {
		Data TraceResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Len(t, resp.Data.Timeline, 2)
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "ctx-1", truncateID("ctx-1"))
	assert.Equal(t, "0192f0c1...9a7b3c4d", truncateID("0192f0c1-0000-7000-8000-00009a7b3c4d"))
}
