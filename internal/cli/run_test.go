package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/blitter/internal/engine"
	"github.com/roach88/blitter/internal/store"
)

const runTestConfig = `
engine:
  wait_timeout: 2s
device:
  latency: 200us
memory:
  - name: ram
    base: 0x10000000
    size: 0x00100000
session:
  cache_rate: 0
`

func newRunCommand(t *testing.T, format string, args ...string) (*bytes.Buffer, error) {
	t.Helper()

	buf := &bytes.Buffer{}
	cmd := NewRunCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return buf, cmd.ExecuteContext(ctx)
}

func TestRunDefaults(t *testing.T) {
	buf, err := newRunCommand(t, "text", "--sessions", "2", "--jobs", "3")
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "Ran 2 session(s) x 3 job(s)")
	assert.Contains(t, out, "=== Stats ===")
	assert.Contains(t, out, "Completed:  6")
	assert.NotContains(t, out, "=== Journal ===")
}

func TestRunWithConfigJSON(t *testing.T) {
	path := writeConfig(t, runTestConfig)

	buf, err := newRunCommand(t, "json", "--config", path, "--sessions", "3", "--jobs", "4")
	require.NoError(t, err)

	var resp struct {
		Status string    `json:"status"`
		Data   RunResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 3, resp.Data.Sessions)
	assert.Equal(t, int64(3), resp.Data.Stats.Admitted)
	assert.Equal(t, int64(3), resp.Data.Stats.Released)
	assert.Equal(t, int64(12), resp.Data.Stats.Submitted)
	assert.Equal(t, int64(12), resp.Data.Stats.Completed)
	assert.Equal(t, int64(12), resp.Data.Stats.CacheOps)
	assert.Equal(t, 0, resp.Data.Stats.Contexts)
	assert.False(t, resp.Data.Stats.Powered)
	assert.Nil(t, resp.Data.Journal)
}

func TestRunWritesJournal(t *testing.T) {
	path := writeConfig(t, runTestConfig)
	dbPath := filepath.Join(t.TempDir(), "journal.db")

	buf, err := newRunCommand(t, "json", "--config", path, "--db", dbPath, "--sessions", "2", "--jobs", "2")
	require.NoError(t, err)

	var resp struct {
		Data RunResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	require.NotNil(t, resp.Data.Journal)
	assert.Equal(t, dbPath, resp.Data.Journal.Path)
	assert.Zero(t, resp.Data.Journal.Dropped)
	assert.Positive(t, resp.Data.Journal.Written)
	assert.Equal(t, "closed", resp.Data.Journal.Breaker)

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	stats, err := st.JobStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.Total)
	assert.Equal(t, int64(4), stats.OK)

	admits, err := st.ReadEvents(ctx, store.EventFilter{Kinds: []engine.Kind{engine.KindAdmit}})
	require.NoError(t, err)
	assert.Len(t, admits, 2)
}

func TestRunContinuesJournalSequence(t *testing.T) {
	path := writeConfig(t, runTestConfig)
	dbPath := filepath.Join(t.TempDir(), "journal.db")

	_, err := newRunCommand(t, "json", "--config", path, "--db", dbPath, "--sessions", "1", "--jobs", "1")
	require.NoError(t, err)
	_, err = newRunCommand(t, "json", "--config", path, "--db", dbPath, "--sessions", "1", "--jobs", "1")
	require.NoError(t, err)

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	events, err := st.ReadEvents(context.Background(), store.EventFilter{})
	require.NoError(t, err)
	require.NotEmpty(t, events)
	for i := 1; i < len(events); i++ {
		assert.Greater(t, events[i].Seq, events[i-1].Seq)
	}

	admits, err := st.ReadEvents(context.Background(), store.EventFilter{Kinds: []engine.Kind{engine.KindAdmit}})
	require.NoError(t, err)
	assert.Len(t, admits, 2)
}

func TestRunInvalidCounts(t *testing.T) {
	_, err := newRunCommand(t, "text", "--sessions", "0")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "must be positive")
}

func TestRunMissingConfig(t *testing.T) {
	_, err := newRunCommand(t, "text", "--config", "/nonexistent/blitter.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load config")
}

func TestRunBankTooSmall(t *testing.T) {
	path := writeConfig(t, `
memory:
  - name: tiny
    base: 0x1000
    size: 0x4000
`)
	_, err := newRunCommand(t, "text", "--config", path, "--sessions", "4")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "no memory bank can hold")
}

func TestRunTooManySessions(t *testing.T) {
	path := writeConfig(t, `
engine:
  wait_timeout: 2s
  max_contexts: 1
device:
  latency: 5ms
`)

	buf, err := newRunCommand(t, "json", "--config", path, "--sessions", "4", "--jobs", "4")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(engine.ErrCodeResourceExhausted), resp.Error.Code)
}

func TestRunCustomIDs(t *testing.T) {
	buf := &bytes.Buffer{}
	opts := &RunOptions{
		RootOptions: &RootOptions{Format: "text"},
		Sessions:    1,
		Jobs:        1,
		IDGenerator: engine.NewFixedGenerator("ctx-fixed"),
		Database:    filepath.Join(t.TempDir(), "journal.db"),
	}
	cmd := NewRunCommand(opts.RootOptions)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetContext(context.Background())

	require.NoError(t, runEngine(opts, cmd))

	st, err := store.Open(opts.Database)
	require.NoError(t, err)
	defer st.Close()

	jobs, err := st.ReadJobs(context.Background(), "ctx-fixed")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, store.OutcomeOK, jobs[0].Outcome)
}
