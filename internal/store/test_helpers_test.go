package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/blitter/internal/blit"
	"github.com/roach88/blitter/internal/engine"
)

// createTestStore creates a new store in a temp directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// jobEntries returns the entries of one job's life: submit, dispatch and
// the given terminal kinds, starting at seq.
func jobEntries(ctx blit.ContextID, jobID string, jobSeq, seq int64, terminal ...engine.Kind) []engine.Entry {
	entries := []engine.Entry{
		{Seq: seq, Kind: engine.KindSubmit, ContextID: ctx, JobID: jobID, JobSeq: jobSeq, Detail: "regions=2"},
		{Seq: seq + 1, Kind: engine.KindDispatch, ContextID: ctx, JobID: jobID, JobSeq: jobSeq},
	}
	for i, k := range terminal {
		e := engine.Entry{Seq: seq + 2 + int64(i), Kind: k, ContextID: ctx, JobID: jobID, JobSeq: jobSeq}
		if k == engine.KindFault {
			e.Detail = "device reported fault"
		}
		entries = append(entries, e)
	}
	return entries
}

func engineDescriptor() blit.Descriptor {
	return blit.Descriptor{
		Op:    blit.OpFill,
		Dst:   blit.Surface{Addr: 0x20000, Stride: 128, Width: 32, Height: 32, Format: blit.FormatARGB8888},
		Alpha: blit.MaxAlpha,
	}
}
