package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/blitter/internal/blit"
)

func TestMemoryJournal(t *testing.T) {
	j := NewMemoryJournal()
	j.Record(Entry{Seq: 1, Kind: KindAdmit, ContextID: "a"})
	j.Record(Entry{Seq: 2, Kind: KindAdmit, ContextID: "b"})
	j.Record(Entry{Seq: 3, Kind: KindRelease, ContextID: "a"})

	assert.Len(t, j.Entries(), 3)
	assert.Equal(t, []Kind{KindAdmit, KindRelease}, j.Kinds("a"))
	assert.Equal(t, []Kind{KindAdmit, KindAdmit, KindRelease}, j.Kinds(""))
	assert.Equal(t, 2, j.Count(KindAdmit))
}

func TestTee(t *testing.T) {
	a, b := NewMemoryJournal(), NewMemoryJournal()
	Tee(a, b).Record(Entry{Seq: 1, Kind: KindCache})
	assert.Len(t, a.Entries(), 1)
	assert.Len(t, b.Entries(), 1)
}

func TestEngine_JournalSeqIsMonotonic(t *testing.T) {
	e := newTestEngine(t, nil)
	id := admitConfigured(t, e)
	_, err := e.Submit(id)
	assert.NoError(t, err)

	var last int64
	for _, entry := range e.journal.Entries() {
		assert.Greater(t, entry.Seq, last)
		last = entry.Seq
	}
}

func TestEngine_JournalOrderUnderConcurrentCacheOps(t *testing.T) {
	e := newTestEngine(t, nil)

	const workers = 8
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := e.Admit()
			if !assert.NoError(t, err) {
				return
			}
			for j := 0; j < 20; j++ {
				assert.NoError(t, e.CacheOp(id, blit.MemRange{}, blit.CacheFlushAll))
			}
		}()
	}
	wg.Wait()

	entries := e.journal.Entries()
	require.Len(t, entries, workers*21)
	for i := 1; i < len(entries); i++ {
		assert.Greater(t, entries[i].Seq, entries[i-1].Seq)
	}
}
