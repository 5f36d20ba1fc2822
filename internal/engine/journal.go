package engine

import (
	"sync"

	"github.com/roach88/blitter/internal/blit"
)

// Kind names a journal entry.
type Kind string

const (
	KindAdmit     Kind = "admit"
	KindRelease   Kind = "release"
	KindConfigure Kind = "configure"
	KindRegion    Kind = "region"
	KindSubmit    Kind = "submit"
	KindQueue     Kind = "queue"
	KindDispatch  Kind = "dispatch"
	KindComplete  Kind = "complete"
	KindFault     Kind = "fault"
	KindTimeout   Kind = "timeout"
	KindAbort     Kind = "abort"
	KindDiscard   Kind = "discard"
	KindCache     Kind = "cache"
	KindSpurious  Kind = "spurious"
	KindSuspend   Kind = "suspend"
	KindResume    Kind = "resume"
)

// Entry is one journal record. Seq comes from the engine clock and totally
// orders entries.
type Entry struct {
	Seq       int64          `json:"seq"`
	Kind      Kind           `json:"kind"`
	ContextID blit.ContextID `json:"context_id,omitempty"`
	JobID     string         `json:"job_id,omitempty"`
	JobSeq    int64          `json:"job_seq,omitempty"`
	Detail    string         `json:"detail,omitempty"`
}

// Journal receives engine entries.
//
// Record is called with the engine lock held and from the completion path,
// so implementations must not block.
type Journal interface {
	Record(Entry)
}

type nopJournal struct{}

func (nopJournal) Record(Entry) {}

// MemoryJournal keeps entries in memory.
// Thread-safety: MemoryJournal is safe for concurrent use.
type MemoryJournal struct {
	mu      sync.Mutex
	entries []Entry
}

// NewMemoryJournal creates an empty journal.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{}
}

// Record appends e.
func (j *MemoryJournal) Record(e Entry) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, e)
}

// Entries returns a copy of all entries in seq order.
func (j *MemoryJournal) Entries() []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Entry, len(j.entries))
	copy(out, j.entries)
	return out
}

// Kinds returns the kinds recorded for id, in order.
// An empty id selects every entry.
func (j *MemoryJournal) Kinds(id blit.ContextID) []Kind {
	j.mu.Lock()
	defer j.mu.Unlock()
	var kinds []Kind
	for _, e := range j.entries {
		if id == "" || e.ContextID == id {
			kinds = append(kinds, e.Kind)
		}
	}
	return kinds
}

// Count returns how many entries of kind k were recorded.
func (j *MemoryJournal) Count(k Kind) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	n := 0
	for _, e := range j.entries {
		if e.Kind == k {
			n++
		}
	}
	return n
}

// teeJournal fans entries out to several journals.
type teeJournal []Journal

func (t teeJournal) Record(e Entry) {
	for _, j := range t {
		j.Record(e)
	}
}

// Tee returns a journal that records to every journal in js.
func Tee(js ...Journal) Journal {
	return teeJournal(js)
}
