package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/roach88/blitter/internal/blit"
	"github.com/roach88/blitter/internal/hal"
)

// testEngine bundles an engine with its simulated collaborators.
type testEngine struct {
	*Engine
	dev     *hal.SimDevice
	journal *MemoryJournal
}

// newTestEngine builds an engine over a manual SimDevice and starts its
// executor. The executor stops when the test ends.
func newTestEngine(t *testing.T, devOpts []hal.SimOption, opts ...Option) *testEngine {
	t.Helper()

	dev := hal.NewSimDevice(devOpts...)
	journal := NewMemoryJournal()
	all := append([]Option{WithJournal(journal)}, opts...)
	e := New(dev, all...)
	dev.Attach(e)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return &testEngine{Engine: e, dev: dev, journal: journal}
}

func testDescriptor() blit.Descriptor {
	return blit.Descriptor{
		Op:    blit.OpCopy,
		Src:   blit.Surface{Addr: 0x10000, Stride: 256, Width: 64, Height: 64, Format: blit.FormatARGB8888},
		Dst:   blit.Surface{Addr: 0x20000, Stride: 256, Width: 64, Height: 64, Format: blit.FormatARGB8888},
		Alpha: blit.MaxAlpha,
	}
}

func testRegion() blit.Region {
	return blit.Region{Src: blit.Rect{W: 8, H: 8}, Dst: blit.Rect{X: 8, Y: 8, W: 8, H: 8}}
}

// admitConfigured admits a context and installs the test descriptor.
func admitConfigured(t *testing.T, e *testEngine) blit.ContextID {
	t.Helper()
	id, err := e.Admit()
	require.NoError(t, err)
	require.NoError(t, e.Configure(context.Background(), id, testDescriptor()))
	return id
}

// waitInFlight blocks until the executor has handed a job to the device.
func waitInFlight(t *testing.T, e *testEngine) {
	t.Helper()
	require.Eventually(t, func() bool { return e.dev.InFlight() == 1 },
		time.Second, time.Millisecond, "job never reached the device")
}

// mockPower is a testify mock of hal.Power.
type mockPower struct {
	mock.Mock
}

func (m *mockPower) Enable() error {
	args := m.Called()
	return args.Error(0)
}

func (m *mockPower) Disable() error {
	args := m.Called()
	return args.Error(0)
}

// kindsOf filters journal kinds for one context.
func kindsOf(e *testEngine, id blit.ContextID) []Kind {
	return e.journal.Kinds(id)
}

// seqOf returns the seq of the first entry matching kind and context.
func seqOf(t *testing.T, e *testEngine, kind Kind, id blit.ContextID) int64 {
	t.Helper()
	for _, entry := range e.journal.Entries() {
		if entry.Kind == kind && entry.ContextID == id {
			return entry.Seq
		}
	}
	t.Fatalf("no %s entry for %s", kind, id)
	return 0
}
