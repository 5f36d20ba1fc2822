package hal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/blitter/internal/blit"
)

func TestNewMemoryMap_Validation(t *testing.T) {
	tests := []struct {
		name   string
		banks  []Bank
		errMsg string
	}{
		{name: "empty map", banks: nil},
		{name: "disjoint", banks: []Bank{{Name: "b", Base: 0x2000, Size: 0x1000}, {Name: "a", Base: 0x1000, Size: 0x1000}}},
		{name: "overlap", banks: []Bank{{Name: "a", Base: 0x1000, Size: 0x1001}, {Name: "b", Base: 0x2000, Size: 0x10}}, errMsg: "overlaps"},
		{name: "zero size", banks: []Bank{{Name: "a", Base: 0x1000}}, errMsg: "size must be positive"},
		{name: "duplicate name", banks: []Bank{{Name: "a", Base: 0, Size: 1}, {Name: "a", Base: 8, Size: 1}}, errMsg: "duplicate"},
		{name: "missing name", banks: []Bank{{Base: 0, Size: 1}}, errMsg: "name is required"},
		{name: "wraps", banks: []Bank{{Name: "a", Base: ^uint64(0), Size: 2}}, errMsg: "wraps"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewMemoryMap(tt.banks...)
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestMemoryMap_Resolve(t *testing.T) {
	m, err := NewMemoryMap(
		Bank{Name: "fb", Base: 0x1000, Size: 0x1000},
		Bank{Name: "scratch", Base: 0x2000, Size: 0x1000},
	)
	require.NoError(t, err)

	bank, err := m.Resolve(blit.MemRange{Addr: 0x1800, Size: 0x100})
	require.NoError(t, err)
	assert.Equal(t, "fb", bank.Name)

	bank, err = m.Resolve(blit.MemRange{Addr: 0x2000, Size: 0x1000})
	require.NoError(t, err)
	assert.Equal(t, "scratch", bank.Name)

	_, err = m.Resolve(blit.MemRange{Addr: 0x1f00, Size: 0x200})
	assert.ErrorIs(t, err, ErrUnbacked, "ranges straddling banks are unbacked")

	_, err = m.Resolve(blit.MemRange{Addr: 0x10, Size: 0x10})
	assert.ErrorIs(t, err, ErrUnbacked)

	_, err = m.Resolve(blit.MemRange{Addr: 0x1000, Size: 0})
	assert.ErrorIs(t, err, ErrUnbacked)

	assert.Equal(t, []string{"fb", "scratch"}, []string{m.Banks()[0].Name, m.Banks()[1].Name})
}
