package hal

import (
	"errors"
	"fmt"
	"sort"

	"github.com/roach88/blitter/internal/blit"
)

// ErrUnbacked is returned when a range is not inside any memory bank.
var ErrUnbacked = errors.New("range not backed by a memory bank")

// Bank is a named span of device-visible memory.
type Bank struct {
	Name string `json:"name" yaml:"name"`
	Base uint64 `json:"base" yaml:"base"`
	Size uint64 `json:"size" yaml:"size"`
}

// Range returns the bank as a memory range.
func (b Bank) Range() blit.MemRange {
	return blit.MemRange{Addr: b.Base, Size: b.Size}
}

// MemoryMap resolves address ranges to the bank that backs them.
// It is immutable after construction and safe for concurrent use.
type MemoryMap struct {
	banks []Bank // sorted by Base
}

// NewMemoryMap validates and indexes banks.
// Banks must be non-empty, must not wrap the address space, and must not overlap.
func NewMemoryMap(banks ...Bank) (*MemoryMap, error) {
	sorted := make([]Bank, len(banks))
	copy(sorted, banks)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Base < sorted[j].Base })

	names := make(map[string]bool, len(sorted))
	for i, b := range sorted {
		if b.Name == "" {
			return nil, fmt.Errorf("bank at %#x: name is required", b.Base)
		}
		if names[b.Name] {
			return nil, fmt.Errorf("bank %q: duplicate name", b.Name)
		}
		names[b.Name] = true
		if b.Size == 0 {
			return nil, fmt.Errorf("bank %q: size must be positive", b.Name)
		}
		end, ok := b.Range().End()
		if !ok {
			return nil, fmt.Errorf("bank %q: wraps the address space", b.Name)
		}
		if i+1 < len(sorted) && sorted[i+1].Base < end {
			return nil, fmt.Errorf("bank %q overlaps bank %q", b.Name, sorted[i+1].Name)
		}
	}
	return &MemoryMap{banks: sorted}, nil
}

// Resolve returns the bank that fully contains r.
// Empty ranges and ranges straddling banks are unbacked.
func (m *MemoryMap) Resolve(r blit.MemRange) (Bank, error) {
	if r.Size == 0 {
		return Bank{}, fmt.Errorf("%w: empty range %s", ErrUnbacked, r)
	}
	i := sort.Search(len(m.banks), func(i int) bool { return m.banks[i].Base > r.Addr })
	if i > 0 && m.banks[i-1].Range().Contains(r) {
		return m.banks[i-1], nil
	}
	return Bank{}, fmt.Errorf("%w: %s", ErrUnbacked, r)
}

// Banks returns a copy of the banks ordered by base address.
func (m *MemoryMap) Banks() []Bank {
	out := make([]Bank, len(m.banks))
	copy(out, m.banks)
	return out
}
