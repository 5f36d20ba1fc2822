package blit

import "fmt"

// CacheDirection selects a cache maintenance operation.
type CacheDirection int

const (
	// CacheInvalidate discards CPU cache lines so the CPU sees device writes.
	CacheInvalidate CacheDirection = iota + 1
	// CacheClean writes dirty lines back so the device sees CPU writes.
	CacheClean
	// CacheFlush cleans then invalidates the range.
	CacheFlush
	// CacheFlushAll flushes the entire cache; the range is ignored.
	CacheFlushAll
)

var cacheDirectionNames = map[CacheDirection]string{
	CacheInvalidate: "invalidate",
	CacheClean:      "clean",
	CacheFlush:      "flush",
	CacheFlushAll:   "flush_all",
}

func (d CacheDirection) String() string {
	if name, ok := cacheDirectionNames[d]; ok {
		return name
	}
	return fmt.Sprintf("CacheDirection(%d)", int(d))
}

// Valid reports whether d is a known direction.
func (d CacheDirection) Valid() bool {
	_, ok := cacheDirectionNames[d]
	return ok
}

// ParseCacheDirection converts a name produced by String back to a direction.
func ParseCacheDirection(s string) (CacheDirection, error) {
	for d, name := range cacheDirectionNames {
		if name == s {
			return d, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown cache direction %q", ErrInvalid, s)
}

// MemRange is a span of device-visible memory.
type MemRange struct {
	Addr uint64 `json:"addr" yaml:"addr"`
	Size uint64 `json:"size" yaml:"size"`
}

// End returns the first address past the range.
// ok is false when the range wraps the address space.
func (r MemRange) End() (end uint64, ok bool) {
	end = r.Addr + r.Size
	return end, end >= r.Addr
}

// Contains reports whether other lies entirely inside r.
func (r MemRange) Contains(other MemRange) bool {
	end, ok := r.End()
	otherEnd, otherOK := other.End()
	if !ok || !otherOK {
		return false
	}
	return other.Addr >= r.Addr && otherEnd <= end
}

func (r MemRange) String() string {
	return fmt.Sprintf("[%#x+%#x]", r.Addr, r.Size)
}
