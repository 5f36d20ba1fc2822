package blit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescriptorValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Descriptor)
		errMsg string
	}{
		{name: "valid", mutate: func(*Descriptor) {}},
		{name: "unknown op", mutate: func(d *Descriptor) { d.Op = "smear" }, errMsg: "unknown op"},
		{name: "unknown format", mutate: func(d *Descriptor) { d.Dst.Format = "yuv" }, errMsg: "unknown color format"},
		{name: "short stride", mutate: func(d *Descriptor) { d.Src.Stride = 10 }, errMsg: "stride"},
		{name: "zero height", mutate: func(d *Descriptor) { d.Dst.Height = 0 }, errMsg: "must be positive"},
		{name: "alpha too large", mutate: func(d *Descriptor) { d.Alpha = 256 }, errMsg: "alpha"},
		{name: "negative alpha", mutate: func(d *Descriptor) { d.Alpha = -1 }, errMsg: "alpha"},
		{name: "bad rotation", mutate: func(d *Descriptor) { d.Rotate = 45 }, errMsg: "rotation"},
		{name: "clip outside", mutate: func(d *Descriptor) { d.Clip = &Rect{X: 60, W: 10, H: 1} }, errMsg: "clip outside"},
		{name: "fill ignores src", mutate: func(d *Descriptor) { d.Op = OpFill; d.Src = Surface{} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := testDescriptor()
			tt.mutate(&d)
			err := d.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestRegionFitsDescriptor(t *testing.T) {
	d := testDescriptor()

	ok := Region{Src: Rect{W: 64, H: 64}, Dst: Rect{W: 64, H: 64}}
	require.NoError(t, ok.Validate())
	assert.NoError(t, ok.FitsDescriptor(d))

	outside := Region{Src: Rect{X: 1, W: 64, H: 64}, Dst: Rect{W: 1, H: 1}}
	assert.ErrorIs(t, outside.FitsDescriptor(d), ErrInvalid)

	empty := Region{Src: Rect{W: 0, H: 1}, Dst: Rect{W: 1, H: 1}}
	assert.ErrorIs(t, empty.Validate(), ErrInvalid)
}

func TestSurfaceSpan(t *testing.T) {
	s := Surface{Addr: 0x1000, Stride: 256, Width: 64, Height: 4, Format: FormatARGB8888}
	assert.Equal(t, MemRange{Addr: 0x1000, Size: 1024}, s.Span())
}

func TestCacheDirection_RoundTrip(t *testing.T) {
	for _, d := range []CacheDirection{CacheInvalidate, CacheClean, CacheFlush, CacheFlushAll} {
		parsed, err := ParseCacheDirection(d.String())
		require.NoError(t, err)
		assert.Equal(t, d, parsed)
		assert.True(t, d.Valid())
	}

	_, err := ParseCacheDirection("scrub")
	assert.ErrorIs(t, err, ErrInvalid)
	assert.False(t, CacheDirection(0).Valid())
	assert.Equal(t, "CacheDirection(9)", CacheDirection(9).String())
}

func TestMemRange(t *testing.T) {
	bank := MemRange{Addr: 0x1000, Size: 0x1000}

	assert.True(t, bank.Contains(MemRange{Addr: 0x1000, Size: 0x1000}))
	assert.True(t, bank.Contains(MemRange{Addr: 0x1800, Size: 0x10}))
	assert.False(t, bank.Contains(MemRange{Addr: 0x1800, Size: 0x1000}))
	assert.False(t, bank.Contains(MemRange{Addr: 0x0800, Size: 0x10}))

	wrap := MemRange{Addr: ^uint64(0), Size: 2}
	_, ok := wrap.End()
	assert.False(t, ok)
	assert.False(t, bank.Contains(wrap))
	assert.Equal(t, "[0x1000+0x1000]", bank.String())
}
