package blit

import (
	"errors"
	"fmt"
)

// ContextID identifies one client context for its whole lifetime.
type ContextID string

// Op is the raster operation a job performs.
type Op string

const (
	OpCopy      Op = "copy"
	OpFill      Op = "fill"
	OpBlend     Op = "blend"
	OpRotate    Op = "rotate"
	OpScale     Op = "scale"
	OpColorKey  Op = "color_key"
	OpMaskBlend Op = "mask_blend"
)

var validOps = map[Op]bool{
	OpCopy:      true,
	OpFill:      true,
	OpBlend:     true,
	OpRotate:    true,
	OpScale:     true,
	OpColorKey:  true,
	OpMaskBlend: true,
}

// ColorFormat is the pixel layout of a surface.
type ColorFormat string

const (
	FormatRGB565   ColorFormat = "rgb565"
	FormatARGB8888 ColorFormat = "argb8888"
	FormatXRGB8888 ColorFormat = "xrgb8888"
	FormatA8       ColorFormat = "a8"
)

// bytesPerPixel maps each supported format to its pixel size.
var bytesPerPixel = map[ColorFormat]int64{
	FormatRGB565:   2,
	FormatARGB8888: 4,
	FormatXRGB8888: 4,
	FormatA8:       1,
}

// BytesPerPixel returns the pixel size of f, or 0 for an unknown format.
func (f ColorFormat) BytesPerPixel() int64 {
	return bytesPerPixel[f]
}

// Rotation is a clockwise rotation applied to the source.
type Rotation int64

const (
	Rotate0   Rotation = 0
	Rotate90  Rotation = 90
	Rotate180 Rotation = 180
	Rotate270 Rotation = 270
)

// MaxAlpha is the opaque alpha value.
const MaxAlpha = 255

// ErrInvalid is wrapped by every validation failure in this package.
var ErrInvalid = errors.New("invalid blit value")

// Rect is an axis-aligned rectangle in pixels.
type Rect struct {
	X int64 `json:"x" yaml:"x"`
	Y int64 `json:"y" yaml:"y"`
	W int64 `json:"w" yaml:"w"`
	H int64 `json:"h" yaml:"h"`
}

// Validate checks that the rectangle has a non-negative origin and a
// positive extent.
func (r Rect) Validate() error {
	if r.X < 0 || r.Y < 0 {
		return fmt.Errorf("%w: rect origin (%d,%d) is negative", ErrInvalid, r.X, r.Y)
	}
	if r.W <= 0 || r.H <= 0 {
		return fmt.Errorf("%w: rect extent %dx%d must be positive", ErrInvalid, r.W, r.H)
	}
	return nil
}

// Within reports whether r lies entirely inside a width x height plane.
func (r Rect) Within(width, height int64) bool {
	return r.X+r.W <= width && r.Y+r.H <= height
}

// Surface describes a pixel buffer in device-visible memory.
type Surface struct {
	Addr   uint64      `json:"addr" yaml:"addr"`
	Stride int64       `json:"stride" yaml:"stride"`
	Width  int64       `json:"width" yaml:"width"`
	Height int64       `json:"height" yaml:"height"`
	Format ColorFormat `json:"format" yaml:"format"`
}

// Validate checks geometry and format. The stride must hold a full row.
func (s Surface) Validate() error {
	bpp := s.Format.BytesPerPixel()
	if bpp == 0 {
		return fmt.Errorf("%w: unknown color format %q", ErrInvalid, s.Format)
	}
	if s.Width <= 0 || s.Height <= 0 {
		return fmt.Errorf("%w: surface %dx%d must be positive", ErrInvalid, s.Width, s.Height)
	}
	if s.Stride < s.Width*bpp {
		return fmt.Errorf("%w: stride %d shorter than row (%d bytes)", ErrInvalid, s.Stride, s.Width*bpp)
	}
	return nil
}

// Span returns the memory range the surface occupies.
func (s Surface) Span() MemRange {
	return MemRange{Addr: s.Addr, Size: uint64(s.Stride * s.Height)}
}

// Descriptor is the job configuration a client installs with Configure.
type Descriptor struct {
	Op     Op       `json:"op" yaml:"op"`
	Src    Surface  `json:"src" yaml:"src"`
	Dst    Surface  `json:"dst" yaml:"dst"`
	Clip   *Rect    `json:"clip,omitempty" yaml:"clip,omitempty"`
	Alpha  int64    `json:"alpha" yaml:"alpha"`
	Rotate Rotation `json:"rotate" yaml:"rotate"`
	Label  string   `json:"label,omitempty" yaml:"label,omitempty"`
}

// Validate checks every field of the descriptor.
// Fill jobs ignore the source surface.
func (d Descriptor) Validate() error {
	if !validOps[d.Op] {
		return fmt.Errorf("%w: unknown op %q", ErrInvalid, d.Op)
	}
	if d.Op != OpFill {
		if err := d.Src.Validate(); err != nil {
			return fmt.Errorf("src: %w", err)
		}
	}
	if err := d.Dst.Validate(); err != nil {
		return fmt.Errorf("dst: %w", err)
	}
	if d.Clip != nil {
		if err := d.Clip.Validate(); err != nil {
			return fmt.Errorf("clip: %w", err)
		}
		if !d.Clip.Within(d.Dst.Width, d.Dst.Height) {
			return fmt.Errorf("%w: clip outside destination", ErrInvalid)
		}
	}
	if d.Alpha < 0 || d.Alpha > MaxAlpha {
		return fmt.Errorf("%w: alpha %d out of range [0,%d]", ErrInvalid, d.Alpha, MaxAlpha)
	}
	switch d.Rotate {
	case Rotate0, Rotate90, Rotate180, Rotate270:
	default:
		return fmt.Errorf("%w: rotation %d", ErrInvalid, d.Rotate)
	}
	return nil
}

// Region is one update rectangle pair queued against a configured context.
type Region struct {
	Src Rect `json:"src" yaml:"src"`
	Dst Rect `json:"dst" yaml:"dst"`
}

// Validate checks both rectangles.
func (r Region) Validate() error {
	if err := r.Src.Validate(); err != nil {
		return fmt.Errorf("region src: %w", err)
	}
	if err := r.Dst.Validate(); err != nil {
		return fmt.Errorf("region dst: %w", err)
	}
	return nil
}

// FitsDescriptor checks the region against the surfaces of d.
func (r Region) FitsDescriptor(d Descriptor) error {
	if d.Op != OpFill && !r.Src.Within(d.Src.Width, d.Src.Height) {
		return fmt.Errorf("%w: region src outside source surface", ErrInvalid)
	}
	if !r.Dst.Within(d.Dst.Width, d.Dst.Height) {
		return fmt.Errorf("%w: region dst outside destination surface", ErrInvalid)
	}
	return nil
}

// Job is a submitted unit of work: a snapshot of the context's descriptor and
// the regions pending at submission time.
type Job struct {
	ID         string     `json:"id"`
	ContextID  ContextID  `json:"context_id"`
	Seq        int64      `json:"seq"`
	Descriptor Descriptor `json:"descriptor"`
	Regions    []Region   `json:"regions"`
}
