package labelprop

import (
	"fmt"
	"math"
)

// Features is a dense embedding tensor laid out [C][T][H][W].
type Features struct {
	C, T, H, W int
	Data       []float32
}

// NewFeatures allocates a zeroed tensor.
func NewFeatures(c, t, h, w int) *Features {
	return &Features{C: c, T: t, H: h, W: w, Data: make([]float32, c*t*h*w)}
}

func (f *Features) offset(c, t, y, x int) int {
	return ((c*f.T+t)*f.H+y)*f.W + x
}

func (f *Features) At(c, t, y, x int) float32 {
	return f.Data[f.offset(c, t, y, x)]
}

func (f *Features) Set(c, t, y, x int, v float32) {
	f.Data[f.offset(c, t, y, x)] = v
}

// Positions is H*W.
func (f *Features) Positions() int {
	return f.H * f.W
}

// Normalize L2-normalises every embedding along the channel axis in place.
func (f *Features) Normalize() {
	plane := f.T * f.H * f.W
	for i := range plane {
		sum := 0.0
		for c := range f.C {
			v := float64(f.Data[c*plane+i])
			sum += v * v
		}
		inv := 1.0 / max(math.Sqrt(sum), 1e-12)
		for c := range f.C {
			f.Data[c*plane+i] = float32(float64(f.Data[c*plane+i]) * inv)
		}
	}
}

// ConcatTime joins clips of the same channel count and resolution along T.
func ConcatTime(parts ...*Features) (*Features, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: nothing to concatenate", ErrShapeMismatch)
	}
	c, h, w := parts[0].C, parts[0].H, parts[0].W
	total := 0
	for _, p := range parts {
		if p.C != c || p.H != h || p.W != w {
			return nil, fmt.Errorf("%w: clip %dx%dx%d vs %dx%dx%d", ErrShapeMismatch, p.C, p.H, p.W, c, h, w)
		}
		total += p.T
	}
	out := NewFeatures(c, total, h, w)
	plane := h * w
	for ch := range c {
		dst := out.Data[ch*total*plane:]
		off := 0
		for _, p := range parts {
			n := p.T * plane
			copy(dst[off:off+n], p.Data[ch*n:(ch+1)*n])
			off += n
		}
	}
	return out, nil
}

// pixelMajor copies frame t into dst as [position][channel].
func (f *Features) pixelMajor(t int, dst []float32) {
	plane := f.T * f.H * f.W
	hw := f.H * f.W
	base := t * hw
	for p := range hw {
		row := dst[p*f.C : (p+1)*f.C]
		for c := range f.C {
			row[c] = f.Data[c*plane+base+p]
		}
	}
}
