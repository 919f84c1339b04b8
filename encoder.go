package labelprop

import (
	"context"
	"fmt"
	"image"

	"github.com/lucasb-eyer/go-colorful"
)

// Encoder maps a clip of frames to per-pixel embeddings at reduced resolution.
type Encoder interface {
	Encode(ctx context.Context, frames []image.Image) (*Features, error)
	// MapScale is the downsampling factor between frames and features.
	MapScale() image.Point
}

// ColorEncoder embeds every Scale×Scale block as its mean CIE-Lab colour.
// It needs no weights and is meant as a baseline and for tests.
type ColorEncoder struct {
	Scale int
}

func (e ColorEncoder) MapScale() image.Point {
	return image.Pt(e.Scale, e.Scale)
}

func (e ColorEncoder) Encode(ctx context.Context, frames []image.Image) (*Features, error) {
	if e.Scale <= 0 {
		return nil, fmt.Errorf("%w: encoder scale %d", ErrInvalidOptions, e.Scale)
	}
	if len(frames) == 0 {
		return nil, ErrEmptyVideo
	}
	size := frames[0].Bounds().Size()
	h, w := size.Y/e.Scale, size.X/e.Scale
	if h == 0 || w == 0 {
		return nil, fmt.Errorf("%w: frame %v smaller than scale %d", ErrShapeMismatch, size, e.Scale)
	}

	feats := NewFeatures(3, len(frames), h, w)
	area := float64(e.Scale * e.Scale)
	for t, img := range frames {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b := img.Bounds()
		if b.Size() != size {
			return nil, fmt.Errorf("%w: frame %d is %v, want %v", ErrShapeMismatch, t, b.Size(), size)
		}
		for y := range h {
			for x := range w {
				var sl, sa, sb float64
				for dy := range e.Scale {
					for dx := range e.Scale {
						c, _ := colorful.MakeColor(img.At(b.Min.X+x*e.Scale+dx, b.Min.Y+y*e.Scale+dy))
						l, a, bb := c.Lab()
						sl += l
						sa += a
						sb += bb
					}
				}
				feats.Set(0, t, y, x, float32(sl/area))
				feats.Set(1, t, y, x, float32(sa/area))
				feats.Set(2, t, y, x, float32(sb/area))
			}
		}
	}
	return feats, nil
}
