package labelprop

import (
	"context"
	"image"
	"image/color"
	"math/rand/v2"
)

func randomFeatures(c, t, h, w int, seed uint64) *Features {
	rng := rand.New(rand.NewPCG(seed, 7))
	f := NewFeatures(c, t, h, w)
	for i := range f.Data {
		f.Data[i] = float32(rng.NormFloat64())
	}
	f.Normalize()
	return f
}

// oneHotRows returns rows of random one-hot labels, [h*w][n] each.
func oneHotRows(rows, positions, n int, seed uint64) [][]float32 {
	rng := rand.New(rand.NewPCG(seed, 11))
	out := make([][]float32, rows)
	for r := range out {
		out[r] = make([]float32, positions*n)
		for p := range positions {
			out[r][p*n+rng.IntN(n)] = 1
		}
	}
	return out
}

func randomFrames(count, w, h int, seed uint64) []image.Image {
	rng := rand.New(rand.NewPCG(seed, 3))
	out := make([]image.Image, count)
	for i := range out {
		img := image.NewRGBA(image.Rect(0, 0, w, h))
		for y := range h {
			for x := range w {
				img.SetRGBA(x, y, color.RGBA{uint8(rng.IntN(256)), uint8(rng.IntN(256)), uint8(rng.IntN(256)), 255})
			}
		}
		out[i] = img
	}
	return out
}

// sliceEncoder serves a fixed feature tensor, one frame per input image, in
// call order.
type sliceEncoder struct {
	feats *Features
	next  int
	scale int
}

func (e *sliceEncoder) MapScale() image.Point {
	return image.Pt(e.scale, e.scale)
}

func (e *sliceEncoder) Encode(_ context.Context, frames []image.Image) (*Features, error) {
	f := e.feats
	out := NewFeatures(f.C, len(frames), f.H, f.W)
	for c := range f.C {
		for t := range len(frames) {
			for y := range f.H {
				for x := range f.W {
					out.Set(c, t, y, x, f.At(c, e.next+t, y, x))
				}
			}
		}
	}
	e.next += len(frames)
	return out, nil
}
