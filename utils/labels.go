package utils

import (
	"fmt"
	"image"

	"github.com/lucasb-eyer/go-colorful"
)

// SoftLabels converts a colour annotation into an [h][w][n] soft label map
// at 1/scale resolution, n = len(palette). Each output cell holds the share of
// its scale×scale block assigned to each label, so cells sum to 1. Pixels are
// assigned to the nearest palette colour in Lab space.
func SoftLabels(img image.Image, palette []colorful.Color, scale int) ([]float32, int, int, error) {
	if len(palette) == 0 {
		return nil, 0, 0, ErrEmptyPalette
	}
	if scale <= 0 {
		return nil, 0, 0, fmt.Errorf("utils: scale %d", scale)
	}
	b := img.Bounds()
	h, w := b.Dy()/scale, b.Dx()/scale
	if h == 0 || w == 0 {
		return nil, 0, 0, fmt.Errorf("utils: annotation %v smaller than scale %d", b.Size(), scale)
	}
	n := len(palette)
	out := make([]float32, h*w*n)
	share := float32(1) / float32(scale*scale)
	cache := make(map[colorful.Color]int)

	for y := range h {
		for x := range w {
			cell := out[(y*w+x)*n : (y*w+x+1)*n]
			for dy := range scale {
				for dx := range scale {
					c, _ := colorful.MakeColor(img.At(b.Min.X+x*scale+dx, b.Min.Y+y*scale+dy))
					l, ok := cache[c]
					if !ok {
						l = nearestLabel(c, palette)
						cache[c] = l
					}
					cell[l] += share
				}
			}
		}
	}
	return out, h, w, nil
}

func nearestLabel(c colorful.Color, palette []colorful.Color) int {
	best, bestD := 0, c.DistanceLab(palette[0])
	for i := 1; i < len(palette); i++ {
		if d := c.DistanceLab(palette[i]); d < bestD {
			best, bestD = i, d
		}
	}
	return best
}
