package utils

import (
	"errors"
	"image"
	"image/color"
	"log/slog"
	"math"
	"slices"

	"github.com/cenkalti/dominantcolor"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/muesli/clusters"
	"github.com/muesli/kmeans"
	"github.com/setanarut/labelprop"
)

type PaletteMethod = labelprop.PaletteMethod

const (
	PaletteMethodExact         = labelprop.PaletteExact
	PaletteMethodDominantColor = labelprop.PaletteDominantColor
	PaletteMethodKMeans        = labelprop.PaletteKMeans
)

var ErrEmptyPalette = errors.New("utils: empty palette")

type weightedColor struct {
	Col    colorful.Color
	Weight float64
}

// SortPaletteByBrightness orders colours darkest first, so a black
// annotation background becomes label 0.
func SortPaletteByBrightness(palette []colorful.Color) {
	slices.SortStableFunc(palette, func(a, b colorful.Color) int {
		ya, yb := luminance(a), luminance(b)
		switch {
		case ya < yb:
			return -1
		case ya > yb:
			return 1
		}
		return 0
	})
}

func luminance(c colorful.Color) float64 {
	r, g, b := c.LinearRgb()
	return 0.2126*r + 0.7152*g + 0.0722*b
}

// LabelPalette extracts at most n label colours from an annotation frame,
// background (darkest) first.
func LabelPalette(img image.Image, n int, method PaletteMethod) ([]colorful.Color, error) {
	if n <= 0 {
		return nil, ErrEmptyPalette
	}
	var p []colorful.Color
	switch method {
	case PaletteMethodKMeans:
		p = kmeansPalette(img, n)
		if len(p) == 0 {
			slog.Warn("palette: kmeans returned empty palette, falling back to dominantcolor")
			p = dominantPalette(img, n)
		}
	case PaletteMethodDominantColor:
		p = dominantPalette(img, n)
	default:
		p = exactPalette(img, n)
	}
	if len(p) == 0 {
		return nil, ErrEmptyPalette
	}
	SortPaletteByBrightness(p)
	return p, nil
}

// exactPalette returns the distinct colours of img when there are at most n
// of them.
func exactPalette(img image.Image, n int) []colorful.Color {
	counts := make(map[color.RGBA]int)
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			counts[color.RGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(bl >> 8), A: 255}]++
			if len(counts) > n {
				return dominantPalette(img, n)
			}
		}
	}
	out := make([]colorful.Color, 0, len(counts))
	for c := range counts {
		col, _ := colorful.MakeColor(c)
		out = append(out, col)
	}
	// Map order is random; fix it before the stable brightness sort.
	slices.SortFunc(out, func(a, b colorful.Color) int {
		return compareHex(a.Hex(), b.Hex())
	})
	return out
}

func compareHex(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func dominantPalette(img image.Image, n int) []colorful.Color {
	candidates := dominantcolor.FindWeight(img, max(24, n*8))
	if len(candidates) == 0 {
		// Flat or fully transparent frames: keep a single background label.
		candidates = append(candidates, dominantcolor.Color{
			RGBA:   color.RGBA{A: 255},
			Weight: 1,
		})
	}
	weighted := make([]weightedColor, 0, len(candidates))
	for _, c := range candidates {
		col, _ := colorful.MakeColor(c.RGBA)
		weighted = append(weighted, weightedColor{Col: col.Clamped(), Weight: max(c.Weight, 1e-6)})
	}
	return selectDiverse(weighted, n)
}

func kmeansPalette(img image.Image, n int) []colorful.Color {
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	if width == 0 || height == 0 {
		return nil
	}

	// Subsample to keep kmeans tractable on large frames.
	const maxSamples = 12000
	step := 1
	if width*height > maxSamples {
		step = int(math.Sqrt(float64(width*height)/float64(maxSamples))) + 1
	}
	dataset := make(clusters.Observations, 0, min(width*height, maxSamples))
	for y := b.Min.Y; y < b.Max.Y; y += step {
		for x := b.Min.X; x < b.Max.X; x += step {
			c, ok := colorful.MakeColor(img.At(x, y))
			if !ok {
				continue
			}
			l, a, bb := c.Lab()
			dataset = append(dataset, clusters.Coordinates{l, a, bb})
		}
	}
	if len(dataset) == 0 {
		return nil
	}

	km := kmeans.New()
	cc, err := km.Partition(dataset, min(n, len(dataset)))
	if err != nil || len(cc) == 0 {
		return nil
	}
	weighted := make([]weightedColor, 0, len(cc))
	for _, c := range cc {
		if len(c.Center) < 3 || len(c.Observations) == 0 {
			continue
		}
		col := colorful.Lab(c.Center[0], c.Center[1], c.Center[2]).Clamped()
		weighted = append(weighted, weightedColor{Col: col, Weight: float64(len(c.Observations))})
	}
	return selectDiverse(weighted, n)
}

// selectDiverse picks k colours, seeded with the heaviest one, each next
// colour maximising Lab distance to the chosen set scaled by its weight.
func selectDiverse(cands []weightedColor, k int) []colorful.Color {
	if k <= 0 || len(cands) == 0 {
		return nil
	}
	k = min(k, len(cands))
	maxW := 0.0
	seed := 0
	for i, c := range cands {
		if c.Weight > maxW {
			maxW = c.Weight
			seed = i
		}
	}
	maxW = max(maxW, 1e-12)

	chosen := []int{seed}
	taken := make([]bool, len(cands))
	taken[seed] = true
	for len(chosen) < k {
		best, bestScore := -1, -1.0
		for i, c := range cands {
			if taken[i] {
				continue
			}
			nearest := math.MaxFloat64
			for _, s := range chosen {
				nearest = min(nearest, c.Col.DistanceLab(cands[s].Col))
			}
			score := nearest * (0.55 + 0.45*math.Sqrt(c.Weight/maxW))
			if score > bestScore {
				best, bestScore = i, score
			}
		}
		if best < 0 {
			break
		}
		taken[best] = true
		chosen = append(chosen, best)
	}

	out := make([]colorful.Color, len(chosen))
	for i, idx := range chosen {
		out[i] = cands[idx].Col
	}
	return out
}
