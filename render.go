package labelprop

import (
	"image"
	"image/color"
	"math"

	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/draw"
)

// Rendered holds the per-frame artefacts handed to persistence.
type Rendered struct {
	// Argmax label of every original-resolution pixel.
	Hard []int
	// Hard labels coloured with the palette.
	Labels *image.RGBA
	// Frame and label colours mixed 50/50.
	Blend *image.RGBA
	// Frame mixed with the channel-1 heatmap.
	Heat *image.RGBA
	// Keypoints marked on a frame-sized canvas, pose videos only.
	Sharp *image.RGBA
}

// Render produces the output images of one propagated frame. scale is the
// encoder's map scale, used to place keypoints in frame pixels.
func Render(frame image.Image, out FrameOutput, h, w, n int, scale image.Point, palette []colorful.Color) Rendered {
	if len(palette) < n {
		palette = DefaultPalette(n)
	}
	size := frame.Bounds().Size()
	labels := out.Labels()

	up := UpsampleSoft(labels, h, w, n, size.Y, size.X)
	hard := HardLabels(up, n)
	lbl := LabelImage(hard, size.X, size.Y, palette)
	r := Rendered{
		Hard:   hard,
		Labels: lbl,
		Blend:  Blend(frame, lbl, 128),
	}
	if n > 1 {
		r.Heat = Blend(frame, Heatmap(labels, h, w, n, 1, size), 128)
	}
	if out.Keypoints != nil {
		r.Sharp = SharpMap(out.Keypoints.Scale(scale), size, palette)
	}
	return r
}

// ============ RESAMPLING ============

// UpsampleSoft resizes an [h][w][n] map to [outH][outW][n] with bilinear
// interpolation on pixel centres.
func UpsampleSoft(soft []float32, h, w, n, outH, outW int) []float32 {
	out := make([]float32, outH*outW*n)
	if h == 0 || w == 0 {
		return out
	}
	sy := float64(h) / float64(outH)
	sx := float64(w) / float64(outW)
	for y := range outH {
		fy := max((float64(y)+0.5)*sy-0.5, 0)
		y0 := min(int(fy), h-1)
		y1 := min(y0+1, h-1)
		wy := fy - float64(y0)
		for x := range outW {
			fx := max((float64(x)+0.5)*sx-0.5, 0)
			x0 := min(int(fx), w-1)
			x1 := min(x0+1, w-1)
			wx := fx - float64(x0)
			dst := out[(y*outW+x)*n : (y*outW+x+1)*n]
			p00 := (y0*w + x0) * n
			p01 := (y0*w + x1) * n
			p10 := (y1*w + x0) * n
			p11 := (y1*w + x1) * n
			for l := range n {
				top := float64(soft[p00+l])*(1-wx) + float64(soft[p01+l])*wx
				bot := float64(soft[p10+l])*(1-wx) + float64(soft[p11+l])*wx
				dst[l] = float32(top*(1-wy) + bot*wy)
			}
		}
	}
	return out
}

// HardLabels returns the argmax channel of every pixel; ties pick the lower label.
func HardLabels(soft []float32, n int) []int {
	if n == 0 {
		return nil
	}
	out := make([]int, len(soft)/n)
	for p := range out {
		best := 0
		row := soft[p*n : (p+1)*n]
		for l := 1; l < n; l++ {
			if row[l] > row[best] {
				best = l
			}
		}
		out[p] = best
	}
	return out
}

// ============ COLOURING ============

// DefaultPalette returns n distinct label colours, black background first.
func DefaultPalette(n int) []colorful.Color {
	out := make([]colorful.Color, n)
	for i := 1; i < n; i++ {
		out[i] = colorful.Hsv(360*float64(i-1)/float64(max(n-1, 1)), 0.85, 0.95)
	}
	return out
}

func rgba(c colorful.Color) color.RGBA {
	r, g, b := c.Clamped().RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

// LabelImage paints a w×h label map with palette; labels outside it stay transparent.
func LabelImage(labels []int, w, h int, palette []colorful.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	lut := make([]color.RGBA, len(palette))
	for i, c := range palette {
		lut[i] = rgba(c)
	}
	for y := range h {
		for x := range w {
			l := labels[y*w+x]
			if l < len(lut) {
				img.SetRGBA(x, y, lut[l])
			}
		}
	}
	return img
}

// jet maps v in [0,1] from blue through green to red.
func jet(v float64) colorful.Color {
	v = min(1, max(0, v))
	return colorful.Hsv(240*(1-v), 1, 1)
}

// Heatmap colours channel ch of an [h][w][n] map and scales it to size with
// nearest-neighbour sampling.
func Heatmap(soft []float32, h, w, n, ch int, size image.Point) *image.RGBA {
	small := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			v := float64(soft[(y*w+x)*n+ch])
			if math.IsNaN(v) {
				v = 0
			}
			small.SetRGBA(x, y, rgba(jet(v)))
		}
	}
	dst := image.NewRGBA(image.Rectangle{Max: size})
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), small, small.Bounds(), draw.Src, nil)
	return dst
}

// Blend draws overlay over base with the given opacity (128 ≈ 50/50).
func Blend(base, overlay image.Image, alpha uint8) *image.RGBA {
	b := base.Bounds()
	dst := image.NewRGBA(image.Rectangle{Max: b.Size()})
	draw.Draw(dst, dst.Bounds(), base, b.Min, draw.Src)
	mask := image.NewUniform(color.Alpha{A: alpha})
	draw.DrawMask(dst, dst.Bounds(), overlay, overlay.Bounds().Min, mask, image.Point{}, draw.Over)
	return dst
}

// SharpMap marks each located keypoint with its label colour on a canvas of
// the given size. kp must already be in canvas pixels.
func SharpMap(kp Keypoints, size image.Point, palette []colorful.Color) *image.RGBA {
	img := image.NewRGBA(image.Rectangle{Max: size})
	for i := range kp.Len() {
		if !kp.Found(i) || i+1 >= len(palette) {
			continue
		}
		x, y := int(math.Round(kp.X[i])), int(math.Round(kp.Y[i]))
		if x < size.X && y < size.Y {
			img.SetRGBA(x, y, rgba(palette[i+1]))
		}
	}
	return img
}
