package labelprop

import "image"

// Keypoints holds one coordinate per non-background label channel, in
// feature-map pixels. A channel that was never predicted is (-1, -1).
type Keypoints struct {
	X, Y []float64
}

func (k Keypoints) Len() int {
	return len(k.X)
}

// Found reports whether channel i (background excluded) was located.
func (k Keypoints) Found(i int) bool {
	return k.X[i] >= 0 && k.Y[i] >= 0
}

// Scale maps feature coordinates to image pixels. Missing points stay (-1, -1).
func (k Keypoints) Scale(s image.Point) Keypoints {
	out := Keypoints{X: make([]float64, len(k.X)), Y: make([]float64, len(k.Y))}
	for i := range k.X {
		if !k.Found(i) {
			out.X[i], out.Y[i] = -1, -1
			continue
		}
		out.X[i] = k.X[i] * float64(s.X)
		out.Y[i] = k.Y[i] * float64(s.Y)
	}
	return out
}

// DecodeKeypoints locates every label channel except channel 0 of an [h][w][n]
// prediction as the weighted centroid of its topK strongest positions.
func DecodeKeypoints(pred []float32, h, w, n, topK int) Keypoints {
	m := max(n-1, 0)
	kp := Keypoints{X: make([]float64, m), Y: make([]float64, m)}
	positions := h * w
	topK = min(max(topK, 1), positions)
	top := make([]candidate, topK)

	for i := range m {
		ch := i + 1
		mass := 0.0
		for p := range positions {
			mass += float64(pred[p*n+ch])
		}
		kp.X[i], kp.Y[i] = -1, -1
		if mass == 0 || positions == 0 {
			continue
		}

		selectTop(pred, n, ch, positions, top)
		sum := 0.0
		for _, c := range top {
			sum += float64(c.val)
		}
		if sum == 0 {
			continue
		}
		x, y := 0.0, 0.0
		for _, c := range top {
			v := float64(c.val) / sum
			x += float64(int(c.idx)%w) * v
			y += float64(int(c.idx)/w) * v
		}
		kp.X[i], kp.Y[i] = x, y
	}
	return kp
}
