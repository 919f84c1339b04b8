package labelprop

import (
	"context"
	"fmt"
)

// LabelBuffer holds one soft label map per frame, each laid out [H][W][N].
// Seed rows are ground truth; later rows are appended once, in frame order,
// by a single writer. Rows below the cursor are immutable.
type LabelBuffer struct {
	H, W, N int
	rows    [][]float32
	total   int
}

// NewLabelBuffer copies the seed rows and reserves room for total frames.
func NewLabelBuffer(h, w, n, total int, seeds [][]float32) (*LabelBuffer, error) {
	if h <= 0 || w <= 0 || n <= 0 {
		return nil, fmt.Errorf("%w: label map %dx%dx%d", ErrShapeMismatch, h, w, n)
	}
	if len(seeds) == 0 || len(seeds) > total {
		return nil, fmt.Errorf("%w: %d seed rows for %d frames", ErrEmptyVideo, len(seeds), total)
	}
	size := h * w * n
	b := &LabelBuffer{H: h, W: w, N: n, rows: make([][]float32, 0, total), total: total}
	for i, s := range seeds {
		if len(s) != size {
			return nil, fmt.Errorf("%w: seed %d has %d values, want %d", ErrShapeMismatch, i, len(s), size)
		}
		b.rows = append(b.rows, append([]float32(nil), s...))
	}
	return b, nil
}

// Cursor is the index of the next row to be written.
func (b *LabelBuffer) Cursor() int {
	return len(b.rows)
}

// Len is the number of frames the buffer will hold when complete.
func (b *LabelBuffer) Len() int {
	return b.total
}

func (b *LabelBuffer) Complete() bool {
	return len(b.rows) == b.total
}

// Row returns a written row. The slice must not be modified.
func (b *LabelBuffer) Row(frame int) ([]float32, error) {
	if frame < 0 || frame >= len(b.rows) {
		return nil, fmt.Errorf("%w: frame %d, cursor %d", ErrFutureLeak, frame, len(b.rows))
	}
	return b.rows[frame], nil
}

func (b *LabelBuffer) append(row []float32) error {
	if len(b.rows) == b.total {
		return fmt.Errorf("%w: label buffer full", ErrShapeMismatch)
	}
	if len(row) != b.H*b.W*b.N {
		return fmt.Errorf("%w: row has %d values", ErrShapeMismatch, len(row))
	}
	b.rows = append(b.rows, row)
	return nil
}

// FramePrediction is the propagated label map of one target frame.
type FramePrediction struct {
	Target int       // index into the context bank
	Frame  int       // video frame
	Soft   []float32 // [H][W][N] as stored in the buffer, read-only
	// Display is a per-pixel min-max rescaled copy of Soft, nil unless
	// the propagator normalises output.
	Display []float32
}

// Labels returns Display when present, Soft otherwise.
func (p FramePrediction) Labels() []float32 {
	if p.Display != nil {
		return p.Display
	}
	return p.Soft
}

// Propagator turns affinities into label rows, one target at a time.
type Propagator struct {
	NormalizeOutput bool
}

// Run walks the targets of bank in order, appending one row per target to
// buf and handing each prediction to emit. buf must hold exactly the
// bank.NContext seed rows.
func (p *Propagator) Run(ctx context.Context, buf *LabelBuffer, bank *ContextIndexBank, affs []Affinity, emit func(FramePrediction) error) error {
	if buf.Cursor() != bank.NContext {
		return fmt.Errorf("%w: buffer cursor %d, n_context %d", ErrShapeMismatch, buf.Cursor(), bank.NContext)
	}
	if len(affs) != bank.Len() || buf.Len() < bank.NContext+bank.Len() {
		return fmt.Errorf("%w: %d affinities, %d targets, %d buffer rows", ErrShapeMismatch, len(affs), bank.Len(), buf.Len())
	}
	positions := buf.H * buf.W
	for t := range bank.Len() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if affs[t].Size != positions {
			return fmt.Errorf("%w: affinity %d covers %d positions, labels %d", ErrShapeMismatch, t, affs[t].Size, positions)
		}

		var pred []float32
		if t == 0 {
			seed, err := buf.Row(0)
			if err != nil {
				return err
			}
			pred = append([]float32(nil), seed...)
		} else {
			var err error
			if pred, err = p.step(buf, bank.Sources(t), &affs[t]); err != nil {
				return fmt.Errorf("target %d: %w", t, err)
			}
		}
		if err := buf.append(pred); err != nil {
			return err
		}

		out := FramePrediction{Target: t, Frame: bank.Frame(t), Soft: pred}
		if p.NormalizeOutput {
			out.Display = minMaxPerPixel(pred, buf.N)
		}
		if emit != nil {
			if err := emit(out); err != nil {
				return err
			}
		}
	}
	return nil
}

// step gathers the labels of the selected neighbours and sums them weighted
// by their affinity.
func (p *Propagator) step(buf *LabelBuffer, sources []int, a *Affinity) ([]float32, error) {
	n := buf.N
	positions := a.Size
	ctxRows := make([][]float32, len(sources))
	for s, src := range sources {
		row, err := buf.Row(src)
		if err != nil {
			return nil, err
		}
		ctxRows[s] = row
	}

	pred := make([]float32, positions*n)
	acc := make([]float64, n)
	for q := range positions {
		clear(acc)
		for j := range a.K {
			idx := a.Index(j, q)
			slot, pos := idx/positions, idx%positions
			if slot >= len(ctxRows) {
				return nil, fmt.Errorf("%w: neighbour slot %d of %d", ErrShapeMismatch, slot, len(ctxRows))
			}
			w := float64(a.Weight(j, q))
			lbl := ctxRows[slot][pos*n : (pos+1)*n]
			for l := range n {
				acc[l] += w * float64(lbl[l])
			}
		}
		dst := pred[q*n : (q+1)*n]
		for l := range n {
			dst[l] = float32(acc[l])
		}
	}
	return pred, nil
}

// minMaxPerPixel rescales every pixel's label vector to [0,1]. Flat pixels
// become all zeros.
func minMaxPerPixel(src []float32, n int) []float32 {
	out := make([]float32, len(src))
	for p := 0; p+n <= len(src); p += n {
		lo, hi := src[p], src[p]
		for _, v := range src[p : p+n] {
			lo = min(lo, v)
			hi = max(hi, v)
		}
		span := hi - lo
		if span <= 0 {
			continue
		}
		for l := range n {
			out[p+l] = (src[p+l] - lo) / span
		}
	}
	return out
}
