package labelprop

import "fmt"

// ContextIndexBank lists, for every target frame, the source frames it may
// draw labels from: long-term anchors first, then the short-term window.
type ContextIndexBank struct {
	NContext int
	Anchors  []int
	rows     [][]int
}

// BuildContextIndexBank builds the bank for n target frames. Target t is video
// frame t+nContext; its short-term window is frames t … t+nContext-1.
func BuildContextIndexBank(nContext int, anchors []int, n int) (*ContextIndexBank, error) {
	if nContext <= 0 {
		return nil, fmt.Errorf("%w: n_context must be positive, got %d", ErrInvalidOptions, nContext)
	}
	if n <= 0 {
		return nil, fmt.Errorf("%w: %d target frames", ErrEmptyVideo, n)
	}
	for _, a := range anchors {
		if a < 0 || a >= n {
			return nil, fmt.Errorf("%w: anchor %d not in [0, %d)", ErrAnchorOutOfRange, a, n)
		}
	}

	slots := len(anchors) + nContext
	flat := make([]int, n*slots)
	rows := make([][]int, n)
	for t := range n {
		row := flat[t*slots : (t+1)*slots : (t+1)*slots]
		for i, a := range anchors {
			// Anchor frames only count once the target is past them; before that
			// the first annotated frame stands in.
			if t > nContext+a {
				row[i] = a
			}
		}
		for i := range nContext {
			row[len(anchors)+i] = t + i
		}
		rows[t] = row
	}
	return &ContextIndexBank{
		NContext: nContext,
		Anchors:  append([]int(nil), anchors...),
		rows:     rows,
	}, nil
}

// Len is the number of target frames.
func (b *ContextIndexBank) Len() int {
	return len(b.rows)
}

// Slots is the number of source frames per target.
func (b *ContextIndexBank) Slots() int {
	return len(b.Anchors) + b.NContext
}

// LongTerm is the number of leading slots that are anchors.
func (b *ContextIndexBank) LongTerm() int {
	return len(b.Anchors)
}

// Sources returns the source frames of target t. The slice must not be modified.
func (b *ContextIndexBank) Sources(t int) []int {
	return b.rows[t]
}

// Frame is the video frame written by target t.
func (b *ContextIndexBank) Frame(t int) int {
	return t + b.NContext
}
