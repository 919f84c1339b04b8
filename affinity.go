package labelprop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/blas/blas32"
	"gonum.org/v1/gonum/floats"
)

// Affinity holds the top-k neighbours of every position of one target frame.
// Both arrays are laid out [K][Size]; an index is slot*Size + position within
// the frame's context window.
type Affinity struct {
	K, Size int
	Weights []float32
	Indices []int32
}

func newAffinity(k, size int) Affinity {
	return Affinity{
		K:       k,
		Size:    size,
		Weights: make([]float32, k*size),
		Indices: make([]int32, k*size),
	}
}

func (a *Affinity) Weight(j, q int) float32 {
	return a.Weights[j*a.Size+q]
}

func (a *Affinity) Index(j, q int) int {
	return int(a.Indices[j*a.Size+q])
}

// AffinityEngine computes masked, temperature-scaled top-k affinities in
// FrameBatch × QueryChunk pieces. Results do not depend on the batch sizes.
type AffinityEngine struct {
	Temperature  float64
	TopK         int
	FrameBatch   int
	QueryChunk   int
	Workers      int
	MemoryBudget int64 // bytes, 0 = unlimited

	res residency
}

func (e *AffinityEngine) validate() error {
	switch {
	case e.Temperature <= 0 || math.IsNaN(e.Temperature):
		return fmt.Errorf("%w: temperature %g", ErrInvalidOptions, e.Temperature)
	case e.TopK <= 0:
		return fmt.Errorf("%w: top_k %d", ErrInvalidOptions, e.TopK)
	case e.FrameBatch <= 0:
		return fmt.Errorf("%w: frame batch %d", ErrInvalidOptions, e.FrameBatch)
	case e.QueryChunk <= 0:
		return fmt.Errorf("%w: query chunk %d", ErrInvalidOptions, e.QueryChunk)
	}
	return nil
}

// InUse reports the bytes currently held by working sets.
func (e *AffinityEngine) InUse() int64 {
	return e.res.inUse.Load()
}

// PeakBytes reports the largest working set footprint seen so far.
func (e *AffinityEngine) PeakBytes() int64 {
	return e.res.peak.Load()
}

// Compute returns one Affinity per target of bank. Query frames are
// bank.Frame(t); keys are the frames listed by bank.Sources(t). The mask
// biases short-term slots only; a nil mask disables spatial restriction.
func (e *AffinityEngine) Compute(ctx context.Context, feats *Features, bank *ContextIndexBank, mask *SpatialMask) ([]Affinity, error) {
	if err := e.validate(); err != nil {
		return nil, err
	}
	positions := feats.Positions()
	if mask != nil && mask.Size() != positions {
		return nil, fmt.Errorf("%w: mask covers %d positions, features %d", ErrShapeMismatch, mask.Size(), positions)
	}
	if feats.T < bank.Len()+bank.NContext {
		return nil, fmt.Errorf("%w: %d feature frames for %d targets", ErrShapeMismatch, feats.T, bank.Len())
	}
	candidates := bank.Slots() * positions
	if candidates == 0 {
		return nil, ErrNoCandidates
	}
	k := min(e.TopK, candidates)

	out := make([]Affinity, bank.Len())
	for t := range out {
		out[t] = newAffinity(k, positions)
	}

	frameBatch, chunk := e.FrameBatch, min(e.QueryChunk, positions)
	err := e.run(ctx, feats, bank, mask, out, frameBatch, chunk)
	if errors.Is(err, ErrResourceExhausted) {
		frameBatch, chunk = max(frameBatch/2, 1), max(chunk/2, 1)
		slog.Warn("affinity working set over budget, retrying with smaller batches",
			"frame_batch", frameBatch, "query_chunk", chunk, "error", err)
		err = e.run(ctx, feats, bank, mask, out, frameBatch, chunk)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e *AffinityEngine) run(ctx context.Context, feats *Features, bank *ContextIndexBank, mask *SpatialMask, out []Affinity, frameBatch, chunk int) error {
	n := bank.Len()
	for b := 0; b < n; b += frameBatch {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.batch(feats, bank, mask, out, b, min(frameBatch, n-b), chunk); err != nil {
			return err
		}
	}
	return nil
}

// ============ OUTER BATCH ============

func (e *AffinityEngine) batch(feats *Features, bank *ContextIndexBank, mask *SpatialMask, out []Affinity, first, frames, chunk int) error {
	positions := feats.Positions()
	ws, err := e.res.acquire(e.MemoryBudget, frames, bank.Slots(), positions, feats.C, chunk)
	if err != nil {
		return err
	}
	defer ws.release()
	ws.load(feats, bank, first)

	longTerm := bank.LongTerm()
	for pb := 0; pb < positions; pb += chunk {
		n := min(chunk, positions-pb)
		var g errgroup.Group
		g.SetLimit(max(e.Workers, 1))
		for f := range frames {
			g.Go(func() error {
				e.scores(ws, mask, f, pb, n, longTerm)
				e.selectTopK(ws, f, pb, n, &out[first+f])
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}

// ============ SIMILARITY ============

// scores fills the [slot][position][query] tensor of frame f for queries
// pb … pb+n-1: channel-wise dot product, plus the spatial bias on short-term
// slots, divided by the temperature.
func (e *AffinityEngine) scores(ws *workingSet, mask *SpatialMask, f, pb, n, longTerm int) {
	dst := ws.frameScores(f)
	queries := make([]blas32.Vector, n)
	for qi := range n {
		queries[qi] = blas32.Vector{N: ws.channels, Inc: 1, Data: ws.query(f, pb+qi)}
	}
	for s := range ws.slots {
		masked := mask != nil && s >= longTerm
		for p := range ws.positions {
			key := blas32.Vector{N: ws.channels, Inc: 1, Data: ws.key(f, s, p)}
			row := dst[(s*ws.positions+p)*ws.chunk:]
			for qi := range n {
				v := float64(blas32.Dot(key, queries[qi]))
				if masked {
					v += mask.Bias(p, pb+qi)
				}
				row[qi] = float32(v / e.Temperature)
			}
		}
	}
}

// ============ TOP-K + SOFTMAX ============

type candidate struct {
	idx int32
	val float32
}

// worse orders candidates by value, then prefers the lower index.
func (c candidate) worse(o candidate) bool {
	return c.val < o.val || (c.val == o.val && c.idx > o.idx)
}

func (e *AffinityEngine) selectTopK(ws *workingSet, f, pb, n int, a *Affinity) {
	src := ws.frameScores(f)
	total := ws.slots * ws.positions
	k := a.K
	top := make([]candidate, k)
	weights := make([]float64, k)

	for qi := range n {
		selectTop(src, ws.chunk, qi, total, top)
		softmaxInto(weights, top)
		q := pb + qi
		for j := range k {
			a.Weights[j*a.Size+q] = float32(weights[j])
			a.Indices[j*a.Size+q] = top[j].idx
		}
	}
}

// selectTop fills top with the len(top) largest of vals[c*stride+offset] for
// c < total, largest first. Equal values keep the lower c first. total must be
// at least len(top).
func selectTop(vals []float32, stride, offset, total int, top []candidate) {
	k := len(top)
	worst := 0
	for c := range total {
		cand := candidate{idx: int32(c), val: vals[c*stride+offset]}
		if c < k {
			top[c] = cand
			if c == 0 || top[c].worse(top[worst]) {
				worst = c
			}
			continue
		}
		// cand has the highest index seen so far, so it only wins on value.
		if cand.val > top[worst].val {
			top[worst] = cand
			worst = 0
			for j := 1; j < k; j++ {
				if top[j].worse(top[worst]) {
					worst = j
				}
			}
		}
	}
	slices.SortFunc(top, func(x, y candidate) int {
		switch {
		case y.worse(x):
			return -1
		case x.worse(y):
			return 1
		}
		return 0
	})
}

// softmaxInto normalises the values of sorted (largest first) candidates.
func softmaxInto(dst []float64, top []candidate) {
	peak := float64(top[0].val)
	for j, c := range top {
		dst[j] = math.Exp(float64(c.val) - peak)
	}
	floats.Scale(1/floats.Sum(dst), dst)
}
