package labelprop

import (
	"fmt"
	"sync/atomic"
)

// residency tracks the bytes held by live working sets against a budget.
type residency struct {
	inUse atomic.Int64
	peak  atomic.Int64
}

// reserve claims n bytes. A budget of 0 means unlimited.
func (r *residency) reserve(n, budget int64) error {
	for {
		cur := r.inUse.Load()
		next := cur + n
		if budget > 0 && next > budget {
			return fmt.Errorf("%w: need %d bytes, %d of %d in use", ErrResourceExhausted, n, cur, budget)
		}
		if r.inUse.CompareAndSwap(cur, next) {
			for {
				p := r.peak.Load()
				if next <= p || r.peak.CompareAndSwap(p, next) {
					return nil
				}
			}
		}
	}
}

func (r *residency) free(n int64) {
	r.inUse.Add(-n)
}

// workingSet holds one outer batch: keys gathered through the context bank,
// the batch's query frames, and the scores tensor reused by every inner chunk.
// Acquire at batch start, release at batch end.
type workingSet struct {
	res   *residency
	bytes int64

	frames, slots, positions, channels, chunk int

	keys    []float32 // [frame][slot][position][channel]
	queries []float32 // [frame][position][channel]
	scores  []float32 // [frame][slot*position][chunk]
}

func workingSetBytes(frames, slots, positions, channels, chunk int) int64 {
	keys := int64(frames) * int64(slots) * int64(positions) * int64(channels)
	queries := int64(frames) * int64(positions) * int64(channels)
	scores := int64(frames) * int64(slots) * int64(positions) * int64(chunk)
	return (keys + queries + scores) * 4
}

func (r *residency) acquire(budget int64, frames, slots, positions, channels, chunk int) (*workingSet, error) {
	n := workingSetBytes(frames, slots, positions, channels, chunk)
	if err := r.reserve(n, budget); err != nil {
		return nil, err
	}
	return &workingSet{
		res:       r,
		bytes:     n,
		frames:    frames,
		slots:     slots,
		positions: positions,
		channels:  channels,
		chunk:     chunk,
		keys:      make([]float32, frames*slots*positions*channels),
		queries:   make([]float32, frames*positions*channels),
		scores:    make([]float32, frames*slots*positions*chunk),
	}, nil
}

// load transfers the batch's query and key frames into the working set.
func (ws *workingSet) load(feats *Features, bank *ContextIndexBank, first int) {
	pc := ws.positions * ws.channels
	for f := range ws.frames {
		t := first + f
		feats.pixelMajor(bank.Frame(t), ws.queries[f*pc:(f+1)*pc])
		for s, src := range bank.Sources(t) {
			off := (f*ws.slots + s) * pc
			feats.pixelMajor(src, ws.keys[off:off+pc])
		}
	}
}

func (ws *workingSet) key(f, s, p int) []float32 {
	off := ((f*ws.slots+s)*ws.positions + p) * ws.channels
	return ws.keys[off : off+ws.channels]
}

func (ws *workingSet) query(f, p int) []float32 {
	off := (f*ws.positions + p) * ws.channels
	return ws.queries[off : off+ws.channels]
}

func (ws *workingSet) frameScores(f int) []float32 {
	n := ws.slots * ws.positions * ws.chunk
	return ws.scores[f*n : (f+1)*n]
}

func (ws *workingSet) release() {
	if ws.res == nil {
		return
	}
	ws.keys, ws.queries, ws.scores = nil, nil, nil
	ws.res.free(ws.bytes)
	ws.res = nil
}
