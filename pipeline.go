package labelprop

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/sync/errgroup"
)

// Video is one annotated clip as delivered by a Dataset.
type Video struct {
	Name string
	// Frames at original resolution.
	Frames []image.Image
	// Soft labels of the annotated frames at feature resolution, [H][W][N].
	// At least n_context rows; extra rows are ignored.
	Seeds [][]float32
	// Label colours, index 0 is background.
	Palette []colorful.Color
}

// Dataset yields one video at a time.
type Dataset interface {
	Len() int
	Video(ctx context.Context, i int) (*Video, error)
}

// FrameOutput is one propagated frame plus kind-specific extras.
type FrameOutput struct {
	FramePrediction
	// Keypoints in feature coordinates, pose videos only.
	Keypoints *Keypoints
}

type Timing struct {
	Encode    time.Duration
	Affinity  time.Duration
	Propagate time.Duration
	Total     time.Duration
}

// Result is only produced for a video that propagated completely.
type Result struct {
	Video    *Video
	H, W, N  int
	MapScale image.Point
	Frames   []FrameOutput
	Timing   Timing
	// Largest affinity working set, bytes.
	PeakBytes int64
}

// Keypoints stacks the keypoints of every frame, nil for segmentation.
func (r *Result) Keypoints() []Keypoints {
	var out []Keypoints
	for _, f := range r.Frames {
		if f.Keypoints != nil {
			out = append(out, *f.Keypoints)
		}
	}
	return out
}

// PixelKeypoints is Keypoints mapped to frame pixels through MapScale.
func (r *Result) PixelKeypoints() []Keypoints {
	kps := r.Keypoints()
	for i, kp := range kps {
		kps[i] = kp.Scale(r.MapScale)
	}
	return kps
}

type Pipeline struct {
	Options Options
	Encoder Encoder
	Masks   *MaskCache

	decoder frameDecoder
}

// NewPipeline validates opt and binds it to enc. The returned pipeline may run
// several videos concurrently.
func NewPipeline(opt Options, enc Encoder) (*Pipeline, error) {
	if err := opt.Validate(); err != nil {
		return nil, err
	}
	if enc == nil {
		return nil, fmt.Errorf("%w: nil encoder", ErrInvalidOptions)
	}
	return &Pipeline{
		Options: opt,
		Encoder: enc,
		Masks:   NewMaskCache(),
		decoder: opt.Kind.decoder(opt.KeypointTopK),
	}, nil
}

// Run propagates the seed labels of v to all of its frames.
func (p *Pipeline) Run(ctx context.Context, v *Video) (*Result, error) {
	opt := p.Options
	start := time.Now()
	nContext := opt.NContext
	total := len(v.Frames)
	if total <= nContext {
		return nil, fmt.Errorf("%w: %d frames, n_context %d", ErrEmptyVideo, total, nContext)
	}
	if len(v.Seeds) < nContext {
		return nil, fmt.Errorf("%w: %d annotated frames, n_context %d", ErrEmptyVideo, len(v.Seeds), nContext)
	}
	scale := p.Encoder.MapScale()

	feats, err := p.encode(ctx, v.Frames)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	if opt.NormalizeFeatures {
		feats.Normalize()
	}
	tEncode := time.Since(start)
	slog.Debug("computed features", "video", v.Name, "shape", []int{feats.C, feats.T, feats.H, feats.W}, "elapsed", tEncode)

	bank, err := BuildContextIndexBank(nContext, opt.LongTermAnchors, total-nContext)
	if err != nil {
		return nil, err
	}
	mask, err := p.Masks.Get(feats.H, feats.W, opt.Radius, opt.Metric)
	if err != nil {
		return nil, err
	}

	t0 := time.Now()
	engine := opt.Engine()
	affs, err := engine.Compute(ctx, feats, bank, mask)
	if err != nil {
		return nil, fmt.Errorf("affinity: %w", err)
	}
	tAffinity := time.Since(t0)
	slog.Debug("affinity forward", "video", v.Name, "elapsed", tAffinity, "peak_mb", float64(engine.PeakBytes())/(1<<20))

	n, err := labelCount(v, feats.Positions())
	if err != nil {
		return nil, err
	}
	buf, err := NewLabelBuffer(feats.H, feats.W, n, total, v.Seeds[:nContext])
	if err != nil {
		return nil, err
	}

	t1 := time.Now()
	frames := make([]FrameOutput, 0, bank.Len())
	prop := Propagator{NormalizeOutput: opt.NormalizeOutput}
	err = prop.Run(ctx, buf, bank, affs, func(pred FramePrediction) error {
		frames = append(frames, FrameOutput{
			FramePrediction: pred,
			Keypoints:       p.decoder.decode(pred.Labels(), buf.H, buf.W, buf.N),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("propagate: %w", err)
	}

	return &Result{
		Video:     v,
		H:         feats.H,
		W:         feats.W,
		N:         n,
		MapScale:  scale,
		Frames:    frames,
		PeakBytes: engine.PeakBytes(),
		Timing: Timing{
			Encode:    tEncode,
			Affinity:  tAffinity,
			Propagate: time.Since(t1),
			Total:     time.Since(start),
		},
	}, nil
}

// encode runs the encoder over minibatches of EncodeBatch frames.
func (p *Pipeline) encode(ctx context.Context, frames []image.Image) (*Features, error) {
	bs := p.Options.EncodeBatch
	parts := make([]*Features, 0, (len(frames)+bs-1)/bs)
	for b := 0; b < len(frames); b += bs {
		f, err := p.Encoder.Encode(ctx, frames[b:min(b+bs, len(frames))])
		if err != nil {
			return nil, err
		}
		parts = append(parts, f)
	}
	return ConcatTime(parts...)
}

func labelCount(v *Video, positions int) (int, error) {
	size := len(v.Seeds[0])
	if positions == 0 || size == 0 || size%positions != 0 {
		return 0, fmt.Errorf("%w: seed of %d values for %d positions", ErrShapeMismatch, size, positions)
	}
	n := size / positions
	if len(v.Palette) > 0 && len(v.Palette) != n {
		return 0, fmt.Errorf("%w: %d palette colours for %d labels", ErrShapeMismatch, len(v.Palette), n)
	}
	return n, nil
}

// ============ DATASET ============

type VideoError struct {
	Index int
	Name  string
	Err   error
}

func (e VideoError) Error() string {
	return fmt.Sprintf("video %d (%s): %v", e.Index, e.Name, e.Err)
}

func (e VideoError) Unwrap() error {
	return e.Err
}

type Report struct {
	Done   []int
	Failed []VideoError
}

// RunDataset propagates every video of ds, VideoWorkers at a time, and hands
// each result to sink. A failing video is logged and recorded; the others
// keep going. The returned error is non-nil only if ctx ends the run.
func (p *Pipeline) RunDataset(ctx context.Context, ds Dataset, sink func(ctx context.Context, idx int, r *Result) error) (Report, error) {
	var (
		mu  sync.Mutex
		rep Report
		g   errgroup.Group
	)
	g.SetLimit(max(p.Options.VideoWorkers, 1))

	for i := range ds.Len() {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			name, err := p.runOne(ctx, ds, i, sink)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				slog.Error("video failed", "video", i, "name", name, "error", err)
				rep.Failed = append(rep.Failed, VideoError{Index: i, Name: name, Err: err})
				return nil
			}
			rep.Done = append(rep.Done, i)
			return nil
		})
	}
	_ = g.Wait()
	return rep, ctx.Err()
}

func (p *Pipeline) runOne(ctx context.Context, ds Dataset, i int, sink func(context.Context, int, *Result) error) (name string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	v, err := ds.Video(ctx, i)
	if err != nil {
		return "", fmt.Errorf("load: %w", err)
	}
	name = v.Name
	slog.Info("video start", "video", i, "name", name, "frames", len(v.Frames))
	res, err := p.Run(ctx, v)
	if err != nil {
		return name, err
	}
	if sink != nil {
		if err := sink(ctx, i, res); err != nil {
			return name, fmt.Errorf("sink: %w", err)
		}
	}
	slog.Info("video done", "video", i, "name", name, "took", res.Timing.Total)
	return name, nil
}
