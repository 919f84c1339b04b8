package labelprop

import (
	"fmt"
	"image"
	"math"
	"runtime"
)

type Options struct {
	// Length of the short-term sliding window (frames preceding each target).
	// The first NContext frames of a video must be annotated.
	// Ideal start: 20 for DAVIS-style segmentation, 20 for JHMDB pose.
	NContext int `yaml:"n_context" json:"n_context"`
	// Long-term anchors. Anchor 0 keeps the first annotated frame visible to every target.
	LongTermAnchors []int `yaml:"long_term_anchors" json:"long_term_anchors"`
	// Spatial cutoff (feature-map pixels) for short-term attention.
	// Too low => objects moving faster than Radius per frame lose their labels.
	Radius float64 `yaml:"radius" json:"radius"`
	// Distance used by the spatial mask.
	Metric Metric `yaml:"metric" json:"metric"`
	// Softmax temperature. Lower => sharper weights, closer to nearest-neighbour copy.
	// Ideal start: 0.05-0.07.
	Temperature float64 `yaml:"temperature" json:"temperature"`
	// Neighbours kept per target pixel.
	// Ideal start: 10. Too high blurs boundaries, too low makes labels flicker.
	TopK int `yaml:"top_k" json:"top_k"`
	// L2-normalise embeddings along channels before affinity.
	NormalizeFeatures bool `yaml:"normalize_features" json:"normalize_features"`
	// Min-max rescale each predicted pixel for display consumers.
	NormalizeOutput bool `yaml:"normalize_output" json:"normalize_output"`

	// Target frames per outer affinity batch.
	FrameBatch int `yaml:"frame_batch" json:"frame_batch"`
	// Query positions per inner affinity chunk.
	QueryChunk int `yaml:"query_chunk" json:"query_chunk"`
	// Working set budget for one affinity batch. 0 disables the limit.
	MemoryBudgetMB int64 `yaml:"memory_budget_mb" json:"memory_budget_mb"`
	// Goroutines per affinity batch.
	Workers int `yaml:"workers" json:"workers"`
	// Videos processed concurrently by RunDataset.
	VideoWorkers int `yaml:"video_workers" json:"video_workers"`

	// Frames per encoder call.
	EncodeBatch int `yaml:"encode_batch" json:"encode_batch"`
	// Positions averaged per keypoint.
	KeypointTopK int `yaml:"keypoint_top_k" json:"keypoint_top_k"`
	// Segmentation or pose. Decides which decoder runs on each prediction.
	Kind DatasetKind `yaml:"kind" json:"kind"`
	// Block size of the built-in colour encoder.
	MapScale int `yaml:"map_scale" json:"map_scale"`

	// How directory datasets read label colours from the first annotation.
	// Exact suits flat masks; kmeans copes with antialiased or compressed ones.
	PaletteMethod PaletteMethod `yaml:"palette_method" json:"palette_method"`
	// Upper bound on label colours per video, background included.
	MaxLabels int `yaml:"max_labels" json:"max_labels"`
}

func DefaultOptions() Options {
	return Options{
		NContext:          20,
		LongTermAnchors:   []int{0},
		Radius:            12,
		Metric:            Euclidean,
		Temperature:       0.07,
		TopK:              10,
		NormalizeFeatures: true,
		NormalizeOutput:   false,
		FrameBatch:        2,
		QueryChunk:        100,
		MemoryBudgetMB:    0,
		Workers:           runtime.NumCPU(),
		VideoWorkers:      1,
		EncodeBatch:       5,
		KeypointTopK:      3,
		Kind:              Segmentation,
		MapScale:          8,
		PaletteMethod:     PaletteExact,
		MaxLabels:         16,
	}
}

// OptionsFromSize picks a QueryChunk that keeps one scores tensor of a
// feature map of the given size inside MemoryBudgetMB.
func OptionsFromSize(size image.Point, budgetMB int64) Options {
	opt := DefaultOptions()
	opt.MemoryBudgetMB = budgetMB
	if size.X <= 0 || size.Y <= 0 {
		return opt
	}
	positions := size.X * size.Y
	opt.QueryChunk = min(opt.QueryChunk, positions)
	if budgetMB <= 0 {
		return opt
	}
	slots := opt.NContext + len(opt.LongTermAnchors)
	perQuery := int64(opt.FrameBatch) * int64(slots) * int64(positions) * 4
	chunk := (budgetMB << 20) / 2 / max(perQuery, 1)
	opt.QueryChunk = int(max(1, min(chunk, int64(positions))))
	return opt
}

func (o Options) Validate() error {
	switch {
	case o.NContext <= 0:
		return fmt.Errorf("%w: n_context must be positive, got %d", ErrInvalidOptions, o.NContext)
	case o.Radius < 0 || math.IsNaN(o.Radius):
		return fmt.Errorf("%w: radius must be >= 0, got %g", ErrInvalidOptions, o.Radius)
	case o.Temperature <= 0 || math.IsNaN(o.Temperature):
		return fmt.Errorf("%w: temperature must be positive, got %g", ErrInvalidOptions, o.Temperature)
	case o.TopK <= 0:
		return fmt.Errorf("%w: top_k must be positive, got %d", ErrInvalidOptions, o.TopK)
	case o.FrameBatch <= 0:
		return fmt.Errorf("%w: frame_batch must be positive, got %d", ErrInvalidOptions, o.FrameBatch)
	case o.QueryChunk <= 0:
		return fmt.Errorf("%w: query_chunk must be positive, got %d", ErrInvalidOptions, o.QueryChunk)
	case o.MemoryBudgetMB < 0:
		return fmt.Errorf("%w: memory_budget_mb must be >= 0", ErrInvalidOptions)
	case o.EncodeBatch <= 0:
		return fmt.Errorf("%w: encode_batch must be positive, got %d", ErrInvalidOptions, o.EncodeBatch)
	case o.KeypointTopK <= 0:
		return fmt.Errorf("%w: keypoint_top_k must be positive, got %d", ErrInvalidOptions, o.KeypointTopK)
	case o.MapScale <= 0:
		return fmt.Errorf("%w: map_scale must be positive, got %d", ErrInvalidOptions, o.MapScale)
	case o.MaxLabels <= 0:
		return fmt.Errorf("%w: max_labels must be positive, got %d", ErrInvalidOptions, o.MaxLabels)
	}
	for _, a := range o.LongTermAnchors {
		if a < 0 {
			return fmt.Errorf("%w: anchor %d", ErrAnchorOutOfRange, a)
		}
	}
	if !o.Metric.valid() {
		return fmt.Errorf("%w: unknown metric %d", ErrInvalidOptions, o.Metric)
	}
	if !o.Kind.valid() {
		return fmt.Errorf("%w: unknown dataset kind %d", ErrInvalidOptions, o.Kind)
	}
	if !o.PaletteMethod.valid() {
		return fmt.Errorf("%w: unknown palette method %d", ErrInvalidOptions, o.PaletteMethod)
	}
	return nil
}

// Engine returns an affinity engine configured from o.
func (o Options) Engine() *AffinityEngine {
	return &AffinityEngine{
		Temperature:  o.Temperature,
		TopK:         o.TopK,
		FrameBatch:   o.FrameBatch,
		QueryChunk:   o.QueryChunk,
		Workers:      max(o.Workers, 1),
		MemoryBudget: o.MemoryBudgetMB << 20,
	}
}
