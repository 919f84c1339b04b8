package labelprop

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/mat"
)

// MaskSentinel is the bias of a disallowed pair. exp(MaskSentinel) underflows to 0.
const MaskSentinel = -1e10

type Metric int

const (
	Euclidean Metric = iota
	Chebyshev
)

func (m Metric) String() string {
	switch m {
	case Chebyshev:
		return "chebyshev"
	default:
		return "euclidean"
	}
}

func (m Metric) valid() bool {
	return m == Euclidean || m == Chebyshev
}

func (m Metric) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Metric) UnmarshalText(b []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(b))) {
	case "", "euclidean", "l2":
		*m = Euclidean
	case "chebyshev", "linf":
		*m = Chebyshev
	default:
		return fmt.Errorf("%w: unknown metric %q", ErrInvalidOptions, b)
	}
	return nil
}

func (m Metric) distance(dx, dy float64) float64 {
	if m == Chebyshev {
		return max(math.Abs(dx), math.Abs(dy))
	}
	return math.Sqrt(dx*dx + dy*dy)
}

// SpatialMask is an additive attention bias over flattened positions of an
// H×W feature map. Immutable once built.
type SpatialMask struct {
	H, W   int
	Radius float64
	Metric Metric
	Sym    *mat.SymDense

	raw blas64.Symmetric
}

// BuildSpatialMask returns the mask of a height×width map: 0 for pairs at most
// radius apart under metric, MaskSentinel for the rest.
func BuildSpatialMask(height, width int, radius float64, metric Metric) (*SpatialMask, error) {
	if height <= 0 || width <= 0 {
		return nil, fmt.Errorf("%w: mask size %dx%d", ErrInvalidOptions, width, height)
	}
	if radius < 0 || math.IsNaN(radius) {
		return nil, fmt.Errorf("%w: radius %g", ErrInvalidOptions, radius)
	}
	if !metric.valid() {
		return nil, fmt.Errorf("%w: unknown metric %d", ErrInvalidOptions, metric)
	}
	n := height * width
	sym := mat.NewSymDense(n, nil)
	raw := sym.RawSymmetric()
	for i := range n {
		yi, xi := i/width, i%width
		row := i * raw.Stride
		for j := i; j < n; j++ {
			yj, xj := j/width, j%width
			if metric.distance(float64(xi-xj), float64(yi-yj)) > radius {
				raw.Data[row+j] = MaskSentinel
			}
		}
	}
	return &SpatialMask{
		H:      height,
		W:      width,
		Radius: radius,
		Metric: metric,
		Sym:    sym,
		raw:    raw,
	}, nil
}

// Size is the number of flattened positions.
func (m *SpatialMask) Size() int {
	return m.H * m.W
}

// Bias returns the bias between key position i and query position j.
func (m *SpatialMask) Bias(i, j int) float64 {
	if i > j {
		i, j = j, i
	}
	return m.raw.Data[i*m.raw.Stride+j]
}

type maskKey struct {
	h, w   int
	radius float64
	metric Metric
}

// MaskCache builds each mask once per resolution and shares it read-only.
type MaskCache struct {
	mu    sync.Mutex
	masks map[maskKey]*SpatialMask
}

// NewMaskCache returns an empty cache.
func NewMaskCache() *MaskCache {
	return &MaskCache{masks: make(map[maskKey]*SpatialMask)}
}

func (c *MaskCache) Get(height, width int, radius float64, metric Metric) (*SpatialMask, error) {
	key := maskKey{height, width, radius, metric}
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.masks[key]; ok {
		return m, nil
	}
	m, err := BuildSpatialMask(height, width, radius, metric)
	if err != nil {
		return nil, err
	}
	c.masks[key] = m
	return m, nil
}

// Len reports how many resolutions are cached.
func (c *MaskCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.masks)
}
