package labelprop

import (
	"image"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultOptions_Valid(t *testing.T) {
	opt := DefaultOptions()
	require.NoError(t, opt.Validate())
	assert.Equal(t, 20, opt.NContext)
	assert.Equal(t, []int{0}, opt.LongTermAnchors)
	assert.Equal(t, Segmentation, opt.Kind)
}

func TestOptions_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Options)
		want   error
	}{
		{"n_context", func(o *Options) { o.NContext = 0 }, ErrInvalidOptions},
		{"radius", func(o *Options) { o.Radius = -1 }, ErrInvalidOptions},
		{"radius NaN", func(o *Options) { o.Radius = math.NaN() }, ErrInvalidOptions},
		{"temperature", func(o *Options) { o.Temperature = 0 }, ErrInvalidOptions},
		{"temperature NaN", func(o *Options) { o.Temperature = math.NaN() }, ErrInvalidOptions},
		{"max_labels", func(o *Options) { o.MaxLabels = 0 }, ErrInvalidOptions},
		{"palette method", func(o *Options) { o.PaletteMethod = PaletteMethod(9) }, ErrInvalidOptions},
		{"top_k", func(o *Options) { o.TopK = 0 }, ErrInvalidOptions},
		{"frame_batch", func(o *Options) { o.FrameBatch = 0 }, ErrInvalidOptions},
		{"query_chunk", func(o *Options) { o.QueryChunk = 0 }, ErrInvalidOptions},
		{"memory budget", func(o *Options) { o.MemoryBudgetMB = -1 }, ErrInvalidOptions},
		{"encode_batch", func(o *Options) { o.EncodeBatch = 0 }, ErrInvalidOptions},
		{"metric", func(o *Options) { o.Metric = Metric(7) }, ErrInvalidOptions},
		{"kind", func(o *Options) { o.Kind = DatasetKind(7) }, ErrInvalidOptions},
		{"anchor", func(o *Options) { o.LongTermAnchors = []int{-2} }, ErrAnchorOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opt := DefaultOptions()
			tt.mutate(&opt)
			assert.ErrorIs(t, opt.Validate(), tt.want)
		})
	}
}

func TestOptionsFromSize(t *testing.T) {
	opt := OptionsFromSize(image.Pt(4, 4), 0)
	assert.Equal(t, 16, opt.QueryChunk)

	opt = OptionsFromSize(image.Pt(10, 10), 1)
	assert.Equal(t, int64(1), opt.MemoryBudgetMB)
	// 1 MiB / 2 over 2 frames × 21 slots × 100 positions × 4 bytes.
	assert.Equal(t, 31, opt.QueryChunk)
	require.NoError(t, opt.Validate())

	opt = OptionsFromSize(image.Pt(0, 0), 1)
	assert.Equal(t, DefaultOptions().QueryChunk, opt.QueryChunk)
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "labelprop.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadOptions_File(t *testing.T) {
	path := writeConfig(t, `
n_context: 7
long_term_anchors: [0, 5]
radius: 3.5
metric: chebyshev
temperature: 0.05
top_k: 7
kind: pose
memory_budget_mb: 256
palette_method: kmeans
max_labels: 5
`)
	opt, err := LoadOptions(path)
	require.NoError(t, err)
	assert.Equal(t, 7, opt.NContext)
	assert.Equal(t, []int{0, 5}, opt.LongTermAnchors)
	assert.Equal(t, 3.5, opt.Radius)
	assert.Equal(t, Chebyshev, opt.Metric)
	assert.Equal(t, 0.05, opt.Temperature)
	assert.Equal(t, 7, opt.TopK)
	assert.Equal(t, Pose, opt.Kind)
	assert.Equal(t, int64(256), opt.MemoryBudgetMB)
	assert.Equal(t, PaletteKMeans, opt.PaletteMethod)
	assert.Equal(t, 5, opt.MaxLabels)
	// Untouched keys keep their defaults.
	assert.Equal(t, DefaultOptions().QueryChunk, opt.QueryChunk)
}

func TestLoadOptions_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "top_k: 7\nradius: 2\n")
	t.Setenv("LABELPROP_TOP_K", "3")
	t.Setenv("LABELPROP_LONG_TERM_ANCHORS", "0, 4")
	t.Setenv("LABELPROP_NORMALIZE_OUTPUT", "true")
	t.Setenv("LABELPROP_METRIC", "linf")
	t.Setenv("LABELPROP_PALETTE_METHOD", "dominantcolor")
	t.Setenv("LABELPROP_MAX_LABELS", "4")

	opt, err := LoadOptions(path)
	require.NoError(t, err)
	assert.Equal(t, 3, opt.TopK)
	assert.Equal(t, 2.0, opt.Radius)
	assert.Equal(t, []int{0, 4}, opt.LongTermAnchors)
	assert.True(t, opt.NormalizeOutput)
	assert.Equal(t, Chebyshev, opt.Metric)
	assert.Equal(t, PaletteDominantColor, opt.PaletteMethod)
	assert.Equal(t, 4, opt.MaxLabels)
}

func TestLoadOptions_MissingFile(t *testing.T) {
	opt, err := LoadOptions(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultOptions().TopK, opt.TopK)
}

func TestLoadOptions_Errors(t *testing.T) {
	t.Run("bad env", func(t *testing.T) {
		t.Setenv("LABELPROP_RADIUS", "wide")
		_, err := LoadOptions("")
		assert.ErrorIs(t, err, ErrInvalidOptions)
	})
	t.Run("invalid value", func(t *testing.T) {
		_, err := LoadOptions(writeConfig(t, "temperature: 0\n"))
		assert.ErrorIs(t, err, ErrInvalidOptions)
	})
	t.Run("unknown metric", func(t *testing.T) {
		_, err := LoadOptions(writeConfig(t, "metric: manhattan\n"))
		assert.ErrorIs(t, err, ErrInvalidOptions)
	})
	t.Run("NaN temperature", func(t *testing.T) {
		t.Setenv("LABELPROP_TEMPERATURE", "NaN")
		_, err := LoadOptions("")
		assert.ErrorIs(t, err, ErrInvalidOptions)
	})
	t.Run("unknown palette method", func(t *testing.T) {
		_, err := LoadOptions(writeConfig(t, "palette_method: median-cut\n"))
		assert.ErrorIs(t, err, ErrInvalidOptions)
	})
	t.Run("malformed yaml", func(t *testing.T) {
		_, err := LoadOptions(writeConfig(t, "top_k: [\n"))
		assert.Error(t, err)
	})
}

func TestParseAnchors(t *testing.T) {
	a, err := ParseAnchors(" 0,3 , 9")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 3, 9}, a)

	a, err = ParseAnchors("")
	require.NoError(t, err)
	assert.Empty(t, a)

	_, err = ParseAnchors("0,x")
	assert.ErrorIs(t, err, ErrInvalidOptions)
}

func TestParsePaletteMethod(t *testing.T) {
	for in, want := range map[string]PaletteMethod{
		"":              PaletteExact,
		"Exact":         PaletteExact,
		"dominantcolor": PaletteDominantColor,
		" kmeans ":      PaletteKMeans,
	} {
		got, err := ParsePaletteMethod(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParsePaletteMethod("octree")
	assert.ErrorIs(t, err, ErrInvalidOptions)
}
