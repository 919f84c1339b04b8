package labelprop

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadOptions merges configuration with priority env > file > defaults and
// validates the result. A missing file is not an error.
func LoadOptions(path string) (Options, error) {
	opt := DefaultOptions()
	if path != "" {
		if err := loadOptionsFile(path, &opt); err != nil {
			return opt, fmt.Errorf("load config file: %w", err)
		}
	}
	if err := loadOptionsFromEnv(&opt); err != nil {
		return opt, err
	}
	if err := opt.Validate(); err != nil {
		return opt, fmt.Errorf("invalid config: %w", err)
	}
	return opt, nil
}

func loadOptionsFile(path string, opt *Options) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, opt)
}

func loadOptionsFromEnv(opt *Options) error {
	ints := map[string]*int{
		"LABELPROP_N_CONTEXT":      &opt.NContext,
		"LABELPROP_TOP_K":          &opt.TopK,
		"LABELPROP_FRAME_BATCH":    &opt.FrameBatch,
		"LABELPROP_QUERY_CHUNK":    &opt.QueryChunk,
		"LABELPROP_WORKERS":        &opt.Workers,
		"LABELPROP_VIDEO_WORKERS":  &opt.VideoWorkers,
		"LABELPROP_ENCODE_BATCH":   &opt.EncodeBatch,
		"LABELPROP_KEYPOINT_TOP_K": &opt.KeypointTopK,
		"LABELPROP_MAP_SCALE":      &opt.MapScale,
		"LABELPROP_MAX_LABELS":     &opt.MaxLabels,
	}
	for key, dst := range ints {
		if v := os.Getenv(key); v != "" {
			i, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%w: %s=%q", ErrInvalidOptions, key, v)
			}
			*dst = i
		}
	}

	floats := map[string]*float64{
		"LABELPROP_RADIUS":      &opt.Radius,
		"LABELPROP_TEMPERATURE": &opt.Temperature,
	}
	for key, dst := range floats {
		if v := os.Getenv(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("%w: %s=%q", ErrInvalidOptions, key, v)
			}
			*dst = f
		}
	}

	bools := map[string]*bool{
		"LABELPROP_NORMALIZE_FEATURES": &opt.NormalizeFeatures,
		"LABELPROP_NORMALIZE_OUTPUT":   &opt.NormalizeOutput,
	}
	for key, dst := range bools {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%w: %s=%q", ErrInvalidOptions, key, v)
			}
			*dst = b
		}
	}

	if v := os.Getenv("LABELPROP_MEMORY_BUDGET_MB"); v != "" {
		i, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: LABELPROP_MEMORY_BUDGET_MB=%q", ErrInvalidOptions, v)
		}
		opt.MemoryBudgetMB = i
	}
	if v := os.Getenv("LABELPROP_LONG_TERM_ANCHORS"); v != "" {
		anchors, err := ParseAnchors(v)
		if err != nil {
			return err
		}
		opt.LongTermAnchors = anchors
	}
	if v := os.Getenv("LABELPROP_METRIC"); v != "" {
		if err := opt.Metric.UnmarshalText([]byte(v)); err != nil {
			return err
		}
	}
	if v := os.Getenv("LABELPROP_KIND"); v != "" {
		if err := opt.Kind.UnmarshalText([]byte(v)); err != nil {
			return err
		}
	}
	if v := os.Getenv("LABELPROP_PALETTE_METHOD"); v != "" {
		if err := opt.PaletteMethod.UnmarshalText([]byte(v)); err != nil {
			return err
		}
	}
	return nil
}

// ParseAnchors parses a comma separated anchor list such as "0,5". An empty
// string means no anchors.
func ParseAnchors(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return []int{}, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		a, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("%w: anchor %q", ErrInvalidOptions, p)
		}
		out = append(out, a)
	}
	return out, nil
}
