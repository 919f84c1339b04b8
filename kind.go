package labelprop

import (
	"fmt"
	"strings"
)

// DatasetKind selects how predictions are decoded. It is fixed once per run.
type DatasetKind int

const (
	Segmentation DatasetKind = iota
	Pose
)

func (k DatasetKind) String() string {
	switch k {
	case Pose:
		return "pose"
	default:
		return "segmentation"
	}
}

func (k DatasetKind) valid() bool {
	return k == Segmentation || k == Pose
}

func ParseDatasetKind(s string) (DatasetKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "segmentation", "seg", "vos":
		return Segmentation, nil
	case "pose", "keypoints":
		return Pose, nil
	}
	return 0, fmt.Errorf("%w: unknown dataset kind %q", ErrInvalidOptions, s)
}

func (k DatasetKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *DatasetKind) UnmarshalText(b []byte) error {
	v, err := ParseDatasetKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// frameDecoder turns one soft prediction into kind-specific extras.
type frameDecoder interface {
	decode(soft []float32, h, w, n int) *Keypoints
}

func (k DatasetKind) decoder(topK int) frameDecoder {
	if k == Pose {
		return poseDecoder{topK: topK}
	}
	return segmentationDecoder{}
}

type segmentationDecoder struct{}

func (segmentationDecoder) decode([]float32, int, int, int) *Keypoints { return nil }

type poseDecoder struct{ topK int }

func (d poseDecoder) decode(soft []float32, h, w, n int) *Keypoints {
	kp := DecodeKeypoints(soft, h, w, n, d.topK)
	return &kp
}

// PaletteMethod selects how label colours are read from an annotation frame.
type PaletteMethod int

const (
	// PaletteExact counts the exact colours of a flat annotation mask and falls
	// back to dominant colours when there are more than requested.
	PaletteExact PaletteMethod = iota
	PaletteDominantColor
	PaletteKMeans
)

func (m PaletteMethod) String() string {
	switch m {
	case PaletteKMeans:
		return "kmeans"
	case PaletteDominantColor:
		return "dominantcolor"
	default:
		return "exact"
	}
}

func (m PaletteMethod) valid() bool {
	return m >= PaletteExact && m <= PaletteKMeans
}

func ParsePaletteMethod(s string) (PaletteMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "exact":
		return PaletteExact, nil
	case "dominantcolor", "dominant":
		return PaletteDominantColor, nil
	case "kmeans", "k-means":
		return PaletteKMeans, nil
	}
	return 0, fmt.Errorf("%w: unknown palette method %q", ErrInvalidOptions, s)
}

func (m PaletteMethod) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *PaletteMethod) UnmarshalText(b []byte) error {
	v, err := ParsePaletteMethod(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}
