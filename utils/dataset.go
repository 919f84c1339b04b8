package utils

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/setanarut/labelprop"
)

// DirDataset reads videos stored as
//
//	<Root>/<video>/frames/*.{jpg,png}
//	<Root>/<video>/annotations/*.png
//
// Frames and annotations are matched by sorted file name. A video with fewer
// than NContext annotations is padded by repeating its first frame, so the
// first annotation seeds the whole context window.
type DirDataset struct {
	Root      string
	Videos    []string
	NContext  int
	Scale     int
	MaxLabels int
	Method    PaletteMethod
}

// NewDirDataset lists the videos under root and takes the context length,
// encoder block size and palette settings from opt.
func NewDirDataset(root string, opt labelprop.Options) (*DirDataset, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var videos []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			videos = append(videos, e.Name())
		}
	}
	slices.Sort(videos)
	return &DirDataset{
		Root:      root,
		Videos:    videos,
		NContext:  opt.NContext,
		Scale:     opt.MapScale,
		MaxLabels: opt.MaxLabels,
		Method:    opt.PaletteMethod,
	}, nil
}

func (d *DirDataset) Len() int {
	return len(d.Videos)
}

func listImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png":
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	slices.Sort(out)
	return out, nil
}

func (d *DirDataset) Video(ctx context.Context, i int) (*labelprop.Video, error) {
	if i < 0 || i >= len(d.Videos) {
		return nil, fmt.Errorf("utils: video %d of %d", i, len(d.Videos))
	}
	name := d.Videos[i]
	dir := filepath.Join(d.Root, name)
	framePaths, err := listImages(filepath.Join(dir, "frames"))
	if err != nil {
		return nil, err
	}
	annPaths, err := listImages(filepath.Join(dir, "annotations"))
	if err != nil {
		return nil, err
	}
	if len(framePaths) == 0 || len(annPaths) == 0 {
		return nil, fmt.Errorf("%w: %s has %d frames, %d annotations", labelprop.ErrEmptyVideo, name, len(framePaths), len(annPaths))
	}

	v := &labelprop.Video{Name: name}
	for _, p := range framePaths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := ReadImage(p)
		if err != nil {
			return nil, err
		}
		v.Frames = append(v.Frames, img)
	}

	first, err := ReadImage(annPaths[0])
	if err != nil {
		return nil, err
	}
	v.Palette, err = LabelPalette(first, d.MaxLabels, d.Method)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	if len(annPaths) < d.NContext {
		seed, _, _, err := SoftLabels(first, v.Palette, d.Scale)
		if err != nil {
			return nil, err
		}
		pad := d.NContext - 1
		v.Frames = append(slices.Repeat(v.Frames[:1], pad), v.Frames...)
		for range d.NContext {
			v.Seeds = append(v.Seeds, seed)
		}
		return v, nil
	}

	for _, p := range annPaths[:d.NContext] {
		ann, err := ReadImage(p)
		if err != nil {
			return nil, err
		}
		seed, _, _, err := SoftLabels(ann, v.Palette, d.Scale)
		if err != nil {
			return nil, err
		}
		v.Seeds = append(v.Seeds, seed)
	}
	return v, nil
}
