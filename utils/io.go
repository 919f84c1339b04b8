package utils

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/setanarut/labelprop"
	"gonum.org/v1/gonum/mat"
)

func ReadImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

// SaveImage encodes img as JPEG for .jpg/.jpeg names and PNG otherwise.
func SaveImage(img image.Image, filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		err = jpeg.Encode(f, img, &jpeg.Options{Quality: 95})
	default:
		err = png.Encode(f, img)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

func SavePalette(palette []colorful.Color, tileSize int, filename string) error {
	if len(palette) == 0 {
		return ErrEmptyPalette
	}
	if tileSize <= 0 {
		tileSize = 64
	}
	img := image.NewRGBA(image.Rect(0, 0, tileSize*len(palette), tileSize))
	for i, c := range palette {
		r, g, b := c.Clamped().RGB255()
		fill := color.RGBA{R: r, G: g, B: b, A: 255}
		for y := range tileSize {
			for x := i * tileSize; x < (i+1)*tileSize; x++ {
				img.SetRGBA(x, y, fill)
			}
		}
	}
	return SaveImage(img, filename)
}

// SaveResult writes <vid>_<t>_blend.jpg, <vid>_<t>_mask.png and
// <vid>_<t>_heat.png for every target t. Pose videos also get
// <vid>_<t>_sharp.png, <vid>.dat with the stacked keypoints in feature
// coordinates and <vid>_px.dat with the same keypoints in frame pixels.
func SaveResult(dir string, vid int, res *labelprop.Result) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for _, f := range res.Frames {
		frame := res.Video.Frames[f.Frame]
		r := labelprop.Render(frame, f, res.H, res.W, res.N, res.MapScale, res.Video.Palette)
		prefix := filepath.Join(dir, strconv.Itoa(vid)+"_"+strconv.Itoa(f.Target))
		if err := SaveImage(r.Blend, prefix+"_blend.jpg"); err != nil {
			return err
		}
		if err := SaveImage(r.Labels, prefix+"_mask.png"); err != nil {
			return err
		}
		if r.Heat != nil {
			if err := SaveImage(r.Heat, prefix+"_heat.png"); err != nil {
				return err
			}
		}
		if r.Sharp != nil {
			if err := SaveImage(r.Sharp, prefix+"_sharp.png"); err != nil {
				return err
			}
		}
	}
	kps := res.Keypoints()
	if len(kps) == 0 {
		return nil
	}
	base := filepath.Join(dir, strconv.Itoa(vid))
	if err := SaveKeypoints(base+".dat", kps); err != nil {
		return err
	}
	return SaveKeypoints(base+"_px.dat", res.PixelKeypoints())
}

// StackKeypoints lays out frames as columns: rows 0…m-1 hold x, rows m…2m-1 hold y.
func StackKeypoints(kps []labelprop.Keypoints) *mat.Dense {
	if len(kps) == 0 || kps[0].Len() == 0 {
		return nil
	}
	m := kps[0].Len()
	d := mat.NewDense(2*m, len(kps), nil)
	for t, kp := range kps {
		for i := range m {
			d.Set(i, t, kp.X[i])
			d.Set(m+i, t, kp.Y[i])
		}
	}
	return d
}

// SaveKeypoints stores the stacked keypoints of a video in gonum's binary
// matrix format.
func SaveKeypoints(path string, kps []labelprop.Keypoints) error {
	d := StackKeypoints(kps)
	if d == nil {
		return fmt.Errorf("utils: no keypoints for %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	_, err = d.MarshalBinaryTo(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

func LoadKeypoints(path string) (*mat.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var d mat.Dense
	if _, err := d.UnmarshalBinaryFrom(f); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return &d, nil
}
