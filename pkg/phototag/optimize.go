package phototag

import (
	"bytes"
	"fmt"
	"image"
	"math"
	"path/filepath"
	"strings"

	"github.com/anthonynsimon/bild/imgio"
	"github.com/anthonynsimon/bild/transform"
	"github.com/google/uuid"
	"k8s.io/klog/v2"

	_ "golang.org/x/image/tiff"
)

// ThumbOpts bound the image sent for labeling.
type ThumbOpts struct {
	X       int
	Y       int
	Quality int
}

// DefaultThumbOpts keeps uploads small while leaving enough detail to label.
var DefaultThumbOpts = ThumbOpts{X: 512, Y: 512, Quality: 85}

// ThumbMeta describes an optimized image on disk.
type ThumbMeta struct {
	X    int
	Y    int
	Path string
}

// Previewer extracts the camera-rendered image embedded in a RAW file.
type Previewer interface {
	Preview(path string) ([]byte, error)
}

// decode returns the full size RGB image for t.
func decode(t *Task, pv Previewer) (image.Image, error) {
	if t.Category == Raw && pv != nil {
		bs, err := pv.Preview(t.Path)
		if err == nil {
			img, _, err := image.Decode(bytes.NewReader(bs))
			if err == nil {
				return img, nil
			}
			klog.Warningf("unable to decode preview of %s: %v", t.Path, err)
		} else {
			klog.V(1).Infof("no preview in %s: %v", t.Path, err)
		}
	}

	img, err := imgio.Open(t.Path)
	if err != nil {
		return nil, fmt.Errorf("imgio.Open: %w", err)
	}
	return img, nil
}

// scratchPath picks a unique artifact name for t inside dir.
func scratchPath(dir string, t *Task) string {
	base := filepath.Base(t.Path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, fmt.Sprintf("%s-%s.jpeg", stem, uuid.NewString()[:8]))
}

// fit scales w x h down to fit inside t, keeping the aspect ratio. It never
// enlarges.
func fit(w int, h int, t ThumbOpts) (int, int) {
	scale := 1.0
	if t.X > 0 {
		scale = math.Min(scale, float64(t.X)/float64(w))
	}
	if t.Y > 0 {
		scale = math.Min(scale, float64(t.Y)/float64(h))
	}
	x := int(math.Round(float64(w) * scale))
	y := int(math.Round(float64(h) * scale))
	return max(x, 1), max(y, 1)
}

func createThumb(i image.Image, path string, t ThumbOpts) (*ThumbMeta, error) {
	if i.Bounds().Dy() == 0 {
		return nil, fmt.Errorf("no Y for %+v", i.Bounds())
	}

	if i.Bounds().Dx() == 0 {
		return nil, fmt.Errorf("no X for %+v", i.Bounds())
	}

	x, y := fit(i.Bounds().Dx(), i.Bounds().Dy(), t)
	klog.V(1).Infof("creating %dx%d thumb: %s - %+v", x, y, path, i.Bounds())

	rimg := transform.Resize(i, x, y, transform.Lanczos)
	if err := imgio.Save(path, rimg, imgio.JPEGEncoder(t.Quality)); err != nil {
		return nil, fmt.Errorf("save: %w", err)
	}

	return &ThumbMeta{X: rimg.Bounds().Dx(), Y: rimg.Bounds().Dy(), Path: path}, nil
}
