package visualization

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"

	"histoquant/internal/models"
	"histoquant/pkg/imageio"
	"histoquant/pkg/region"
)

// outlineWidth is the thickness in pixels of the footprint outline
const outlineWidth = 2

// Viewer renders the classification of one image as one segment image per
// category: pixels of the category inside the effective tissue area keep
// their colour, everything else is white, and the footprint outline is
// drawn in red.
type Viewer struct {
	// img is the classified image
	img *models.Image

	// result holds the per-pixel labels
	result *models.ClassificationResult

	// effective is the footprint minus the background
	effective *models.Mask

	// outline is the inner border of the footprint
	outline *models.Mask
}

// NewViewer creates a segment viewer for one classified image
func NewViewer(img *models.Image, result *models.ClassificationResult, footprint, background *models.Mask) (*Viewer, error) {
	inner, err := region.Erode(footprint, 2*outlineWidth+1)
	if err != nil {
		return nil, fmt.Errorf("outline: %w", err)
	}
	return &Viewer{
		img:       img,
		result:    result,
		effective: footprint.AndNot(background),
		outline:   footprint.AndNot(inner),
	}, nil
}

// ExtractSegment renders the segment image of category k
func (v *Viewer) ExtractSegment(k int) (image.Image, error) {
	if k < 0 || k >= len(v.result.Categories) {
		return nil, fmt.Errorf("category index %d out of range [0, %d)", k, len(v.result.Categories))
	}

	w, h := v.img.Width, v.img.Height
	segment := v.result.CategoryMask(k).And(v.effective)
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < v.img.Len(); i++ {
		x, y := i%w, i/w
		switch {
		case v.outline.Get(i):
			out.SetRGBA(x, y, color.RGBA{R: 255, A: 255})
		case segment.Get(i):
			p := v.img.At(i)
			if len(p) == 1 {
				out.SetRGBA(x, y, color.RGBA{R: p[0], G: p[0], B: p[0], A: 255})
			} else {
				out.SetRGBA(x, y, color.RGBA{R: p[0], G: p[1], B: p[2], A: 255})
			}
		default:
			out.SetRGBA(x, y, color.RGBA{R: 255, G: 255, B: 255, A: 255})
		}
	}
	return out, nil
}

// SaveSegment saves an extracted segment as a PNG image
func (v *Viewer) SaveSegment(img image.Image, filename string) error {
	return imageio.SavePNG(img, filename)
}

// SaveSegmentSequence extracts and saves the segments of every category as
// <image>-<stain>-<category>.png in outputDir and returns the file paths
func (v *Viewer) SaveSegmentSequence(outputDir, stain string) ([]string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(v.result.Categories))
	for k, name := range v.result.Categories {
		img, err := v.ExtractSegment(k)
		if err != nil {
			return paths, err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("%s-%s-%s.png",
			imageio.SafeName(v.img.ID), imageio.SafeName(stain), imageio.SafeName(name)))
		if err := v.SaveSegment(img, filename); err != nil {
			return paths, err
		}
		paths = append(paths, filename)
	}

	return paths, nil
}
