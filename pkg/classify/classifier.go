// Package classify assigns every in-footprint pixel of an image to exactly one
// category, either by nearest exemplar colour or by calibrated intensity band.
package classify

import (
	"context"

	"histoquant/internal/models"
)

// Classifier labels the pixels of one image
type Classifier interface {
	// Categories returns the category names in label order
	Categories() []string

	// Background returns the pixels the classifier flags as background
	// (for example near-white pixels inside the footprint)
	Background(img *models.Image) *models.Mask

	// Classify assigns each pixel a category index, or models.Unclassified
	// when it lies outside the footprint or is flagged background
	Classify(ctx context.Context, img *models.Image, footprint *models.Mask) (*models.ClassificationResult, error)
}

// newResult allocates a result with every pixel unclassified
func newResult(img *models.Image, categories []string) *models.ClassificationResult {
	res := &models.ClassificationResult{
		ImageID:    img.ID,
		Categories: categories,
		Counts:     make(map[string]int, len(categories)),
		Labels:     make([]int, img.Len()),
		Width:      img.Width,
		Height:     img.Height,
	}
	for i := range res.Labels {
		res.Labels[i] = models.Unclassified
	}
	for _, c := range categories {
		res.Counts[c] = 0
	}
	return res
}

// finish fills the per-category counts from the label grid
func finish(res *models.ClassificationResult) {
	for _, l := range res.Labels {
		if l == models.Unclassified {
			res.Unclassified++
			continue
		}
		res.Counts[res.Categories[l]]++
	}
}

// checkEvery is the pixel stride between context checks
const checkEvery = 1 << 16
