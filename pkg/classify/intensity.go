package classify

import (
	"context"
	"fmt"

	"histoquant/internal/models"
)

// Band category names, in label order
const (
	Unstained = "Unstained"
	Low       = "Low"
	High      = "High"
)

// Label indices of the intensity bands
const (
	LabelUnstained = iota
	LabelLow
	LabelHigh
)

// BandFractions are the fractions of the calibrated span that separate the
// unstained, low and high intensity bands
type BandFractions struct {
	Lower float64
	Upper float64
}

// DefaultBandFractions returns the 20% / 50% split
func DefaultBandFractions() BandFractions {
	return BandFractions{Lower: 0.2, Upper: 0.5}
}

// IntensityThresholdClassifier assigns footprint pixels to one of three
// disjoint intensity bands of a cohort calibration:
//
//	unstained: v <= min + Lower*span
//	low:       min + Lower*span < v <= min + Upper*span
//	high:      v > min + Upper*span
type IntensityThresholdClassifier struct {
	lowerEdge float64
	upperEdge float64
}

// NewIntensityThresholdClassifier creates a band classifier for one stain
// cohort. The calibration must have been computed from the whole cohort.
func NewIntensityThresholdClassifier(cal models.IntensityCalibration, fractions BandFractions) (*IntensityThresholdClassifier, error) {
	if !(fractions.Lower > 0 && fractions.Lower < fractions.Upper && fractions.Upper < 1) {
		return nil, fmt.Errorf("band fractions must satisfy 0 < lower < upper < 1, got %g/%g", fractions.Lower, fractions.Upper)
	}
	if cal.Max < cal.Min {
		return nil, fmt.Errorf("calibration for %s has max %g below min %g", cal.Stain, cal.Max, cal.Min)
	}
	span := cal.Span()
	return &IntensityThresholdClassifier{
		lowerEdge: cal.Min + fractions.Lower*span,
		upperEdge: cal.Min + fractions.Upper*span,
	}, nil
}

// Categories returns the band names in label order
func (c *IntensityThresholdClassifier) Categories() []string {
	return []string{Unstained, Low, High}
}

// Edges returns the lower and upper band edges in intensity units
func (c *IntensityThresholdClassifier) Edges() (lower, upper float64) {
	return c.lowerEdge, c.upperEdge
}

// Band returns the band label of an intensity value
func (c *IntensityThresholdClassifier) Band(v float64) int {
	switch {
	case v <= c.lowerEdge:
		return LabelUnstained
	case v <= c.upperEdge:
		return LabelLow
	default:
		return LabelHigh
	}
}

// Background is empty for intensity images: every footprint pixel counts
func (c *IntensityThresholdClassifier) Background(img *models.Image) *models.Mask {
	return models.NewMask(img.Width, img.Height)
}

// Stained returns the footprint pixels above the lower band edge. It is
// derived from the intensities directly so that it can be checked against
// the low and high band counts.
func (c *IntensityThresholdClassifier) Stained(img *models.Image, footprint *models.Mask) *models.Mask {
	above := models.MaskFunc(img.Width, img.Height, func(i int) bool { return img.Intensity(i) > c.lowerEdge })
	return above.And(footprint)
}

// Classify labels every footprint pixel with its band
func (c *IntensityThresholdClassifier) Classify(ctx context.Context, img *models.Image, footprint *models.Mask) (*models.ClassificationResult, error) {
	if footprint.Width != img.Width || footprint.Height != img.Height {
		return nil, fmt.Errorf("footprint %dx%d does not match image %dx%d",
			footprint.Width, footprint.Height, img.Width, img.Height)
	}

	res := newResult(img, c.Categories())
	for i := 0; i < img.Len(); i++ {
		if i%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if !footprint.Get(i) {
			continue
		}
		res.Labels[i] = c.Band(img.Intensity(i))
	}

	finish(res)
	return res, nil
}
