// Package quantify turns per-image classifications into per-category area
// percentages and collects them in a run-wide results table.
package quantify

import (
	"fmt"
	"math"

	"histoquant/internal/models"
	"histoquant/pkg/classify"
)

// Total is the derived category of intensity stains: Low plus High
const Total = "Total"

// bandTolerance is the largest accepted gap between Total% and Low%+High%
const bandTolerance = 1e-6

// Quantify computes the share of the effective tissue area taken by each
// category. The effective area is the footprint minus the background mask.
// An empty effective area yields 0% for every category rather than an error.
func Quantify(row models.MetadataRow, res *models.ClassificationResult, footprint, background *models.Mask) models.ConditionRecord {
	effective := footprint.AndNot(background)
	area := effective.Count()

	rec := models.ConditionRecord{
		ImageID:       row.ImageID,
		FilePath:      row.FilePath,
		Condition:     row.Condition,
		Stain:         row.Stain,
		Replicate:     row.Replicate,
		Percentages:   make(map[string]float64, len(res.Categories)),
		Order:         append([]string(nil), res.Categories...),
		EffectiveArea: area,
		PixelCounts:   make(map[string]int, len(res.Categories)),
	}

	counts := make([]int, len(res.Categories))
	for i, l := range res.Labels {
		if l != models.Unclassified && effective.Get(i) {
			counts[l]++
		}
	}
	for k, name := range res.Categories {
		rec.PixelCounts[name] = counts[k]
		rec.Percentages[name] = percentage(counts[k], area)
	}
	return rec
}

// QuantifyBands quantifies an intensity classification and adds the Total
// category, computed from the stained mask independently of the band
// labels. A Total that disagrees with Low+High is reported as
// models.ErrInconsistentBands.
func QuantifyBands(row models.MetadataRow, img *models.Image, res *models.ClassificationResult,
	footprint *models.Mask, c *classify.IntensityThresholdClassifier) (models.ConditionRecord, error) {
	background := c.Background(img)
	rec := Quantify(row, res, footprint, background)

	stained := c.Stained(img, footprint).AndNot(background)
	total := percentage(stained.Count(), rec.EffectiveArea)
	rec.Percentages[Total] = total
	rec.PixelCounts[Total] = stained.Count()
	rec.Order = append(rec.Order, Total)

	sum := rec.Percentages[classify.Low] + rec.Percentages[classify.High]
	if math.Abs(total-sum) > bandTolerance {
		return rec, fmt.Errorf("%s: total %.6f%% vs low+high %.6f%%: %w", row.ImageID, total, sum, models.ErrInconsistentBands)
	}
	return rec, nil
}

func percentage(count, area int) float64 {
	if area == 0 {
		return 0
	}
	return 100 * float64(count) / float64(area)
}
