package region

import (
	"gocv.io/x/gocv"

	"histoquant/internal/models"
	"histoquant/pkg/cvmat"
)

// ccStatArea is the area column of the connected component stats matrix
const ccStatArea = 4

// LargestComponent returns the mask of the largest 8-connected component of
// m. Exact area ties keep the lowest label, which callers must not rely on.
// A mask with at most one component is returned unchanged.
func LargestComponent(m *models.Mask) (*models.Mask, error) {
	src, err := cvmat.FromMask(m)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	labels := gocv.NewMat()
	defer labels.Close()
	stats := gocv.NewMat()
	defer stats.Close()
	centroids := gocv.NewMat()
	defer centroids.Close()

	// label 0 is the unset background
	n := gocv.ConnectedComponentsWithStats(src, &labels, &stats, &centroids)
	if n <= 2 {
		return models.MaskFromBools(m.Width, m.Height, m.Bools()), nil
	}

	best, bestArea := 1, stats.GetIntAt(1, ccStatArea)
	for label := 2; label < n; label++ {
		if area := stats.GetIntAt(label, ccStatArea); area > bestArea {
			best, bestArea = label, area
		}
	}

	selected := gocv.NewMat()
	defer selected.Close()
	value := gocv.NewScalar(float64(best), 0, 0, 0)
	gocv.InRangeWithScalar(labels, value, value, &selected)

	return cvmat.ToMask(selected, m.Width, m.Height)
}
