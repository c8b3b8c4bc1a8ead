package region

import (
	"gocv.io/x/gocv"

	"histoquant/internal/models"
	"histoquant/pkg/cvmat"
)

// OtsuForeground splits a single-channel image at the level maximising the
// between-class variance; pixels above the level are foreground. An image
// with a single intensity has no split and yields an empty mask.
func OtsuForeground(img *models.Image) (*models.Mask, error) {
	src, err := cvmat.FromGray(img)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	minVal, maxVal, _, _ := gocv.MinMaxLoc(src)
	if minVal == maxVal {
		return models.NewMask(img.Width, img.Height), nil
	}

	binary := gocv.NewMat()
	defer binary.Close()
	gocv.Threshold(src, &binary, 0, 255, gocv.ThresholdBinary+gocv.ThresholdOtsu)

	return cvmat.ToMask(binary, img.Width, img.Height)
}
