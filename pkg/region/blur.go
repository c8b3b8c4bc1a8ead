package region

import (
	"image"

	"gocv.io/x/gocv"

	"histoquant/internal/models"
	"histoquant/pkg/cvmat"
)

// SmoothMask blurs a mask with a size×size Gaussian (sigma derived from the
// size, reflect-101 border) and re-binarizes it at one half, removing
// isolated speckle and jagged single-pixel protrusions. A size of 1 or less
// returns a copy.
func SmoothMask(m *models.Mask, size int) (*models.Mask, error) {
	if size <= 1 {
		return models.MaskFromBools(m.Width, m.Height, m.Bools()), nil
	}

	src, err := cvmat.FromMask(m)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(src, &blurred, image.Point{X: size, Y: size}, 0, 0, gocv.BorderDefault)

	binary := gocv.NewMat()
	defer binary.Close()
	gocv.Threshold(blurred, &binary, 127, 255, gocv.ThresholdBinary)

	return cvmat.ToMask(binary, m.Width, m.Height)
}
