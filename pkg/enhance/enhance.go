// Package enhance provides contrast normalisation for single-channel
// fluorescence and IHC images.
package enhance

import (
	"image"

	"gocv.io/x/gocv"

	"histoquant/internal/models"
	"histoquant/pkg/cvmat"
)

// MinMax linearly stretches the intensities of a single-channel image to
// the full 0..255 range, truncating toward zero. A constant image is
// returned unchanged.
func MinMax(img *models.Image) *models.Image {
	out := models.NewImage(img.ID, img.Width, img.Height, 1)
	lo, hi := uint8(255), uint8(0)
	for _, v := range img.Pix {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if hi == lo {
		copy(out.Pix, img.Pix)
		return out
	}
	for i, v := range img.Pix {
		out.Pix[i] = uint8(float64(v-lo) * 255 / float64(hi-lo))
	}
	return out
}

// CLAHE applies contrast limited adaptive histogram equalisation to a
// single-channel image with a grid×grid tiling and the given clip limit.
func CLAHE(img *models.Image, clipLimit float64, grid int) (*models.Image, error) {
	if img.Width == 0 || img.Height == 0 {
		return models.NewImage(img.ID, img.Width, img.Height, 1), nil
	}
	if grid < 1 {
		grid = 1
	}

	src, err := cvmat.FromGray(img)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	clahe := gocv.NewCLAHEWithParams(clipLimit, image.Point{X: grid, Y: grid})
	defer clahe.Close()

	dst := gocv.NewMat()
	defer dst.Close()
	clahe.Apply(src, &dst)

	return cvmat.ToGray(dst, img.ID)
}

// Normalize stretches and equalises a single-channel image in one step
func Normalize(img *models.Image, clipLimit float64, grid int) (*models.Image, error) {
	return CLAHE(MinMax(img), clipLimit, grid)
}
