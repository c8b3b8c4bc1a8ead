package region

import (
	"image"

	"gocv.io/x/gocv"

	"histoquant/internal/models"
	"histoquant/pkg/cvmat"
)

// morph applies a morphological operation with a size×size square
// structuring element. Cells outside the image never contribute to a
// dilation and never cause an erosion (OpenCV's default border value).
func morph(m *models.Mask, op gocv.MorphType, size int) (*models.Mask, error) {
	if size <= 1 {
		return models.MaskFromBools(m.Width, m.Height, m.Bools()), nil
	}

	src, err := cvmat.FromMask(m)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Point{X: size, Y: size})
	defer kernel.Close()

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.MorphologyEx(src, &dst, op, kernel)

	return cvmat.ToMask(dst, m.Width, m.Height)
}

// Dilate returns the dilation of m by a size×size square
func Dilate(m *models.Mask, size int) (*models.Mask, error) {
	return morph(m, gocv.MorphDilate, size)
}

// Erode returns the erosion of m by a size×size square
func Erode(m *models.Mask, size int) (*models.Mask, error) {
	return morph(m, gocv.MorphErode, size)
}

// Close returns the morphological closing (dilate, then erode) of m
func Close(m *models.Mask, size int) (*models.Mask, error) {
	return morph(m, gocv.MorphClose, size)
}

// Open returns the morphological opening (erode, then dilate) of m
func Open(m *models.Mask, size int) (*models.Mask, error) {
	return morph(m, gocv.MorphOpen, size)
}
