// Package cvmat converts masks and single-channel images to and from
// OpenCV matrices. Masks map to 8-bit matrices holding 0 or 255.
package cvmat

import (
	"fmt"

	"gocv.io/x/gocv"

	"histoquant/internal/models"
)

// FromMask returns m as a CV_8UC1 matrix with set cells at 255.
// The caller must Close the matrix.
func FromMask(m *models.Mask) (gocv.Mat, error) {
	data := make([]byte, m.Len())
	for i := range data {
		if m.Get(i) {
			data[i] = 255
		}
	}
	return gocv.NewMatFromBytes(m.Height, m.Width, gocv.MatTypeCV8UC1, data)
}

// ToMask reads a CV_8UC1 matrix as a mask; every non-zero cell is set
func ToMask(mat gocv.Mat, width, height int) (*models.Mask, error) {
	if mat.Rows() != height || mat.Cols() != width || mat.Type() != gocv.MatTypeCV8UC1 {
		return nil, fmt.Errorf("matrix %dx%d (type %v) does not match mask %dx%d",
			mat.Cols(), mat.Rows(), mat.Type(), width, height)
	}
	data := mat.ToBytes()
	return models.MaskFunc(width, height, func(i int) bool { return data[i] != 0 }), nil
}

// FromGray returns a single-channel image as a CV_8UC1 matrix. The caller
// must Close the matrix.
func FromGray(img *models.Image) (gocv.Mat, error) {
	if img.Channels != 1 {
		return gocv.NewMat(), fmt.Errorf("expected a single-channel image, got %d channels", img.Channels)
	}
	data := make([]byte, len(img.Pix))
	copy(data, img.Pix)
	return gocv.NewMatFromBytes(img.Height, img.Width, gocv.MatTypeCV8UC1, data)
}

// ToGray reads a CV_8UC1 matrix as a single-channel image
func ToGray(mat gocv.Mat, id string) (*models.Image, error) {
	if mat.Type() != gocv.MatTypeCV8UC1 {
		return nil, fmt.Errorf("expected an 8-bit single-channel matrix, got type %v", mat.Type())
	}
	img := models.NewImage(id, mat.Cols(), mat.Rows(), 1)
	copy(img.Pix, mat.ToBytes())
	return img, nil
}
