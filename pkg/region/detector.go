// Package region isolates the physical tissue footprint of a microscopy image
// from its near-white (brightfield) or dark (fluorescence) background.
package region

import (
	"context"
	"fmt"

	"histoquant/internal/models"
)

// Params holds the sample region detection parameters
type Params struct {
	// BackgroundThreshold marks RGB pixels with every channel at or above it as background
	BackgroundThreshold int

	// BlurSize is the odd Gaussian kernel size used to smooth the raw
	// foreground mask; 1 disables smoothing
	BlurSize int

	// LargeKernelSize is the square structuring element of the close/open pass
	LargeKernelSize int

	// SmoothKernelSize is the square structuring element of the final closing pass
	SmoothKernelSize int
}

// DefaultParams returns the brightfield histology defaults
func DefaultParams() Params {
	return Params{
		BackgroundThreshold: 220,
		BlurSize:            25,
		LargeKernelSize:     15,
		SmoothKernelSize:    7,
	}
}

// Detector finds the single largest tissue footprint of an image
type Detector struct {
	params Params
}

// NewDetector creates a detector with the given parameters
func NewDetector(params Params) *Detector {
	return &Detector{params: params}
}

// Params returns the detector parameters
func (d *Detector) Params() Params { return d.params }

// Background returns the raw background mask of an image. RGB pixels are
// background when every channel is at or above the background threshold.
// Single-channel pixels are background when they fall in the dark class of
// an Otsu split; an image without a bimodal split is all background.
func (d *Detector) Background(img *models.Image) (*models.Mask, error) {
	if img.Channels == 1 {
		fg, err := OtsuForeground(img)
		if err != nil {
			return nil, err
		}
		return fg.Not(), nil
	}
	t := uint8(d.params.BackgroundThreshold)
	return models.MaskFunc(img.Width, img.Height, func(i int) bool {
		for _, v := range img.At(i) {
			if v < t {
				return false
			}
		}
		return true
	}), nil
}

// Detect returns the footprint mask of the image:
// 1. invert the background mask to get the raw foreground
// 2. blur and re-binarize to remove speckle
// 3. close (fill holes) then open (strip speckle) with the large kernel
// 4. keep the largest 8-connected component
// 5. close with the smoothing kernel
//
// An image without foreground pixels yields an all-false mask and no error.
func (d *Detector) Detect(ctx context.Context, img *models.Image) (*models.Mask, error) {
	if img == nil || img.Len() == 0 {
		return nil, fmt.Errorf("%w: empty pixel matrix", models.ErrMissingInput)
	}
	if img.Channels != 1 && img.Channels != 3 {
		return nil, fmt.Errorf("unsupported channel count %d", img.Channels)
	}

	background, err := d.Background(img)
	if err != nil {
		return nil, err
	}
	mask := background.Not()
	if mask.Count() == 0 {
		return mask, nil
	}

	mask, err = SmoothMask(mask, d.params.BlurSize)
	if err != nil {
		return nil, fmt.Errorf("smoothing: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if mask, err = Close(mask, d.params.LargeKernelSize); err != nil {
		return nil, fmt.Errorf("closing: %w", err)
	}
	if mask, err = Open(mask, d.params.LargeKernelSize); err != nil {
		return nil, fmt.Errorf("opening: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if mask, err = LargestComponent(mask); err != nil {
		return nil, fmt.Errorf("components: %w", err)
	}
	if mask, err = Close(mask, d.params.SmoothKernelSize); err != nil {
		return nil, fmt.Errorf("smoothing close: %w", err)
	}

	return mask, nil
}
