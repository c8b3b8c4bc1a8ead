package models

import (
	"errors"
	"fmt"
)

// Error kinds used across the pipeline. Stages wrap these with %w so the
// driver can decide between skipping an image, a stain cohort, or aborting.
var (
	// ErrMissingInput means an image file is absent or cannot be decoded
	ErrMissingInput = errors.New("missing input")

	// ErrInvalidMetadata means the metadata table is empty or unparseable
	ErrInvalidMetadata = errors.New("invalid metadata")

	// ErrEmptyRegion means no tissue pixels were found, or a calibration pool is empty
	ErrEmptyRegion = errors.New("empty region")

	// ErrInsufficientGroupSize means a condition group is too small for a test
	ErrInsufficientGroupSize = errors.New("insufficient group size")

	// ErrUnrecognizedStain means no protocol is configured for a stain
	ErrUnrecognizedStain = errors.New("unrecognized stain")

	// ErrInconsistentBands means Total% differs from Low% + High%
	ErrInconsistentBands = errors.New("inconsistent band percentages")
)

// ImageError records a failure of one image at one pipeline stage
type ImageError struct {
	ImageID string
	Stain   string
	Stage   string
	Err     error
}

func (e *ImageError) Error() string {
	return fmt.Sprintf("%s: image %s (%s): %v", e.Stage, e.ImageID, e.Stain, e.Err)
}

func (e *ImageError) Unwrap() error { return e.Err }
