package region

import (
	"context"
	"testing"

	"histoquant/internal/models"
)

// createCanvas creates an RGB test image filled with a single colour
func createCanvas(width, height int, r, g, b uint8) *models.Image {
	img := models.NewImage("canvas", width, height, 3)
	for i := 0; i < img.Len(); i++ {
		p := img.At(i)
		p[0], p[1], p[2] = r, g, b
	}
	return img
}

// paintRect paints the half-open rectangle [x0,x1)×[y0,y1) of an RGB image
func paintRect(img *models.Image, x0, y0, x1, y1 int, r, g, b uint8) {
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			p := img.At(y*img.Width + x)
			p[0], p[1], p[2] = r, g, b
		}
	}
}

// rectMask returns the mask of the half-open rectangle [x0,x1)×[y0,y1)
func rectMask(width, height, x0, y0, x1, y1 int) *models.Mask {
	return models.MaskFunc(width, height, func(i int) bool {
		x, y := i%width, i/width
		return x >= x0 && x < x1 && y >= y0 && y < y1
	})
}

// TestDetectSolidBlock verifies that a solid block on a uniform background is
// detected exactly
func TestDetectSolidBlock(t *testing.T) {
	img := createCanvas(20, 20, 255, 255, 255)
	paintRect(img, 5, 5, 15, 15, 0, 0, 0)

	detector := NewDetector(Params{BackgroundThreshold: 220, BlurSize: 1, LargeKernelSize: 5, SmoothKernelSize: 3})
	mask, err := detector.Detect(context.Background(), img)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	if mask.Width != 20 || mask.Height != 20 {
		t.Fatalf("Expected 20x20 mask, got %dx%d", mask.Width, mask.Height)
	}
	if mask.Count() != 100 {
		t.Errorf("Expected footprint of 100 pixels, got %d", mask.Count())
	}
	if !mask.Equal(rectMask(20, 20, 5, 5, 15, 15)) {
		t.Error("Footprint does not match the painted block")
	}
}

// TestDetectEmptyImage verifies that an all-background image yields an empty mask
func TestDetectEmptyImage(t *testing.T) {
	img := createCanvas(32, 24, 250, 250, 250)

	mask, err := NewDetector(DefaultParams()).Detect(context.Background(), img)
	if err != nil {
		t.Fatalf("Detect failed on empty image: %v", err)
	}
	if mask.Count() != 0 {
		t.Errorf("Expected empty mask, got %d pixels", mask.Count())
	}
}

// TestDetectKeepsLargestComponent verifies speckle removal and largest component selection
func TestDetectKeepsLargestComponent(t *testing.T) {
	img := createCanvas(80, 60, 255, 255, 255)
	paintRect(img, 10, 10, 40, 40, 120, 60, 130)
	paintRect(img, 55, 10, 70, 25, 120, 60, 130)
	paintRect(img, 75, 55, 76, 56, 0, 0, 0)

	detector := NewDetector(Params{BackgroundThreshold: 220, BlurSize: 5, LargeKernelSize: 5, SmoothKernelSize: 3})
	mask, err := detector.Detect(context.Background(), img)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	if !mask.GetXY(25, 25) {
		t.Error("Expected the large block centre inside the footprint")
	}
	if mask.GetXY(62, 17) {
		t.Error("Expected the smaller block to be discarded")
	}
	if mask.GetXY(75, 55) {
		t.Error("Expected the isolated speckle to be removed")
	}
	if n := mask.Count(); n < 880 || n > 900 {
		t.Errorf("Expected footprint close to 900 pixels, got %d", n)
	}
}

// TestDetectFillsHoles verifies that the closing pass fills small internal holes
func TestDetectFillsHoles(t *testing.T) {
	img := createCanvas(40, 40, 255, 255, 255)
	paintRect(img, 8, 8, 32, 32, 90, 40, 100)
	paintRect(img, 19, 19, 21, 21, 255, 255, 255)

	detector := NewDetector(Params{BackgroundThreshold: 220, BlurSize: 1, LargeKernelSize: 5, SmoothKernelSize: 3})
	mask, err := detector.Detect(context.Background(), img)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if !mask.GetXY(19, 19) || !mask.GetXY(20, 20) {
		t.Error("Expected the internal hole to be filled")
	}
	if mask.Count() != 24*24 {
		t.Errorf("Expected %d pixels, got %d", 24*24, mask.Count())
	}
}

// TestDetectGrayscale verifies the Otsu split used for single-channel images
func TestDetectGrayscale(t *testing.T) {
	img := models.NewImage("fluo", 30, 30, 1)
	for y := 8; y < 22; y++ {
		for x := 6; x < 20; x++ {
			img.Pix[y*30+x] = 200
		}
	}
	detector := NewDetector(Params{BackgroundThreshold: 220, BlurSize: 1, LargeKernelSize: 3, SmoothKernelSize: 3})
	mask, err := detector.Detect(context.Background(), img)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if !mask.Equal(rectMask(30, 30, 6, 8, 20, 22)) {
		t.Errorf("Expected the bright block as footprint, got %d pixels", mask.Count())
	}

	uniform := models.NewImage("flat", 10, 10, 1)
	for i := range uniform.Pix {
		uniform.Pix[i] = 120
	}
	mask, err = detector.Detect(context.Background(), uniform)
	if err != nil {
		t.Fatalf("Detect failed on uniform image: %v", err)
	}
	if mask.Count() != 0 {
		t.Errorf("Expected empty mask for a uniform image, got %d pixels", mask.Count())
	}
}

// TestDetectCancelled verifies that a cancelled context aborts detection
func TestDetectCancelled(t *testing.T) {
	img := createCanvas(20, 20, 255, 255, 255)
	paintRect(img, 5, 5, 15, 15, 0, 0, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewDetector(DefaultParams()).Detect(ctx, img); err == nil {
		t.Error("Expected an error for a cancelled context")
	}
}

// TestOtsuForeground verifies the bimodal split of a two-level image and the
// empty result for a uniform one
func TestOtsuForeground(t *testing.T) {
	img := models.NewImage("gray", 10, 8, 1)
	for i := 0; i < img.Len(); i++ {
		img.At(i)[0] = 10
		if i%10 >= 6 {
			img.At(i)[0] = 200
		}
	}

	fg, err := OtsuForeground(img)
	if err != nil {
		t.Fatalf("OtsuForeground failed: %v", err)
	}
	if !fg.Equal(rectMask(10, 8, 6, 0, 10, 8)) {
		t.Errorf("Expected the bright columns as foreground, got %d pixels", fg.Count())
	}

	flat := models.NewImage("flat", 6, 6, 1)
	for i := 0; i < flat.Len(); i++ {
		flat.At(i)[0] = 42
	}
	fg, err = OtsuForeground(flat)
	if err != nil {
		t.Fatalf("OtsuForeground failed: %v", err)
	}
	if fg.Count() != 0 {
		t.Errorf("Expected no foreground for a uniform image, got %d pixels", fg.Count())
	}
}
