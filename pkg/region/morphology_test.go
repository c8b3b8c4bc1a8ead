package region

import (
	"testing"

	"histoquant/internal/models"
)

// TestDilateErodeSinglePixel verifies that erosion undoes the dilation of a lone pixel
func TestDilateErodeSinglePixel(t *testing.T) {
	m := models.MaskFunc(9, 9, func(i int) bool { return i == 4*9+4 })

	dilated, err := Dilate(m, 3)
	if err != nil {
		t.Fatalf("Dilate failed: %v", err)
	}
	if dilated.Count() != 9 {
		t.Errorf("Expected 9 pixels after 3x3 dilation, got %d", dilated.Count())
	}
	if !dilated.GetXY(3, 3) || !dilated.GetXY(5, 5) || dilated.GetXY(6, 4) {
		t.Error("Dilation did not produce a 3x3 square around the pixel")
	}

	eroded, err := Erode(dilated, 3)
	if err != nil {
		t.Fatalf("Erode failed: %v", err)
	}
	if !eroded.Equal(m) {
		t.Errorf("Expected erosion to restore the single pixel, got %d pixels", eroded.Count())
	}
}

// TestErodeAtImageBorder verifies that the image border does not erode a full mask
func TestErodeAtImageBorder(t *testing.T) {
	full := models.MaskFunc(6, 6, func(int) bool { return true })
	eroded, err := Erode(full, 5)
	if err != nil {
		t.Fatalf("Erode failed: %v", err)
	}
	if eroded.Count() != 36 {
		t.Errorf("Cells outside the image must not erode a full mask, got %d pixels", eroded.Count())
	}
}

// TestOpenRemovesThinLines verifies that opening strips structures thinner than the kernel
func TestOpenRemovesThinLines(t *testing.T) {
	m := models.MaskFunc(20, 20, func(i int) bool {
		x, y := i%20, i/20
		return (x >= 2 && x < 12 && y >= 2 && y < 12) || y == 16
	})
	opened, err := Open(m, 3)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if opened.GetXY(10, 16) {
		t.Error("Expected the one-pixel line to be removed by opening")
	}
	if opened.Count() != 100 {
		t.Errorf("Expected the 10x10 block to survive opening, got %d pixels", opened.Count())
	}
}

// TestCloseFillsGap verifies that closing fills a hole smaller than the kernel
func TestCloseFillsGap(t *testing.T) {
	m := models.MaskFunc(12, 12, func(i int) bool {
		x, y := i%12, i/12
		return x >= 2 && x < 10 && y >= 2 && y < 10 && !(x == 5 && y == 5)
	})
	closed, err := Close(m, 3)
	if err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !closed.GetXY(5, 5) {
		t.Error("Expected the one-pixel hole to be filled")
	}
	if closed.Count() != 64 {
		t.Errorf("Expected 64 pixels after closing, got %d", closed.Count())
	}
}

// TestLargestComponent verifies component selection under 8-connectivity
func TestLargestComponent(t *testing.T) {
	m := models.MaskFunc(10, 10, func(i int) bool {
		x, y := i%10, i/10
		return (x == 1 && y == 1) || (x == 2 && y == 2) || (x >= 6 && y >= 6)
	})
	largest, err := LargestComponent(m)
	if err != nil {
		t.Fatalf("LargestComponent failed: %v", err)
	}
	if largest.Count() != 16 || largest.GetXY(1, 1) {
		t.Errorf("LargestComponent kept the wrong component (%d pixels)", largest.Count())
	}

	// a diagonal pair is one 8-connected component
	diagonal := models.MaskFunc(10, 10, func(i int) bool {
		x, y := i%10, i/10
		return (x == 1 && y == 1) || (x == 2 && y == 2) || (x == 7 && y == 7)
	})
	largest, err = LargestComponent(diagonal)
	if err != nil {
		t.Fatalf("LargestComponent failed: %v", err)
	}
	if largest.Count() != 2 || !largest.GetXY(1, 1) || !largest.GetXY(2, 2) {
		t.Errorf("Expected the diagonal pair, got %d pixels", largest.Count())
	}

	empty := models.NewMask(5, 5)
	if largest, err = LargestComponent(empty); err != nil || largest.Count() != 0 {
		t.Errorf("Expected an empty mask to stay empty, got %v", err)
	}
}

// TestSmoothMask verifies speckle removal by the blur and re-binarization pass
func TestSmoothMask(t *testing.T) {
	m := models.MaskFunc(40, 40, func(i int) bool {
		x, y := i%40, i/40
		return (x >= 10 && x < 30 && y >= 10 && y < 30) || (x == 2 && y == 2)
	})

	smoothed, err := SmoothMask(m, 5)
	if err != nil {
		t.Fatalf("SmoothMask failed: %v", err)
	}
	if smoothed.GetXY(2, 2) {
		t.Error("Expected the isolated pixel to be smoothed away")
	}
	if !smoothed.GetXY(20, 20) || !smoothed.GetXY(10, 20) || smoothed.GetXY(8, 20) {
		t.Error("Expected the block interior and edges to survive smoothing")
	}

	same, err := SmoothMask(m, 1)
	if err != nil {
		t.Fatalf("SmoothMask failed: %v", err)
	}
	if !same.Equal(m) {
		t.Error("Expected size 1 to leave the mask unchanged")
	}
}
