package models

// Image is an in-memory 8-bit pixel matrix decoded from a microscopy image
type Image struct {
	// ID is the source identifier of the image (usually the metadata image_id)
	ID string

	// Width and Height are the dimensions of the pixel grid
	Width  int
	Height int

	// Channels is 1 for grayscale/fluorescence images and 3 for RGB
	Channels int

	// Pix holds the pixel data in row-major order, Channels bytes per pixel
	Pix []uint8
}

// NewImage allocates a zeroed image with the given dimensions
func NewImage(id string, width, height, channels int) *Image {
	return &Image{
		ID:       id,
		Width:    width,
		Height:   height,
		Channels: channels,
		Pix:      make([]uint8, width*height*channels),
	}
}

// Len returns the number of pixels in the image
func (img *Image) Len() int {
	return img.Width * img.Height
}

// At returns the channel values of pixel i (row-major index)
func (img *Image) At(i int) []uint8 {
	off := i * img.Channels
	return img.Pix[off : off+img.Channels]
}

// Intensity returns the luminance of pixel i. RGB pixels use the
// ITU-R BT.601 weights that OpenCV applies when loading as grayscale.
func (img *Image) Intensity(i int) float64 {
	if img.Channels == 1 {
		return float64(img.Pix[i])
	}
	p := img.At(i)
	return 0.299*float64(p[0]) + 0.587*float64(p[1]) + 0.114*float64(p[2])
}

// Gray returns a single-channel copy of the image
func (img *Image) Gray() *Image {
	if img.Channels == 1 {
		out := NewImage(img.ID, img.Width, img.Height, 1)
		copy(out.Pix, img.Pix)
		return out
	}
	out := NewImage(img.ID, img.Width, img.Height, 1)
	for i := 0; i < img.Len(); i++ {
		v := img.Intensity(i) + 0.5
		if v > 255 {
			v = 255
		}
		out.Pix[i] = uint8(v)
	}
	return out
}

// Mask is a boolean H×W grid. Masks are only ever built from a predicate
// or by combining other masks; there is no exported per-pixel setter.
type Mask struct {
	Width  int
	Height int
	bits   []bool
}

// NewMask returns an all-false mask
func NewMask(width, height int) *Mask {
	return &Mask{Width: width, Height: height, bits: make([]bool, width*height)}
}

// MaskFunc builds a mask whose cell i is pred(i)
func MaskFunc(width, height int, pred func(i int) bool) *Mask {
	m := NewMask(width, height)
	for i := range m.bits {
		m.bits[i] = pred(i)
	}
	return m
}

// MaskFromBools copies a raw boolean grid into a mask
func MaskFromBools(width, height int, bits []bool) *Mask {
	m := NewMask(width, height)
	copy(m.bits, bits)
	return m
}

// Len returns the number of cells in the mask
func (m *Mask) Len() int { return len(m.bits) }

// Get reports whether cell i is set
func (m *Mask) Get(i int) bool { return m.bits[i] }

// GetXY reports whether cell (x, y) is set; out-of-range cells are false
func (m *Mask) GetXY(x, y int) bool {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return false
	}
	return m.bits[y*m.Width+x]
}

// Bools returns a copy of the underlying grid
func (m *Mask) Bools() []bool {
	out := make([]bool, len(m.bits))
	copy(out, m.bits)
	return out
}

// Count returns the number of set cells
func (m *Mask) Count() int {
	n := 0
	for _, b := range m.bits {
		if b {
			n++
		}
	}
	return n
}

// Not returns the complement of the mask
func (m *Mask) Not() *Mask {
	return MaskFunc(m.Width, m.Height, func(i int) bool { return !m.bits[i] })
}

// And returns the intersection of two masks of equal size
func (m *Mask) And(o *Mask) *Mask {
	mustMatch(m, o)
	return MaskFunc(m.Width, m.Height, func(i int) bool { return m.bits[i] && o.bits[i] })
}

// Or returns the union of two masks of equal size
func (m *Mask) Or(o *Mask) *Mask {
	mustMatch(m, o)
	return MaskFunc(m.Width, m.Height, func(i int) bool { return m.bits[i] || o.bits[i] })
}

// AndNot returns m AND NOT o
func (m *Mask) AndNot(o *Mask) *Mask {
	mustMatch(m, o)
	return MaskFunc(m.Width, m.Height, func(i int) bool { return m.bits[i] && !o.bits[i] })
}

// Equal reports whether both masks have the same size and cells
func (m *Mask) Equal(o *Mask) bool {
	if m.Width != o.Width || m.Height != o.Height {
		return false
	}
	for i := range m.bits {
		if m.bits[i] != o.bits[i] {
			return false
		}
	}
	return true
}

func mustMatch(a, b *Mask) {
	if a.Width != b.Width || a.Height != b.Height {
		panic("models: mask size mismatch")
	}
}
