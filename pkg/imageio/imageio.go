// Package imageio decodes microscopy image files into 8-bit pixel matrices
// and writes pixel matrices back out as PNG.
package imageio

import (
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	"histoquant/internal/models"
)

// Extensions lists the file extensions the decoder registry understands
var Extensions = []string{".png", ".jpg", ".jpeg", ".gif", ".tif", ".tiff", ".bmp"}

// IsImageFile reports whether the path has a supported image extension
func IsImageFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range Extensions {
		if e == ext {
			return true
		}
	}
	return false
}

// Load decodes an image file. Grayscale sources become single-channel
// images and everything else 3-channel RGB; 16-bit samples keep their high
// byte. A missing or undecodable file is reported as models.ErrMissingInput.
func Load(path, id string) (*models.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image %s: %w: %v", path, models.ErrMissingInput, err)
	}
	defer file.Close()

	src, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %s: %w: %v", path, models.ErrMissingInput, err)
	}
	if id == "" {
		id = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return FromImage(src, id), nil
}

// decode is the loader behind LoadRow
var decode = Load

// LoadRow loads the image of a metadata row. Decoding runs on its own
// goroutine so that a done ctx returns immediately; the abandoned decode
// finishes in the background and its result is dropped.
func LoadRow(ctx context.Context, row models.MetadataRow) (*models.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type loaded struct {
		img *models.Image
		err error
	}
	load := decode
	done := make(chan loaded, 1)
	go func() {
		img, err := load(row.FilePath, row.ImageID)
		done <- loaded{img, err}
	}()

	select {
	case res := <-done:
		return res.img, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// FromImage converts a decoded image into a pixel matrix
func FromImage(src image.Image, id string) *models.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()

	switch g := src.(type) {
	case *image.Gray:
		img := models.NewImage(id, w, h, 1)
		for y := 0; y < h; y++ {
			copy(img.Pix[y*w:(y+1)*w], g.Pix[y*g.Stride:y*g.Stride+w])
		}
		return img
	case *image.Gray16:
		img := models.NewImage(id, w, h, 1)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				img.Pix[y*w+x] = uint8(g.Gray16At(b.Min.X+x, b.Min.Y+y).Y >> 8)
			}
		}
		return img
	}

	img := models.NewImage(id, w, h, 3)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBA64Model.Convert(src.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA64)
			p := img.At(y*w + x)
			p[0], p[1], p[2] = uint8(c.R>>8), uint8(c.G>>8), uint8(c.B>>8)
		}
	}
	return img
}

// ToImage converts a pixel matrix into an image.Image for encoding
func ToImage(img *models.Image) image.Image {
	rect := image.Rect(0, 0, img.Width, img.Height)
	if img.Channels == 1 {
		g := image.NewGray(rect)
		copy(g.Pix, img.Pix)
		return g
	}
	out := image.NewRGBA(rect)
	for i := 0; i < img.Len(); i++ {
		p := img.At(i)
		out.Pix[4*i], out.Pix[4*i+1], out.Pix[4*i+2], out.Pix[4*i+3] = p[0], p[1], p[2], 255
	}
	return out
}

// SavePNG writes an image to a PNG file
func SavePNG(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := png.Encode(file, img); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

var unsafeName = regexp.MustCompile(`[^\w\-]`)

// SafeName replaces every character that is not a letter, digit,
// underscore or hyphen so the name can be used in a file name
func SafeName(name string) string {
	return unsafeName.ReplaceAllString(name, "_")
}
