package classify

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/spatial/kdtree"

	"histoquant/internal/models"
)

// exemplar is a reference colour tagged with the category that owns it
type exemplar struct {
	R, G, B  float64
	category int
}

// Compare implements the kdtree.Comparable interface
func (e exemplar) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(exemplar)
	switch d {
	case 0:
		return e.R - q.R
	case 1:
		return e.G - q.G
	case 2:
		return e.B - q.B
	default:
		panic("illegal dimension")
	}
}

// Dims returns the number of dimensions for the KD-tree
func (e exemplar) Dims() int { return 3 }

// Distance returns the squared Euclidean distance between two colours
func (e exemplar) Distance(c kdtree.Comparable) float64 {
	q := c.(exemplar)
	dr := e.R - q.R
	dg := e.G - q.G
	db := e.B - q.B
	return dr*dr + dg*dg + db*db
}

// exemplars is a collection of exemplar that satisfies kdtree.Interface
type exemplars []exemplar

func (p exemplars) Index(i int) kdtree.Comparable         { return p[i] }
func (p exemplars) Len() int                              { return len(p) }
func (p exemplars) Slice(start, end int) kdtree.Interface { return p[start:end] }

// Pivot implements the kdtree.Interface method
func (p exemplars) Pivot(d kdtree.Dim) int {
	return kdtree.Partition(colorPlane{exemplars: p, Dim: d}, kdtree.MedianOfMedians(colorPlane{exemplars: p, Dim: d}))
}

// colorPlane implements sort.Interface and kdtree.SortSlicer for exemplars
type colorPlane struct {
	exemplars
	kdtree.Dim
}

func (p colorPlane) Less(i, j int) bool {
	switch p.Dim {
	case 0:
		return p.exemplars[i].R < p.exemplars[j].R
	case 1:
		return p.exemplars[i].G < p.exemplars[j].G
	case 2:
		return p.exemplars[i].B < p.exemplars[j].B
	default:
		panic("illegal dimension")
	}
}

func (p colorPlane) Slice(start, end int) kdtree.SortSlicer {
	return colorPlane{exemplars: p.exemplars[start:end], Dim: p.Dim}
}

func (p colorPlane) Swap(i, j int) {
	p.exemplars[i], p.exemplars[j] = p.exemplars[j], p.exemplars[i]
}

// ColorDistanceClassifier assigns each pixel the category owning the globally
// nearest exemplar colour (Euclidean distance in RGB). When two exemplars of
// different categories are exactly equidistant the winner is whichever the
// KD-tree search reaches first; no tie-break rule is promised.
type ColorDistanceClassifier struct {
	categories     []string
	tree           *kdtree.Tree
	whiteThreshold uint8
}

// NewColorDistanceClassifier builds a classifier from a reference colour
// group. Pixels with every channel above whiteThreshold are flagged as
// background-white and left unclassified.
func NewColorDistanceClassifier(group models.ReferenceColorGroup, whiteThreshold int) (*ColorDistanceClassifier, error) {
	if len(group) == 0 {
		return nil, fmt.Errorf("reference colour group is empty")
	}
	var points exemplars
	for k, cat := range group {
		if len(cat.Colors) == 0 {
			return nil, fmt.Errorf("category %q has no exemplar colours", cat.Name)
		}
		for _, c := range cat.Colors {
			points = append(points, exemplar{R: c.R, G: c.G, B: c.B, category: k})
		}
	}
	return &ColorDistanceClassifier{
		categories:     group.Names(),
		tree:           kdtree.New(points, false),
		whiteThreshold: uint8(whiteThreshold),
	}, nil
}

// Categories returns the category names in configuration order
func (c *ColorDistanceClassifier) Categories() []string {
	return c.categories
}

// Background returns the near-white pixels of an RGB image
func (c *ColorDistanceClassifier) Background(img *models.Image) *models.Mask {
	return models.MaskFunc(img.Width, img.Height, func(i int) bool {
		for _, v := range img.At(i) {
			if v <= c.whiteThreshold {
				return false
			}
		}
		return true
	})
}

// Nearest returns the category index of the exemplar nearest to (r, g, b)
func (c *ColorDistanceClassifier) Nearest(r, g, b float64) int {
	got, _ := c.tree.Nearest(exemplar{R: r, G: g, B: b, category: models.Unclassified})
	return got.(exemplar).category
}

// Classify labels every footprint pixel that is not flagged white
func (c *ColorDistanceClassifier) Classify(ctx context.Context, img *models.Image, footprint *models.Mask) (*models.ClassificationResult, error) {
	if img.Channels != 3 {
		return nil, fmt.Errorf("colour classification needs an RGB image, got %d channel(s)", img.Channels)
	}
	if footprint.Width != img.Width || footprint.Height != img.Height {
		return nil, fmt.Errorf("footprint %dx%d does not match image %dx%d",
			footprint.Width, footprint.Height, img.Width, img.Height)
	}

	res := newResult(img, c.categories)
	white := c.Background(img)

	// Stained sections repeat a limited palette, so nearest lookups are memoised per colour
	cache := make(map[uint32]int)
	for i := 0; i < img.Len(); i++ {
		if i%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if !footprint.Get(i) || white.Get(i) {
			continue
		}
		p := img.At(i)
		key := uint32(p[0])<<16 | uint32(p[1])<<8 | uint32(p[2])
		label, ok := cache[key]
		if !ok {
			label = c.Nearest(float64(p[0]), float64(p[1]), float64(p[2]))
			cache[key] = label
		}
		res.Labels[i] = label
	}

	finish(res)
	return res, nil
}
