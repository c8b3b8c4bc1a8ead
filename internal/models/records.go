package models

// Unclassified is the label given to pixels outside the footprint or
// flagged as background-white
const Unclassified = -1

// MetadataRow is one row of the input metadata table
type MetadataRow struct {
	ImageID   string
	FilePath  string
	Condition string
	Stain     string
	Replicate string
}

// IntensityCalibration is the cohort-wide intensity reference for one stain.
// It is computed once from the pooled footprint pixels of every image of the
// stain and shared read-only by all band classifications of that stain.
type IntensityCalibration struct {
	Stain     string  `json:"stain"`
	Min       float64 `json:"min"`
	Max       float64 `json:"max"`
	Median    float64 `json:"median"`
	Threshold float64 `json:"threshold"`

	// PoolSize is the number of pooled pixels the calibration was derived from
	PoolSize int `json:"poolSize"`

	// Images is the number of cohort images that contributed to the pool
	Images int `json:"images"`
}

// Span returns Max - Min
func (c IntensityCalibration) Span() float64 {
	return c.Max - c.Min
}

// ClassificationResult is the per-image output of a pixel classifier
type ClassificationResult struct {
	ImageID string

	// Categories lists category names in configuration order; label k in
	// Labels refers to Categories[k]
	Categories []string

	// Counts holds the pixel count per category
	Counts map[string]int

	// Unclassified counts pixels outside the footprint or flagged background
	Unclassified int

	// Labels is the per-pixel category index, or Unclassified
	Labels []int

	Width  int
	Height int
}

// CategoryMask returns the mask of pixels labelled with category k
func (r *ClassificationResult) CategoryMask(k int) *Mask {
	return MaskFunc(r.Width, r.Height, func(i int) bool { return r.Labels[i] == k })
}

// ConditionRecord is one row of the results table
type ConditionRecord struct {
	ImageID   string
	FilePath  string
	Condition string
	Stain     string
	Replicate string

	// Percentages maps category name to its share of the effective tissue area
	Percentages map[string]float64

	// Order lists the category names in reporting order
	Order []string

	// EffectiveArea is the number of pixels in the effective tissue mask
	EffectiveArea int

	// PixelCounts maps category name to the number of pixels in the effective mask
	PixelCounts map[string]int
}

// PairwiseComparison is one post-hoc comparison between two conditions
type PairwiseComparison struct {
	Stain      string
	Category   string
	ConditionA string
	ConditionB string

	// MeanDiff is mean(B) - mean(A)
	MeanDiff float64

	// RawP is the unadjusted two-sided p-value of the pair
	RawP float64

	// AdjustedP is the family-wise corrected (Tukey HSD) p-value
	AdjustedP float64

	// Lower and Upper bound the simultaneous confidence interval of MeanDiff
	Lower float64
	Upper float64

	// Reject is true when AdjustedP < alpha
	Reject bool
}

// GroupStats holds descriptive statistics of one condition group
type GroupStats struct {
	Condition string
	Count     int
	Mean      float64
	Std       float64
	SEM       float64
}

// ReferenceColor is an exemplar colour point in 8-bit RGB space
type ReferenceColor struct {
	R, G, B float64
}

// CategoryExemplars is a named category with its non-empty exemplar set
type CategoryExemplars struct {
	Name   string
	Colors []ReferenceColor
}

// ReferenceColorGroup maps categories to exemplar colours for one stain
// protocol. It is ordered: configuration order is also reporting order.
type ReferenceColorGroup []CategoryExemplars

// Names returns the category names in configuration order
func (g ReferenceColorGroup) Names() []string {
	names := make([]string, len(g))
	for i, c := range g {
		names[i] = c.Name
	}
	return names
}
