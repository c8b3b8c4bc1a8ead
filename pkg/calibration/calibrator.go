// Package calibration derives the cohort-wide intensity reference of an
// intensity stain from the pooled footprint pixels of all its images.
package calibration

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"histoquant/internal/models"
	"histoquant/pkg/region"
)

// Compute returns the calibration of a pooled set of in-footprint
// intensities. The result depends only on the multiset of samples, not on
// their order. images is recorded as the number of contributing images.
func Compute(stain string, samples []float64, images int) (models.IntensityCalibration, error) {
	if len(samples) == 0 {
		return models.IntensityCalibration{}, fmt.Errorf("calibration pool for %s: %w", stain, models.ErrEmptyRegion)
	}

	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)

	return models.IntensityCalibration{
		Stain:     stain,
		Min:       floats.Min(sorted),
		Max:       floats.Max(sorted),
		Median:    Percentile(sorted, 50),
		Threshold: Percentile(sorted, 50),
		PoolSize:  len(sorted),
		Images:    images,
	}, nil
}

// Percentile returns the q-th percentile (0..100) of ascending data using
// linear interpolation between closest ranks (rank = q/100 * (n-1)).
func Percentile(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	rank := q / 100 * float64(n-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo < 0 {
		lo = 0
	}
	if hi >= n {
		hi = n - 1
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

// Loader reads the image of one metadata row
type Loader func(ctx context.Context, row models.MetadataRow) (*models.Image, error)

// Pooler runs the first calibration pass: region detection on every image
// of a stain cohort, pooling the intensities inside each footprint.
type Pooler struct {
	// Detector finds the footprint of each image
	Detector *region.Detector

	// Load reads the images
	Load Loader

	// Prepare, when set, transforms every loaded image before detection
	// (for example grayscale conversion and contrast normalisation). The
	// same transform must be applied before band classification.
	Prepare func(*models.Image) (*models.Image, error)

	// Workers bounds the number of images processed at once
	Workers int

	// Timeout bounds the work on a single image; zero means no limit
	Timeout time.Duration

	Logger zerolog.Logger
}

// PoolResult is the outcome of the first calibration pass
type PoolResult struct {
	// Samples holds the pooled intensities in metadata row order
	Samples []float64

	// Images is the number of images that contributed at least one pixel
	Images int

	// Failures lists the images that could not be loaded or detected
	Failures []*models.ImageError
}

// Pool detects the footprint of every row and pools its intensities.
// Per-image failures are collected and skipped; only cancellation of ctx
// aborts the pass.
func (p *Pooler) Pool(ctx context.Context, stain string, rows []models.MetadataRow) (*PoolResult, error) {
	perImage := make([][]float64, len(rows))
	failures := make([]*models.ImageError, len(rows))

	g, gctx := errgroup.WithContext(ctx)
	if p.Workers > 0 {
		g.SetLimit(p.Workers)
	}
	for i, row := range rows {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			samples, err := p.poolOne(gctx, row)
			if err != nil {
				if gctx.Err() != nil && errors.Is(err, gctx.Err()) {
					return err
				}
				failures[i] = &models.ImageError{ImageID: row.ImageID, Stain: stain, Stage: "calibration", Err: err}
				p.Logger.Warn().Str("stain", stain).Str("image", row.ImageID).Err(err).Msg("Skipping image in calibration pool")
				return nil
			}
			perImage[i] = samples
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &PoolResult{}
	for i := range rows {
		if failures[i] != nil {
			res.Failures = append(res.Failures, failures[i])
			continue
		}
		if len(perImage[i]) > 0 {
			res.Images++
			res.Samples = append(res.Samples, perImage[i]...)
		}
	}
	p.Logger.Debug().Str("stain", stain).Int("images", res.Images).Int("pixels", len(res.Samples)).Msg("Calibration pool collected")
	return res, nil
}

// poolOne returns the footprint intensities of a single image
func (p *Pooler) poolOne(ctx context.Context, row models.MetadataRow) ([]float64, error) {
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	img, err := p.Load(ctx, row)
	if err != nil {
		return nil, err
	}
	if p.Prepare != nil {
		if img, err = p.Prepare(img); err != nil {
			return nil, err
		}
	}
	footprint, err := p.Detector.Detect(ctx, img)
	if err != nil {
		return nil, err
	}
	return Intensities(img, footprint), nil
}

// Intensities returns the intensity of every pixel inside the mask, in
// raster order
func Intensities(img *models.Image, mask *models.Mask) []float64 {
	out := make([]float64, 0, mask.Count())
	for i := 0; i < img.Len(); i++ {
		if mask.Get(i) {
			out = append(out, img.Intensity(i))
		}
	}
	return out
}

// Calibrate runs both calibration steps for one stain cohort. An empty pool
// is reported as models.ErrEmptyRegion.
func (p *Pooler) Calibrate(ctx context.Context, stain string, rows []models.MetadataRow) (models.IntensityCalibration, *PoolResult, error) {
	pool, err := p.Pool(ctx, stain, rows)
	if err != nil {
		return models.IntensityCalibration{}, nil, err
	}
	cal, err := Compute(stain, pool.Samples, pool.Images)
	if err != nil {
		return models.IntensityCalibration{}, pool, err
	}
	return cal, pool, nil
}
