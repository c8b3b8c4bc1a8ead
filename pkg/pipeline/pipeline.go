// Package pipeline drives a complete quantification run: it reads the
// metadata table, calibrates and classifies every stain cohort, runs the
// group statistics and writes the outputs.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"histoquant/internal/models"
	"histoquant/pkg/calibration"
	"histoquant/pkg/classify"
	"histoquant/pkg/config"
	"histoquant/pkg/enhance"
	"histoquant/pkg/imageio"
	"histoquant/pkg/metadata"
	"histoquant/pkg/metrics"
	"histoquant/pkg/quantify"
	"histoquant/pkg/region"
	"histoquant/pkg/report"
	"histoquant/pkg/stats"
	"histoquant/pkg/store"
	"histoquant/pkg/visualization"
)

// Output file names inside the output directory
const (
	ResultsFile        = "results.csv"
	StatisticsFile     = "statistics.json"
	StatisticsTextFile = "statistics.txt"
	ChartsDir          = "charts"
	SegmentsDir        = "segments"
)

// Params holds the inputs of a run
type Params struct {
	// MetadataPath is the CSV table listing every image with its condition,
	// stain and replicate
	MetadataPath string

	// Config holds the processing, statistics and output settings and the
	// stain protocols
	Config *config.Config
}

// Summary describes the outcome of a run
type Summary struct {
	// RunID is the database id of the run, 0 when no database is written
	RunID int64

	// Records is the number of quantified images
	Records int

	// Stains lists the processed stains in metadata order
	Stains []string

	// SkippedStains maps every stain that was not processed to the reason
	SkippedStains map[string]error

	// Failures lists the images skipped after a per-image failure
	Failures []*models.ImageError

	// Calibrations holds the intensity calibration of every intensity stain
	Calibrations []models.IntensityCalibration

	// Results holds the statistics of every (stain, category) pair
	Results []*stats.Result

	// Outputs lists the files written by the run
	Outputs []string
}

// Pipeline runs the quantification process. The results accumulator is
// owned by the pipeline and shared by the stain cohorts of one run.
type Pipeline struct {
	params  Params
	cfg     *config.Config
	logger  zerolog.Logger
	metrics *metrics.Recorder

	acc *quantify.Accumulator

	// mu guards summary during the concurrent per-image stage
	mu      sync.Mutex
	summary *Summary
}

// NewPipeline creates a pipeline for one run. A nil config means defaults.
func NewPipeline(params Params, logger zerolog.Logger) *Pipeline {
	cfg := params.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Pipeline{
		params:  params,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.NewRecorder(),
		acc:     quantify.NewAccumulator(),
	}
}

// Metrics returns the run counters
func (p *Pipeline) Metrics() *metrics.Recorder {
	return p.metrics
}

// Records returns a snapshot of the results table
func (p *Pipeline) Records() []models.ConditionRecord {
	return p.acc.Records()
}

// Process runs the complete quantification pipeline. Per-image failures
// skip the image and failed calibrations skip the stain; an unreadable
// metadata table, cancellation of ctx and output failures abort the run.
func (p *Pipeline) Process(ctx context.Context) (*Summary, error) {
	started := time.Now()
	p.summary = &Summary{SkippedStains: make(map[string]error)}
	outDir := p.cfg.Output.Dir

	// Step 1: Load the metadata table
	rows, err := metadata.Load(p.params.MetadataPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load metadata: %w", err)
	}
	stains, byStain := metadata.GroupByStain(rows)
	p.logger.Info().Int("images", len(rows)).Int("stains", len(stains)).Msg("Loaded metadata")

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	// Step 2: Calibrate, classify and quantify every stain cohort
	for _, stain := range stains {
		if err := p.processStain(ctx, stain, byStain[stain]); err != nil {
			return nil, err
		}
	}
	p.summary.Records = p.acc.Len()
	p.logger.Info().Int("records", p.summary.Records).Int("skipped", len(p.summary.Failures)).Msg("Quantification finished")

	// Step 3: Compare conditions once the table is complete
	records := p.acc.Records()
	categories := make(map[string][]string)
	for _, stain := range p.acc.Stains() {
		categories[stain] = p.acc.Categories(stain)
	}
	p.summary.Results = stats.CompareAll(records, categories, p.cfg.Statistics.Alpha)
	for _, r := range p.summary.Results {
		for _, problem := range r.Problems {
			p.logger.Warn().Str("stain", r.Stain).Str("category", r.Category).Err(problem).Msg("Statistics incomplete")
		}
	}

	// Step 4: Write the outputs
	if err := p.writeOutputs(ctx, started, records); err != nil {
		return nil, err
	}

	p.logger.Info().Dur("elapsed", time.Since(started)).Int("outputs", len(p.summary.Outputs)).Msg("Run complete")
	return p.summary, nil
}

// stainWork bundles what the per-image stage needs for one stain
type stainWork struct {
	stain      string
	protocol   *config.StainProtocol
	detector   *region.Detector
	prepare    func(*models.Image) (*models.Image, error)
	classifier classify.Classifier
	bands      *classify.IntensityThresholdClassifier
}

// processStain runs one stain cohort. Only cancellation is returned as an
// error; every other failure is recorded and the cohort or image skipped.
func (p *Pipeline) processStain(ctx context.Context, stain string, rows []models.MetadataRow) error {
	logger := p.logger.With().Str("stain", stain).Logger()

	protocol, err := p.cfg.Protocol(stain)
	if err != nil {
		logger.Warn().Err(err).Int("images", len(rows)).Msg("Skipping stain")
		p.skipStain(stain, "unrecognized", err)
		return nil
	}

	d := p.cfg.DetectorFor(protocol)
	work := &stainWork{
		stain:    stain,
		protocol: protocol,
		detector: region.NewDetector(region.Params{
			BackgroundThreshold: d.BackgroundThreshold,
			BlurSize:            d.BlurSize,
			LargeKernelSize:     d.LargeKernelSize,
			SmoothKernelSize:    d.SmoothKernelSize,
		}),
	}

	pending := rows
	switch protocol.Kind {
	case config.ProtocolColor:
		group, err := protocol.ReferenceColors()
		if err == nil {
			work.classifier, err = classify.NewColorDistanceClassifier(group, p.cfg.Processing.WhiteThreshold)
		}
		if err != nil {
			logger.Error().Err(err).Msg("Skipping stain with invalid protocol")
			p.skipStain(stain, "protocol", err)
			return nil
		}

	case config.ProtocolIntensity:
		work.prepare = p.prepareIntensity
		pending, err = p.calibrate(ctx, work, rows)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			logger.Error().Err(err).Msg("Skipping stain after failed calibration")
			p.skipStain(stain, "calibration", err)
			return nil
		}
	}

	logger.Info().Int("images", len(pending)).Str("kind", string(protocol.Kind)).Msg("Processing stain")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Processing.Workers)
	for _, row := range pending {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			begin := time.Now()
			rec, stage, err := p.processImage(gctx, work, row)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
					return err
				}
				p.fail(&models.ImageError{ImageID: row.ImageID, Stain: stain, Stage: stage, Err: err})
				return nil
			}
			p.acc.Add(rec)
			p.metrics.ImageProcessed(stain, time.Since(begin))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	p.mu.Lock()
	p.summary.Stains = append(p.summary.Stains, stain)
	p.mu.Unlock()
	return nil
}

// calibrate runs the first pass over the whole cohort and builds the band
// classifier from its calibration. It returns the rows that survived the
// first pass; rows that failed there are already recorded.
func (p *Pipeline) calibrate(ctx context.Context, work *stainWork, rows []models.MetadataRow) ([]models.MetadataRow, error) {
	pooler := &calibration.Pooler{
		Detector: work.detector,
		Load:     imageio.LoadRow,
		Prepare:  work.prepare,
		Workers:  p.cfg.Processing.Workers,
		Timeout:  p.cfg.Processing.ImageTimeout,
		Logger:   p.logger,
	}
	cal, pool, err := pooler.Calibrate(ctx, work.stain, rows)

	failed := make(map[string]bool)
	if pool != nil {
		for _, f := range pool.Failures {
			p.fail(f)
			failed[f.ImageID] = true
		}
	}
	if err != nil {
		return nil, err
	}

	p.metrics.CalibrationPool(work.stain, cal.PoolSize)
	b := p.cfg.BandsFor(work.protocol)
	bands, err := classify.NewIntensityThresholdClassifier(cal, classify.BandFractions{Lower: b.Lower, Upper: b.Upper})
	if err != nil {
		return nil, err
	}
	work.bands = bands
	work.classifier = bands

	p.mu.Lock()
	p.summary.Calibrations = append(p.summary.Calibrations, cal)
	p.mu.Unlock()
	p.logger.Info().
		Str("stain", work.stain).
		Float64("min", cal.Min).
		Float64("max", cal.Max).
		Float64("threshold", cal.Threshold).
		Int("pixels", cal.PoolSize).
		Msg("Calibrated intensity bands")

	pending := make([]models.MetadataRow, 0, len(rows))
	for _, row := range rows {
		if !failed[row.ImageID] {
			pending = append(pending, row)
		}
	}
	return pending, nil
}

// processImage detects, classifies and quantifies one image. On failure it
// returns the stage that failed.
func (p *Pipeline) processImage(ctx context.Context, work *stainWork, row models.MetadataRow) (models.ConditionRecord, string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Processing.ImageTimeout)
	defer cancel()

	img, err := imageio.LoadRow(ctx, row)
	if err != nil {
		return models.ConditionRecord{}, "load", err
	}
	if work.prepare != nil {
		if img, err = work.prepare(img); err != nil {
			return models.ConditionRecord{}, "prepare", err
		}
	}

	footprint, err := work.detector.Detect(ctx, img)
	if err != nil {
		return models.ConditionRecord{}, "detect", err
	}

	res, err := work.classifier.Classify(ctx, img, footprint)
	if err != nil {
		return models.ConditionRecord{}, "classify", err
	}

	background := work.classifier.Background(img)
	var rec models.ConditionRecord
	if work.bands != nil {
		rec, err = quantify.QuantifyBands(row, img, res, footprint, work.bands)
		if err != nil {
			return models.ConditionRecord{}, "quantify", err
		}
	} else {
		rec = quantify.Quantify(row, res, footprint, background)
		rec.Order = report.OrderCategories(rec.Order)
	}

	if p.cfg.Output.SaveSegments {
		dir := filepath.Join(p.cfg.Output.Dir, SegmentsDir, imageio.SafeName(work.stain))
		viewer, err := visualization.NewViewer(img, res, footprint, background)
		if err == nil {
			_, err = viewer.SaveSegmentSequence(dir, work.stain)
		}
		if err != nil {
			p.logger.Warn().Str("stain", work.stain).Str("image", row.ImageID).Err(err).Msg("Failed to save segments")
		}
	}

	p.logger.Debug().
		Str("stain", work.stain).
		Str("image", row.ImageID).
		Int("area", rec.EffectiveArea).
		Msg("Quantified image")
	return rec, "", nil
}

// prepareIntensity converts an image to intensities and, when configured,
// normalises its contrast. Calibration and classification share it.
func (p *Pipeline) prepareIntensity(img *models.Image) (*models.Image, error) {
	gray := img.Gray()
	if !p.cfg.Processing.Normalize {
		return gray, nil
	}
	return enhance.Normalize(gray, p.cfg.Processing.CLAHEClipLimit, p.cfg.Processing.CLAHETileGrid)
}

func (p *Pipeline) fail(ie *models.ImageError) {
	p.metrics.ImageSkipped(ie.Stain, ie.Stage)
	p.logger.Warn().Str("stain", ie.Stain).Str("image", ie.ImageID).Str("stage", ie.Stage).Err(ie.Err).Msg("Skipping image")

	p.mu.Lock()
	defer p.mu.Unlock()
	p.summary.Failures = append(p.summary.Failures, ie)
}

func (p *Pipeline) skipStain(stain, reason string, err error) {
	p.metrics.StainSkipped(stain, reason)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.summary.SkippedStains[stain] = err
}

// outputPath resolves a configured file name against the output directory
func (p *Pipeline) outputPath(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(p.cfg.Output.Dir, name)
}

// writeOutputs writes the results table, the statistics reports, the
// charts, the database and the metrics textfile
func (p *Pipeline) writeOutputs(ctx context.Context, started time.Time, records []models.ConditionRecord) error {
	alpha := p.cfg.Statistics.Alpha
	results := p.summary.Results

	tablePath := p.outputPath(ResultsFile)
	if err := report.WriteTable(tablePath, records); err != nil {
		return fmt.Errorf("failed to write results table: %w", err)
	}
	p.summary.Outputs = append(p.summary.Outputs, tablePath)

	jsonPath := p.outputPath(StatisticsFile)
	if err := report.WriteJSON(jsonPath, alpha, p.summary.Calibrations, results); err != nil {
		return fmt.Errorf("failed to write statistics: %w", err)
	}
	textPath := p.outputPath(StatisticsTextFile)
	if err := report.SaveText(textPath, alpha, results); err != nil {
		return fmt.Errorf("failed to write statistics report: %w", err)
	}
	p.summary.Outputs = append(p.summary.Outputs, jsonPath, textPath)

	if p.cfg.Output.Charts {
		var charted []string
		seen := make(map[string]bool)
		for _, r := range results {
			if !seen[r.Stain] {
				seen[r.Stain] = true
				charted = append(charted, r.Stain)
			}
		}
		paths, err := report.SaveCharts(p.outputPath(ChartsDir), charted, results)
		p.summary.Outputs = append(p.summary.Outputs, paths...)
		if err != nil {
			p.logger.Warn().Err(err).Msg("Failed to render charts")
		}
	}

	if p.cfg.Output.Database != "" {
		if err := p.saveDatabase(ctx, started, records); err != nil {
			return fmt.Errorf("failed to write database: %w", err)
		}
	}

	if p.cfg.Output.MetricsFile != "" {
		path := p.outputPath(p.cfg.Output.MetricsFile)
		if err := p.metrics.WriteTextfile(path); err != nil {
			return fmt.Errorf("failed to write metrics: %w", err)
		}
		p.summary.Outputs = append(p.summary.Outputs, path)
	}
	return nil
}

func (p *Pipeline) saveDatabase(ctx context.Context, started time.Time, records []models.ConditionRecord) error {
	db, err := store.Open(ctx, p.outputPath(p.cfg.Output.Database))
	if err != nil {
		return err
	}
	defer db.Close()

	runID, err := db.BeginRun(ctx, started, p.params.MetadataPath)
	if err != nil {
		return err
	}
	if err := db.SaveRecords(ctx, runID, records); err != nil {
		return err
	}
	if err := db.SaveCalibrations(ctx, runID, p.summary.Calibrations); err != nil {
		return err
	}
	if err := db.SaveStatistics(ctx, runID, p.summary.Results); err != nil {
		return err
	}
	p.summary.RunID = runID
	p.summary.Outputs = append(p.summary.Outputs, db.Path())
	return nil
}
