package pipeline

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"histoquant/internal/models"
	"histoquant/pkg/config"
	"histoquant/pkg/metadata"
	"histoquant/pkg/store"
)

// writePNG saves img under dir and returns its path
func writePNG(t *testing.T, dir, name string, img image.Image) string {
	path := filepath.Join(dir, name)
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create %s: %v", name, err)
	}
	defer file.Close()
	if err := png.Encode(file, img); err != nil {
		t.Fatalf("Failed to encode %s: %v", name, err)
	}
	return path
}

// createHESlide draws a 30x30 tissue block on a white 60x60 slide. The
// first nucleiCols columns of the block are nuclei purple, the rest pale
// stroma.
func createHESlide(nucleiCols int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, 60, 60))
	for y := 0; y < 60; y++ {
		for x := 0; x < 60; x++ {
			c := color.NRGBA{R: 255, G: 255, B: 255, A: 255}
			if x >= 15 && x < 45 && y >= 15 && y < 45 {
				if x-15 < nucleiCols {
					c = color.NRGBA{R: 93, G: 51, B: 105, A: 255}
				} else {
					c = color.NRGBA{R: 226, G: 169, B: 213, A: 255}
				}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

// createIHCSlide draws a 20x20 block on a black 40x40 image: the left half
// at intensity 100, the right half at 200
func createIHCSlide() image.Image {
	img := image.NewGray(image.Rect(0, 0, 40, 40))
	for y := 10; y < 30; y++ {
		for x := 10; x < 30; x++ {
			v := uint8(100)
			if x >= 20 {
				v = 200
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	return img
}

// createCohort writes the images and the metadata table of a small run:
// three H&E replicates per condition, two IHC replicates per condition, a
// missing H&E image and an image of an unconfigured stain
func createCohort(t *testing.T, dir string) string {
	var rows []models.MetadataRow
	add := func(cond, stain string, rep int, img image.Image) {
		id := fmt.Sprintf("%s-%s-%d", cond, stain, rep)
		path := filepath.Join(dir, id+".png")
		if img != nil {
			path = writePNG(t, dir, id+".png", img)
		}
		rows = append(rows, models.MetadataRow{ImageID: id, FilePath: path, Condition: cond, Stain: stain, Replicate: fmt.Sprint(rep)})
	}

	for rep := 1; rep <= 3; rep++ {
		add("Control", "HE", rep, createHESlide(15+rep))
		add("Treated", "HE", rep, createHESlide(8+rep))
	}
	add("Treated", "HE", 4, nil)
	for rep := 1; rep <= 2; rep++ {
		add("Control", "IHC", rep, createIHCSlide())
		add("Treated", "IHC", rep, createIHCSlide())
	}
	add("Control", "PAS", 1, createHESlide(10))

	path := filepath.Join(dir, "metadata.csv")
	if err := metadata.Save(path, rows); err != nil {
		t.Fatalf("Failed to write metadata: %v", err)
	}
	return path
}

// testConfig returns a configuration whose detector keeps solid blocks exact
func testConfig(outDir string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Processing.Workers = 2
	cfg.Processing.Normalize = false
	cfg.Detector = config.DetectorConfig{BackgroundThreshold: 220, BlurSize: 1, LargeKernelSize: 3, SmoothKernelSize: 3}
	for i := range cfg.Stains {
		cfg.Stains[i].Detector = nil
	}
	cfg.Output.Dir = outDir
	cfg.Output.MetricsFile = "metrics.prom"
	cfg.Output.SaveSegments = true
	return cfg
}

// TestPipelineEndToEnd runs a complete quantification over synthetic slides
func TestPipelineEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	tmpDir := t.TempDir()
	inputDir := filepath.Join(tmpDir, "input")
	if err := os.MkdirAll(inputDir, 0755); err != nil {
		t.Fatalf("Failed to create input dir: %v", err)
	}
	outDir := filepath.Join(tmpDir, "results")
	metadataPath := createCohort(t, inputDir)

	p := NewPipeline(Params{MetadataPath: metadataPath, Config: testConfig(outDir)}, zerolog.Nop())
	summary, err := p.Process(context.Background())
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	t.Run("Summary", func(t *testing.T) {
		if summary.Records != 10 {
			t.Errorf("Expected 10 records, got %d", summary.Records)
		}
		if len(summary.Failures) != 1 {
			t.Fatalf("Expected 1 failure, got %d", len(summary.Failures))
		}
		f := summary.Failures[0]
		if f.ImageID != "Treated-HE-4" || f.Stage != "load" || !errors.Is(f, models.ErrMissingInput) {
			t.Errorf("Unexpected failure %v", f)
		}
		if err, ok := summary.SkippedStains["PAS"]; !ok || !errors.Is(err, models.ErrUnrecognizedStain) {
			t.Errorf("Expected PAS to be skipped as unrecognized, got %v", summary.SkippedStains)
		}
		if len(summary.Stains) != 2 {
			t.Errorf("Expected 2 processed stains, got %v", summary.Stains)
		}
	})

	t.Run("Percentages", func(t *testing.T) {
		for _, rec := range p.Records() {
			if rec.ImageID != "Control-HE-1" {
				continue
			}
			if rec.EffectiveArea != 900 {
				t.Errorf("Expected effective area 900, got %d", rec.EffectiveArea)
			}
			want := 100 * 16.0 / 30.0
			if got := rec.Percentages["Nuclei"]; got < want-1e-9 || got > want+1e-9 {
				t.Errorf("Expected %.4f%% nuclei, got %.4f%%", want, got)
			}
			if rec.Order[0] != "Nuclei" || rec.Order[len(rec.Order)-1] != "Other" {
				t.Errorf("Unexpected category order %v", rec.Order)
			}
		}
	})

	t.Run("Calibration", func(t *testing.T) {
		if len(summary.Calibrations) != 1 {
			t.Fatalf("Expected 1 calibration, got %d", len(summary.Calibrations))
		}
		cal := summary.Calibrations[0]
		if cal.Min != 100 || cal.Max != 200 || cal.PoolSize != 4*400 {
			t.Errorf("Unexpected calibration %+v", cal)
		}
		for _, rec := range p.Records() {
			if rec.Stain != "IHC" {
				continue
			}
			if rec.Percentages["Total"] != 50 || rec.Percentages["High"] != 50 {
				t.Errorf("Expected 50%% high and total for %s, got %v", rec.ImageID, rec.Percentages)
			}
		}
	})

	t.Run("Statistics", func(t *testing.T) {
		found := false
		for _, r := range summary.Results {
			if r.Stain != "HE" || r.Category != "Nuclei" {
				continue
			}
			found = true
			if r.OmnibusP() >= 0.05 {
				t.Errorf("Expected a significant omnibus test, got p = %g", r.OmnibusP())
			}
			pair, ok := r.Pair("Control", "Treated")
			if !ok || !pair.Reject {
				t.Errorf("Expected Control vs Treated to be rejected, got %+v", pair)
			}
		}
		if !found {
			t.Error("No statistics for HE nuclei")
		}
	})

	t.Run("Outputs", func(t *testing.T) {
		file, err := os.Open(filepath.Join(outDir, ResultsFile))
		if err != nil {
			t.Fatalf("Failed to open results table: %v", err)
		}
		defer file.Close()
		table, err := csv.NewReader(file).ReadAll()
		if err != nil {
			t.Fatalf("Failed to read results table: %v", err)
		}
		if len(table) != 11 {
			t.Errorf("Expected header plus 10 rows, got %d", len(table))
		}
		hasNuclei := false
		for _, col := range table[0] {
			if col == "Nuclei_Percentage" {
				hasNuclei = true
			}
		}
		if !hasNuclei {
			t.Errorf("Missing Nuclei_Percentage column in %v", table[0])
		}

		for _, name := range []string{StatisticsFile, StatisticsTextFile, "metrics.prom",
			filepath.Join(ChartsDir, "HE_summary.png"),
			filepath.Join(SegmentsDir, "HE", "Control-HE-1-HE-Nuclei.png")} {
			if _, err := os.Stat(filepath.Join(outDir, name)); err != nil {
				t.Errorf("Expected output %s: %v", name, err)
			}
		}
	})

	t.Run("Database", func(t *testing.T) {
		db, err := store.Open(context.Background(), filepath.Join(outDir, "histoquant.db"))
		if err != nil {
			t.Fatalf("Failed to open database: %v", err)
		}
		defer db.Close()
		records, err := db.Records(context.Background(), summary.RunID)
		if err != nil {
			t.Fatalf("Failed to read records: %v", err)
		}
		if len(records) != 10 {
			t.Errorf("Expected 10 stored records, got %d", len(records))
		}
	})
}

func TestPipelineInvalidMetadata(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "metadata.csv")
	if err := os.WriteFile(path, []byte("image_id,file_path,condition,stain,replicate\n"), 0644); err != nil {
		t.Fatalf("Failed to write metadata: %v", err)
	}

	p := NewPipeline(Params{MetadataPath: path, Config: testConfig(filepath.Join(dir, "out"))}, zerolog.Nop())
	if _, err := p.Process(context.Background()); !errors.Is(err, models.ErrInvalidMetadata) {
		t.Errorf("Expected ErrInvalidMetadata, got %v", err)
	}
}

func TestPipelineCancelled(t *testing.T) {
	dir := t.TempDir()
	metadataPath := createCohort(t, dir)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewPipeline(Params{MetadataPath: metadataPath, Config: testConfig(filepath.Join(dir, "out"))}, zerolog.Nop())
	if _, err := p.Process(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

// TestPrepareIntensity verifies the grayscale conversion and the optional
// contrast normalisation applied before calibration and classification
func TestPrepareIntensity(t *testing.T) {
	img := models.NewImage("Control-IHC-1", 16, 16, 3)
	for i := 0; i < img.Len(); i++ {
		p := img.At(i)
		v := uint8(100)
		if i%16 >= 8 {
			v = 140
		}
		p[0], p[1], p[2] = v, v, v
	}

	cfg := testConfig(t.TempDir())
	p := NewPipeline(Params{Config: cfg}, zerolog.Nop())
	raw, err := p.prepareIntensity(img)
	if err != nil {
		t.Fatalf("prepareIntensity failed: %v", err)
	}
	if raw.Channels != 1 || raw.Pix[0] != 100 || raw.Pix[15] != 140 {
		t.Errorf("Expected raw intensities 100 and 140, got %d and %d", raw.Pix[0], raw.Pix[15])
	}

	cfg.Processing.Normalize = true
	normalized, err := p.prepareIntensity(img)
	if err != nil {
		t.Fatalf("prepareIntensity failed: %v", err)
	}
	if normalized.Width != 16 || normalized.Height != 16 || normalized.Channels != 1 {
		t.Fatalf("Unexpected normalised shape %dx%dx%d", normalized.Width, normalized.Height, normalized.Channels)
	}
	if normalized.Pix[0] >= normalized.Pix[15] {
		t.Errorf("Expected normalisation to keep the intensity order, got %d and %d", normalized.Pix[0], normalized.Pix[15])
	}
	if normalized.Pix[15]-normalized.Pix[0] <= 40 {
		t.Errorf("Expected normalisation to widen the contrast, got %d and %d", normalized.Pix[0], normalized.Pix[15])
	}
}
