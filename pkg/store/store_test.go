package store

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"histoquant/internal/models"
	"histoquant/pkg/stats"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "db", "results.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordsRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	runID, err := s.BeginRun(ctx, time.Now(), "meta.csv")
	if err != nil {
		t.Fatalf("BeginRun failed: %v", err)
	}
	recs := []models.ConditionRecord{
		{
			ImageID: "HC-HE-1", Condition: "HC", Stain: "HE", Replicate: "1",
			Order:         []string{"Nuclei", "Other"},
			Percentages:   map[string]float64{"Nuclei": 25, "Other": 75},
			PixelCounts:   map[string]int{"Nuclei": 10, "Other": 30},
			EffectiveArea: 40,
		},
		{
			ImageID: "DD-HE-1", Condition: "DD", Stain: "HE", Replicate: "1",
			Order:         []string{"Nuclei", "Other"},
			Percentages:   map[string]float64{"Nuclei": 50, "Other": 50},
			PixelCounts:   map[string]int{"Nuclei": 20, "Other": 20},
			EffectiveArea: 40,
		},
	}
	if err := s.SaveRecords(ctx, runID, recs); err != nil {
		t.Fatalf("SaveRecords failed: %v", err)
	}

	back, err := s.Records(ctx, runID)
	if err != nil {
		t.Fatalf("Records failed: %v", err)
	}
	if len(back) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(back))
	}
	// ordered by condition: DD before HC
	if back[0].ImageID != "DD-HE-1" || back[1].Percentages["Other"] != 75 {
		t.Errorf("Unexpected records %+v", back)
	}
	if back[1].Order[0] != "Nuclei" || back[1].PixelCounts["Other"] != 30 || back[1].EffectiveArea != 40 {
		t.Errorf("Order or counts not preserved: %+v", back[1])
	}

	other, _ := s.BeginRun(ctx, time.Now(), "meta.csv")
	if empty, _ := s.Records(ctx, other); len(empty) != 0 {
		t.Errorf("Expected no records for a new run, got %d", len(empty))
	}
}

func TestSaveStatistics(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	runID, _ := s.BeginRun(ctx, time.Now(), "meta.csv")

	var recs []models.ConditionRecord
	samples := map[string][]float64{"A": {10, 12, 11}, "B": {20, 22, 21}, "C": {7}}
	for cond, values := range samples {
		for _, v := range values {
			recs = append(recs, models.ConditionRecord{Condition: cond, Stain: "HE", Percentages: map[string]float64{"Nuclei": v}})
		}
	}
	res, err := stats.Compare(recs, "HE", "Nuclei", stats.DefaultAlpha)
	if err != nil {
		t.Fatalf("Compare failed: %v", err)
	}
	if err := s.SaveStatistics(ctx, runID, []*stats.Result{res}); err != nil {
		t.Fatalf("SaveStatistics failed: %v", err)
	}

	p, ok, err := s.AdjustedP(ctx, runID, "HE", "Nuclei", "B", "A")
	if err != nil || !ok {
		t.Fatalf("Expected a stored A/B p-value, got ok=%v err=%v", ok, err)
	}
	if math.Abs(p-res.AdjustedP("A", "B")) > 1e-12 {
		t.Errorf("Stored p %v differs from computed %v", p, res.AdjustedP("A", "B"))
	}
	if _, ok, _ := s.AdjustedP(ctx, runID, "HE", "Nuclei", "A", "C"); ok {
		t.Error("Expected no comparison for the singleton group")
	}

	if err := s.SaveCalibrations(ctx, runID, []models.IntensityCalibration{{Stain: "IHC", Max: 100, Median: 50, Threshold: 50, PoolSize: 6, Images: 2}}); err != nil {
		t.Errorf("SaveCalibrations failed: %v", err)
	}
}
