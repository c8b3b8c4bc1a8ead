package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"histoquant/internal/models"
	"histoquant/pkg/stats"
)

func TestOrderCategories(t *testing.T) {
	in := []string{"Other", "Collagen", "Nuclei/Cytoplasm/Muscle", "Blood", "Other Tissue"}
	got := OrderCategories(in)
	want := []string{"Nuclei/Cytoplasm/Muscle", "Blood", "Collagen", "Other", "Other Tissue"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Expected %v, got %v", want, got)
		}
	}
	if in[0] != "Other" {
		t.Error("Input slice was reordered")
	}
}

func sampleRecords() []models.ConditionRecord {
	return []models.ConditionRecord{
		{ImageID: "HC-HE-1", FilePath: "/d/HC-HE-1.png", Condition: "HC", Stain: "HE", Replicate: "1",
			Order: []string{"Nuclei", "Other"}, Percentages: map[string]float64{"Nuclei": 12.5, "Other": 87.5}, EffectiveArea: 80},
		{ImageID: "HC-IHC-1", FilePath: "/d/HC-IHC-1.png", Condition: "HC", Stain: "IHC", Replicate: "1",
			Order: []string{"Unstained", "Low", "High", "Total"}, Percentages: map[string]float64{"Unstained": 50, "Low": 30, "High": 20, "Total": 50}, EffectiveArea: 10},
	}
}

func TestWriteTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.csv")
	if err := WriteTable(path, sampleRecords()); err != nil {
		t.Fatalf("WriteTable failed: %v", err)
	}
	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("Failed to open table: %v", err)
	}
	defer file.Close()
	rows, err := csv.NewReader(file).ReadAll()
	if err != nil {
		t.Fatalf("Failed to parse table: %v", err)
	}

	header := strings.Join(rows[0], ",")
	want := "image_id,file_path,condition,stain,replicate,effective_area,Nuclei_Percentage,Other_Percentage,Unstained_Percentage,Low_Percentage,High_Percentage,Total_Percentage"
	if header != want {
		t.Errorf("Unexpected header:\n%s", header)
	}
	if rows[1][6] != "12.5000" || rows[1][8] != "" {
		t.Errorf("Unexpected HE row %v", rows[1])
	}
	if rows[2][11] != "50.0000" || rows[2][6] != "" {
		t.Errorf("Unexpected IHC row %v", rows[2])
	}
}

func scenarioResult(t *testing.T) *stats.Result {
	t.Helper()
	var recs []models.ConditionRecord
	for cond, values := range map[string][]float64{"A": {10, 12, 11}, "B": {20, 22, 21}, "C": {10, 11, 9}, "D": {4}} {
		for _, v := range values {
			recs = append(recs, models.ConditionRecord{Condition: cond, Stain: "HE", Percentages: map[string]float64{"Nuclei": v}})
		}
	}
	res, err := stats.Compare(recs, "HE", "Nuclei", stats.DefaultAlpha)
	if err != nil {
		t.Fatalf("Compare failed: %v", err)
	}
	return res
}

func TestWriteJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.json")
	cals := []models.IntensityCalibration{{Stain: "IHC", Max: 100, Median: 50, Threshold: 50}}
	if err := WriteJSON(path, 0.05, cals, []*stats.Result{scenarioResult(t)}); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read JSON: %v", err)
	}
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if len(b.Results) != 1 || len(b.Calibrations) != 1 {
		t.Fatalf("Unexpected bundle %+v", b)
	}
	e := b.Results[0]
	if e.Omnibus.P == nil || *e.Omnibus.P >= 0.05 {
		t.Errorf("Expected a significant omnibus p, got %v", e.Omnibus.P)
	}
	if e.Matrix[0][0] != nil {
		t.Error("Diagonal should be null")
	}
	// D is the singleton: its row is all null
	for j, v := range e.Matrix[3] {
		if v != nil {
			t.Errorf("Expected null at D/%d, got %v", j, *v)
		}
	}
	if e.Matrix[0][1] == nil || e.Matrix[1][0] == nil || *e.Matrix[0][1] != *e.Matrix[1][0] {
		t.Error("Matrix not symmetric in JSON")
	}
	if len(e.Problems) != 1 {
		t.Errorf("Expected one problem, got %v", e.Problems)
	}
}

func TestWriteText(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteText(&buf, 0.05, []*stats.Result{scenarioResult(t)}); err != nil {
		t.Fatalf("WriteText failed: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"==== HE ====", "-- Nuclei --", "ANOVA: F(3, 6)", "Tukey HSD", "note:"} {
		if !strings.Contains(out, want) {
			t.Errorf("Report lacks %q:\n%s", want, out)
		}
	}
}

func TestSaveCharts(t *testing.T) {
	dir := t.TempDir()
	paths, err := SaveCharts(dir, []string{"HE"}, []*stats.Result{scenarioResult(t)})
	if err != nil {
		t.Fatalf("SaveCharts failed: %v", err)
	}
	if len(paths) != 1 {
		t.Fatalf("Expected one chart, got %d", len(paths))
	}
	file, err := os.Open(paths[0])
	if err != nil {
		t.Fatalf("Failed to open chart: %v", err)
	}
	defer file.Close()
	if _, err := png.Decode(file); err != nil {
		t.Errorf("Chart is not a valid PNG: %v", err)
	}

	if _, err := SaveCharts(dir, []string{"IHC"}, []*stats.Result{scenarioResult(t)}); err == nil {
		t.Error("Expected an error for a stain without statistics")
	}
}
