// Package report writes the outputs of a run: the extended results table,
// the statistics bundle as JSON and text, and a summary chart per stain.
package report

import (
	"encoding/csv"
	"os"
	"sort"
	"strconv"
	"strings"

	"histoquant/internal/models"
)

// PercentageSuffix is appended to a category name to form its column
const PercentageSuffix = "_Percentage"

// OrderCategories returns the categories with nuclei first, "Other" last
// and the rest alphabetical
func OrderCategories(categories []string) []string {
	rank := func(c string) int {
		switch {
		case strings.Contains(c, "Nuclei") || strings.Contains(c, "Nucleus"):
			return 0
		case strings.Contains(c, "Other"):
			return 2
		}
		return 1
	}
	out := append([]string(nil), categories...)
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := rank(out[i]), rank(out[j])
		if ri != rj {
			return ri < rj
		}
		return out[i] < out[j]
	})
	return out
}

// Columns returns the percentage columns of a table, in order of first
// appearance across records
func Columns(records []models.ConditionRecord) []string {
	seen := make(map[string]bool)
	var cols []string
	for _, rec := range records {
		for _, c := range rec.Order {
			if !seen[c] {
				seen[c] = true
				cols = append(cols, c)
			}
		}
	}
	return cols
}

// WriteTable writes the metadata table extended with one percentage column
// per category. Cells of categories a stain does not report are empty.
func WriteTable(path string, records []models.ConditionRecord) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}

	cols := Columns(records)
	header := []string{"image_id", "file_path", "condition", "stain", "replicate", "effective_area"}
	for _, c := range cols {
		header = append(header, c+PercentageSuffix)
	}

	w := csv.NewWriter(file)
	w.Write(header)
	for _, rec := range records {
		row := []string{rec.ImageID, rec.FilePath, rec.Condition, rec.Stain, rec.Replicate, strconv.Itoa(rec.EffectiveArea)}
		for _, c := range cols {
			v, ok := rec.Percentages[c]
			if !ok {
				row = append(row, "")
				continue
			}
			row = append(row, strconv.FormatFloat(v, 'f', 4, 64))
		}
		w.Write(row)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
