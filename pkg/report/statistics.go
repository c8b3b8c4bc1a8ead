package report

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"histoquant/internal/models"
	"histoquant/pkg/stats"
)

// Omnibus is the JSON form of an ANOVA result
type Omnibus struct {
	F         *float64 `json:"f"`
	P         *float64 `json:"p"`
	DFBetween int      `json:"dfBetween"`
	DFWithin  int      `json:"dfWithin"`
}

// Group is the JSON form of a condition's descriptive statistics
type Group struct {
	Condition string   `json:"condition"`
	Count     int      `json:"count"`
	Mean      *float64 `json:"mean"`
	Std       *float64 `json:"std"`
	SEM       *float64 `json:"sem"`
}

// Comparison is the JSON form of a pairwise comparison
type Comparison struct {
	ConditionA string   `json:"conditionA"`
	ConditionB string   `json:"conditionB"`
	MeanDiff   *float64 `json:"meanDiff"`
	RawP       *float64 `json:"rawP"`
	AdjustedP  *float64 `json:"adjustedP"`
	Lower      *float64 `json:"lower"`
	Upper      *float64 `json:"upper"`
	Reject     bool     `json:"reject"`
}

// Entry is the statistics bundle of one (stain, category) pair. Undefined
// values are null.
type Entry struct {
	Stain       string       `json:"stain"`
	Category    string       `json:"category"`
	Omnibus     Omnibus      `json:"omnibus"`
	Conditions  []string     `json:"conditions"`
	Matrix      [][]*float64 `json:"adjustedPMatrix"`
	Groups      []Group      `json:"groups"`
	Comparisons []Comparison `json:"comparisons"`
	Problems    []string     `json:"problems,omitempty"`
}

func num(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// NewEntry converts a comparator result into its JSON form
func NewEntry(r *stats.Result) Entry {
	e := Entry{
		Stain:      r.Stain,
		Category:   r.Category,
		Conditions: r.Conditions,
		Omnibus: Omnibus{
			F:         num(r.ANOVA.F),
			P:         num(r.ANOVA.P),
			DFBetween: r.ANOVA.DFBetween,
			DFWithin:  r.ANOVA.DFWithin,
		},
	}
	n := len(r.Conditions)
	e.Matrix = make([][]*float64, n)
	for i := 0; i < n; i++ {
		e.Matrix[i] = make([]*float64, n)
		for j := 0; j < n; j++ {
			e.Matrix[i][j] = num(r.Matrix.At(i, j))
		}
	}
	for _, g := range r.Groups {
		e.Groups = append(e.Groups, Group{Condition: g.Condition, Count: g.Count, Mean: num(g.Mean), Std: num(g.Std), SEM: num(g.SEM)})
	}
	for _, p := range r.Pairs {
		e.Comparisons = append(e.Comparisons, Comparison{
			ConditionA: p.ConditionA,
			ConditionB: p.ConditionB,
			MeanDiff:   num(p.MeanDiff),
			RawP:       num(p.RawP),
			AdjustedP:  num(p.AdjustedP),
			Lower:      num(p.Lower),
			Upper:      num(p.Upper),
			Reject:     p.Reject,
		})
	}
	for _, err := range r.Problems {
		e.Problems = append(e.Problems, err.Error())
	}
	return e
}

// Bundle is the statistics document of a run
type Bundle struct {
	Alpha        float64                       `json:"alpha"`
	Calibrations []models.IntensityCalibration `json:"calibrations,omitempty"`
	Results      []Entry                       `json:"results"`
}

// WriteJSON writes the statistics bundle as indented JSON
func WriteJSON(path string, alpha float64, cals []models.IntensityCalibration, results []*stats.Result) error {
	b := Bundle{Alpha: alpha, Calibrations: cals, Results: make([]Entry, 0, len(results))}
	for _, r := range results {
		b.Results = append(b.Results, NewEntry(r))
	}
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal statistics: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

func fmtP(v float64) string {
	switch {
	case math.IsNaN(v):
		return "n/a"
	case v < 1e-4:
		return fmt.Sprintf("%.2e", v)
	}
	return fmt.Sprintf("%.4f", v)
}

// WriteText writes a human readable report of every result, grouped by
// stain: the ANOVA line, the descriptive statistics and the Tukey table.
func WriteText(w io.Writer, alpha float64, results []*stats.Result) error {
	var sb strings.Builder
	stain := ""
	for _, r := range results {
		if r.Stain != stain {
			stain = r.Stain
			fmt.Fprintf(&sb, "\n==== %s ====\n", stain)
		}
		fmt.Fprintf(&sb, "\n-- %s --\n", r.Category)
		if math.IsNaN(r.ANOVA.P) {
			fmt.Fprintf(&sb, "ANOVA: not defined\n")
		} else {
			fmt.Fprintf(&sb, "ANOVA: F(%d, %d) = %.4f, p = %s\n", r.ANOVA.DFBetween, r.ANOVA.DFWithin, r.ANOVA.F, fmtP(r.ANOVA.P))
		}

		fmt.Fprintf(&sb, "%-16s %5s %10s %10s %10s\n", "condition", "n", "mean", "std", "sem")
		for _, g := range r.Groups {
			fmt.Fprintf(&sb, "%-16s %5d %10.4f %10.4f %10.4f\n", g.Condition, g.Count, g.Mean, g.Std, g.SEM)
		}

		if len(r.Pairs) > 0 {
			fmt.Fprintf(&sb, "Tukey HSD (FWER = %.2f)\n", alpha)
			fmt.Fprintf(&sb, "%-12s %-12s %10s %10s %10s %10s %7s\n", "group1", "group2", "meandiff", "p-adj", "lower", "upper", "reject")
			for _, p := range r.Pairs {
				fmt.Fprintf(&sb, "%-12s %-12s %10.4f %10s %10.4f %10.4f %7v\n",
					p.ConditionA, p.ConditionB, p.MeanDiff, fmtP(p.AdjustedP), p.Lower, p.Upper, p.Reject)
			}
		}
		for _, err := range r.Problems {
			fmt.Fprintf(&sb, "note: %v\n", err)
		}
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

// SaveText writes the text report to a file
func SaveText(path string, alpha float64, results []*stats.Result) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteText(file, alpha, results); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
