// Package stats compares per-category area percentages across experimental
// conditions: one-way ANOVA, Tukey HSD post-hoc tests and descriptive
// statistics per condition group.
package stats

import (
	"math"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"histoquant/internal/models"
)

// Group is the sample of one condition
type Group struct {
	Condition string
	Values    []float64
}

// ANOVAResult is the outcome of a one-way analysis of variance
type ANOVAResult struct {
	F         float64
	P         float64
	DFBetween int
	DFWithin  int

	// MSE is the pooled within-group variance
	MSE float64
}

// OneWayANOVA tests whether the group means differ. It needs at least two
// non-empty groups and more observations than groups; otherwise F and P are
// NaN and ok is false. Zero within-group variance gives P = 0 when the means
// differ and NaN when they do not.
func OneWayANOVA(groups []Group) (res ANOVAResult, ok bool) {
	res = ANOVAResult{F: math.NaN(), P: math.NaN(), MSE: math.NaN()}

	var all []float64
	k := 0
	for _, g := range groups {
		if len(g.Values) == 0 {
			continue
		}
		k++
		all = append(all, g.Values...)
	}
	n := len(all)
	if k < 2 || n <= k {
		return res, false
	}

	grand := stat.Mean(all, nil)
	ssBetween, ssWithin := 0.0, 0.0
	for _, g := range groups {
		if len(g.Values) == 0 {
			continue
		}
		m := stat.Mean(g.Values, nil)
		ssBetween += float64(len(g.Values)) * (m - grand) * (m - grand)
		for _, v := range g.Values {
			ssWithin += (v - m) * (v - m)
		}
	}

	res.DFBetween = k - 1
	res.DFWithin = n - k
	msBetween := ssBetween / float64(res.DFBetween)
	res.MSE = ssWithin / float64(res.DFWithin)

	switch {
	case res.MSE == 0 && msBetween == 0:
		return res, true
	case res.MSE == 0:
		res.F = math.Inf(1)
		res.P = 0
		return res, true
	}

	res.F = msBetween / res.MSE
	res.P = distuv.F{D1: float64(res.DFBetween), D2: float64(res.DFWithin)}.Survival(res.F)
	return res, true
}

// Describe returns count, mean, sample standard deviation and standard error
// of the mean of one group. Std and SEM are NaN for fewer than two values.
func Describe(g Group) models.GroupStats {
	gs := models.GroupStats{Condition: g.Condition, Count: len(g.Values)}
	switch len(g.Values) {
	case 0:
		gs.Mean, gs.Std, gs.SEM = math.NaN(), math.NaN(), math.NaN()
	case 1:
		gs.Mean, gs.Std, gs.SEM = g.Values[0], math.NaN(), math.NaN()
	default:
		gs.Mean, gs.Std = stat.MeanStdDev(g.Values, nil)
		gs.SEM = gs.Std / math.Sqrt(float64(len(g.Values)))
	}
	return gs
}
