package stats

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"histoquant/internal/models"
)

// DefaultAlpha is the family-wise significance level of the post-hoc tests
const DefaultAlpha = 0.05

// Result is the statistics bundle of one (stain, category) pair
type Result struct {
	Stain    string
	Category string

	// Conditions lists every condition with at least one observation,
	// sorted; it indexes Matrix and Groups
	Conditions []string

	Groups []models.GroupStats
	ANOVA  ANOVAResult

	// Pairs holds the Tukey HSD comparisons between conditions with at
	// least two observations, in (i < j) order of Conditions
	Pairs []models.PairwiseComparison

	// Matrix holds the adjusted p-values; p[a][b] == p[b][a]. The diagonal
	// and every cell involving an undersized group are NaN.
	Matrix *mat.SymDense

	// Problems lists the conditions that could not be tested
	Problems []error
}

// OmnibusP returns the ANOVA p-value
func (r *Result) OmnibusP() float64 { return r.ANOVA.P }

// AdjustedP returns the matrix cell of two conditions, or NaN when either
// is unknown
func (r *Result) AdjustedP(a, b string) float64 {
	i, j := r.index(a), r.index(b)
	if i < 0 || j < 0 {
		return math.NaN()
	}
	return r.Matrix.At(i, j)
}

// Pair returns the comparison of two conditions in either order
func (r *Result) Pair(a, b string) (models.PairwiseComparison, bool) {
	for _, p := range r.Pairs {
		if (p.ConditionA == a && p.ConditionB == b) || (p.ConditionA == b && p.ConditionB == a) {
			return p, true
		}
	}
	return models.PairwiseComparison{}, false
}

func (r *Result) index(cond string) int {
	for i, c := range r.Conditions {
		if c == cond {
			return i
		}
	}
	return -1
}

// Compare runs the omnibus and post-hoc tests of one category of one stain.
// Undersized groups are reported in Problems instead of failing the
// comparison; an error is returned only when no record carries the
// category.
func Compare(records []models.ConditionRecord, stain, category string, alpha float64) (*Result, error) {
	byCondition := make(map[string][]float64)
	for _, rec := range records {
		if rec.Stain != stain {
			continue
		}
		v, ok := rec.Percentages[category]
		if !ok || math.IsNaN(v) {
			continue
		}
		byCondition[rec.Condition] = append(byCondition[rec.Condition], v)
	}
	if len(byCondition) == 0 {
		return nil, fmt.Errorf("no %s observations for %s: %w", category, stain, models.ErrInsufficientGroupSize)
	}

	res := &Result{Stain: stain, Category: category}
	for c := range byCondition {
		res.Conditions = append(res.Conditions, c)
	}
	sort.Strings(res.Conditions)

	groups := make([]Group, len(res.Conditions))
	var family []int
	for i, c := range res.Conditions {
		groups[i] = Group{Condition: c, Values: byCondition[c]}
		res.Groups = append(res.Groups, Describe(groups[i]))
		if len(groups[i].Values) < 2 {
			res.Problems = append(res.Problems, fmt.Errorf("%s/%s condition %s has %d observation(s): %w",
				stain, category, c, len(groups[i].Values), models.ErrInsufficientGroupSize))
			continue
		}
		family = append(family, i)
	}

	var ok bool
	res.ANOVA, ok = OneWayANOVA(groups)
	if !ok {
		res.Problems = append(res.Problems, fmt.Errorf("%s/%s: ANOVA needs two groups and residual degrees of freedom: %w",
			stain, category, models.ErrInsufficientGroupSize))
	}

	n := len(res.Conditions)
	res.Matrix = mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			res.Matrix.SetSym(i, j, math.NaN())
		}
	}

	members := make([]Group, len(family))
	for f, i := range family {
		members[f] = groups[i]
	}
	pairs := TukeyHSD(members, alpha)
	for f, p := range pairs {
		p.Stain, p.Category = stain, category
		pairs[f] = p
		res.Matrix.SetSym(res.index(p.ConditionA), res.index(p.ConditionB), p.AdjustedP)
	}
	res.Pairs = pairs
	return res, nil
}

// TukeyHSD runs Tukey's honestly significant difference test (Tukey-Kramer
// for unequal group sizes) on every pair of groups. Groups must hold at
// least two values each; fewer than two groups yields no pairs.
func TukeyHSD(groups []Group, alpha float64) []models.PairwiseComparison {
	k := len(groups)
	if k < 2 {
		return nil
	}
	anova, ok := OneWayANOVA(groups)
	if !ok {
		return nil
	}
	df := float64(anova.DFWithin)
	qcrit := QTukey(1-alpha, float64(k), df)
	tdist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}

	means := make([]float64, k)
	for i, g := range groups {
		means[i] = Describe(g).Mean
	}

	var out []models.PairwiseComparison
	for i := 0; i < k; i++ {
		for j := i + 1; j < k; j++ {
			ni, nj := float64(len(groups[i].Values)), float64(len(groups[j].Values))
			diff := means[j] - means[i]
			se := math.Sqrt(anova.MSE / 2 * (1/ni + 1/nj))

			p := models.PairwiseComparison{
				ConditionA: groups[i].Condition,
				ConditionB: groups[j].Condition,
				MeanDiff:   diff,
				Lower:      diff - qcrit*se,
				Upper:      diff + qcrit*se,
			}
			if se == 0 {
				if diff == 0 {
					p.RawP, p.AdjustedP = 1, 1
				}
			} else {
				q := math.Abs(diff) / se
				p.AdjustedP = clampP(1 - PTukey(q, float64(k), df))
				// the pooled t statistic is q/sqrt(2)
				p.RawP = clampP(2 * tdist.Survival(q/math.Sqrt2))
			}
			p.Reject = p.AdjustedP < alpha
			out = append(out, p)
		}
	}
	return out
}

func clampP(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 1:
		return 1
	}
	return p
}

// CompareAll runs Compare for every category of every stain in the table.
// categories maps each stain to its reporting order.
func CompareAll(records []models.ConditionRecord, categories map[string][]string, alpha float64) []*Result {
	stains := make([]string, 0, len(categories))
	for s := range categories {
		stains = append(stains, s)
	}
	sort.Strings(stains)

	var out []*Result
	for _, s := range stains {
		for _, c := range categories[s] {
			res, err := Compare(records, s, c, alpha)
			if err != nil {
				continue
			}
			out = append(out, res)
		}
	}
	return out
}
