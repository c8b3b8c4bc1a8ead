package quantify

import (
	"sort"
	"strconv"
	"sync"

	"histoquant/internal/models"
)

// Accumulator is the append-only results table of a run. It is safe for
// concurrent use by the per-image workers.
type Accumulator struct {
	mu      sync.Mutex
	records []models.ConditionRecord
}

// NewAccumulator creates an empty results table
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Add appends one record
func (a *Accumulator) Add(rec models.ConditionRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, rec)
}

// Len returns the number of records
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.records)
}

// Records returns a snapshot of the table sorted by stain, condition,
// replicate and image ID, so output does not depend on worker scheduling
func (a *Accumulator) Records() []models.ConditionRecord {
	a.mu.Lock()
	out := make([]models.ConditionRecord, len(a.records))
	copy(out, a.records)
	a.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		x, y := out[i], out[j]
		if x.Stain != y.Stain {
			return x.Stain < y.Stain
		}
		if x.Condition != y.Condition {
			return x.Condition < y.Condition
		}
		if x.Replicate != y.Replicate {
			return replicateLess(x.Replicate, y.Replicate)
		}
		return x.ImageID < y.ImageID
	})
	return out
}

// replicateLess orders replicates numerically when both are integers and
// lexically otherwise
func replicateLess(a, b string) bool {
	m, errA := strconv.Atoi(a)
	n, errB := strconv.Atoi(b)
	if errA == nil && errB == nil && m != n {
		return m < n
	}
	return a < b
}

// ByStain returns the snapshot records of one stain
func (a *Accumulator) ByStain(stain string) []models.ConditionRecord {
	var out []models.ConditionRecord
	for _, rec := range a.Records() {
		if rec.Stain == stain {
			out = append(out, rec)
		}
	}
	return out
}

// Stains returns the distinct stains in the table, sorted
func (a *Accumulator) Stains() []string {
	seen := make(map[string]bool)
	var out []string
	for _, rec := range a.Records() {
		if !seen[rec.Stain] {
			seen[rec.Stain] = true
			out = append(out, rec.Stain)
		}
	}
	return out
}

// Categories returns the categories reported for a stain, in the order of
// its first record
func (a *Accumulator) Categories(stain string) []string {
	for _, rec := range a.Records() {
		if rec.Stain == stain {
			return append([]string(nil), rec.Order...)
		}
	}
	return nil
}
