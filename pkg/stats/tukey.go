package stats

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// Gauss-Legendre nodes and weights (positive half) for the inner
// integral of the range distribution
var (
	rangeNodes = [6]float64{
		0.981560634246719250690549090149,
		0.904117256370474856678465866119,
		0.769902674194304687036893833213,
		0.587317954286617447296702418941,
		0.367831498998180193752691536644,
		0.125233408511468915472441369464,
	}
	rangeWeights = [6]float64{
		0.047175336386511827194615961485,
		0.106939325995318430960254718194,
		0.160078328543346226334652529543,
		0.203167426723065921749064455810,
		0.233492536538354808760849898925,
		0.249147045813402785000562436043,
	}
)

// Gauss-Legendre nodes and weights (positive half) for the outer integral
// over the chi distribution of the variance estimate
var (
	chiNodes = [8]float64{
		0.989400934991649932596154173450,
		0.944575023073232576077988415535,
		0.865631202387831743880467897712,
		0.755404408355003033895101194847,
		0.617876244402643748446671764049,
		0.458016777657227386342419442984,
		0.281603550779258913230460501460,
		0.950125098376374401853193354250e-1,
	}
	chiWeights = [8]float64{
		0.271524594117540948517805724560e-1,
		0.622535239386478928628438369944e-1,
		0.951585116824927848099251076022e-1,
		0.124628971255533872052476282192,
		0.149595988816576732081501730547,
		0.169156519395002538189312079030,
		0.182603415044923588866763667969,
		0.189450610455068496285396723208,
	}
)

var unitNormal = distuv.UnitNormal

// rangeProb returns P(R < w) for the range R of k independent standard
// normal variables (the studentized range with infinite degrees of freedom).
func rangeProb(w, k float64) float64 {
	const (
		c1     = -30.0
		c3     = 60.0
		bound  = 8.0
		wlarge = 3.0
	)

	half := w * 0.5
	if half >= bound {
		return 1
	}

	// probability that all k variables fall within (-w/2, w/2)
	pr := 2*unitNormal.CDF(half) - 1
	if pr >= 1 {
		pr = 1
	} else {
		pr = math.Pow(pr, k)
	}

	steps := 3.0
	if w > wlarge {
		steps = 2
	}
	lower := half
	inc := (bound - half) / steps
	upper := lower + inc
	k1 := k - 1
	cutoff := math.Exp(c1 / k1)

	sum := 0.0
	for s := 0; s < int(steps); s++ {
		mid := 0.5 * (upper + lower)
		rad := 0.5 * (upper - lower)
		part := 0.0
		for j := 0; j < 2*len(rangeNodes); j++ {
			var node, weight float64
			if j < len(rangeNodes) {
				node, weight = -rangeNodes[j], rangeWeights[j]
			} else {
				idx := 2*len(rangeNodes) - 1 - j
				node, weight = rangeNodes[idx], rangeWeights[idx]
			}
			x := mid + rad*node
			sq := x * x
			if sq > c3 {
				break
			}
			inner := unitNormal.CDF(x) - unitNormal.CDF(x-w)
			if inner >= cutoff {
				part += weight * math.Exp(-0.5*sq) * math.Pow(inner, k1)
			}
		}
		part *= 2 * rad * k / math.Sqrt(2*math.Pi)
		sum += part
		lower = upper
		upper += inc
	}

	pr += sum
	if pr <= 0 {
		return 0
	}
	if pr >= 1 {
		return 1
	}
	return pr
}

// PTukey returns the lower tail P(Q <= q) of the studentized range
// distribution for k groups and df degrees of freedom, by Gauss-Legendre
// integration of the range probability over the distribution of the
// variance estimate (Copenhaver & Holland, 1988).
func PTukey(q, k, df float64) float64 {
	const (
		eps1  = -30.0
		eps2  = 1e-14
		dhalf = 100.0
		dquar = 800.0
		deigh = 5000.0
		dlarg = 25000.0
	)

	switch {
	case math.IsNaN(q) || math.IsNaN(k) || math.IsNaN(df):
		return math.NaN()
	case df < 2 || k < 2:
		return math.NaN()
	case q <= 0:
		return 0
	case math.IsInf(q, 1):
		return 1
	case df > dlarg:
		return rangeProb(q, k)
	}

	f2 := df * 0.5
	lg, _ := math.Lgamma(f2)
	logDensity := f2*math.Log(df) - df*math.Ln2 - lg
	f21 := f2 - 1
	ff4 := df * 0.25

	var width float64
	switch {
	case df <= dhalf:
		width = 1
	case df <= dquar:
		width = 0.5
	case df <= deigh:
		width = 0.25
	default:
		width = 0.125
	}
	logDensity += math.Log(width)

	ans := 0.0
	for i := 1; i <= 50; i++ {
		interval := 0.0
		centre := float64(2*i-1) * width
		for j := 0; j < 2*len(chiNodes); j++ {
			var u float64
			var weight float64
			if j < len(chiNodes) {
				u = centre - chiNodes[j]*width
				weight = chiWeights[j]
			} else {
				idx := j - len(chiNodes)
				u = centre + chiNodes[idx]*width
				weight = chiWeights[idx]
			}
			t := logDensity + f21*math.Log(u) - u*ff4
			if t < eps1 {
				continue
			}
			interval += rangeProb(q*math.Sqrt(u*0.5), k) * weight * math.Exp(t)
		}
		if float64(i)*width >= 1 && interval <= eps2 {
			break
		}
		ans += interval
	}
	if ans > 1 {
		ans = 1
	}
	return ans
}

// QTukey returns the quantile of the studentized range distribution, the
// smallest q with PTukey(q, k, df) >= p, found by bisection.
func QTukey(p, k, df float64) float64 {
	if math.IsNaN(p) || p < 0 || p > 1 || df < 2 || k < 2 {
		return math.NaN()
	}
	if p == 0 {
		return 0
	}
	if p == 1 {
		return math.Inf(1)
	}

	lo, hi := 0.0, 8.0
	for PTukey(hi, k, df) < p {
		lo = hi
		hi *= 2
		if hi > 1e6 {
			return math.Inf(1)
		}
	}
	for i := 0; i < 60 && hi-lo > 1e-10; i++ {
		mid := 0.5 * (lo + hi)
		if PTukey(mid, k, df) < p {
			lo = mid
		} else {
			hi = mid
		}
	}
	return 0.5 * (lo + hi)
}
