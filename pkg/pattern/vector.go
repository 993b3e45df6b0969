// Package pattern finds structural analogies across unrelated domains.
//
// Every source event is reduced to a fixed 12-dimension structural
// vector computed from keyword heuristics. Vectors from different
// domains are compared pairwise; close pairs become human-readable
// metaphors from a fixed template table. No model call is involved, so
// the whole pass is deterministic.
package pattern

import (
	"math"
	"strings"
)

// Dimension names, in vector order.
const (
	DimTrendDirection        = "trend_direction"
	DimTrendStrength         = "trend_strength"
	DimOscillationFrequency  = "oscillation_frequency"
	DimReversionForce        = "reversion_force"
	DimDivergenceMagnitude   = "divergence_magnitude"
	DimDivergencePolarity    = "divergence_polarity"
	DimThresholdProximity    = "threshold_proximity"
	DimCascadePotential      = "cascade_potential"
	DimSignalDecayRate       = "signal_decay_rate"
	DimLeadTimeNormalized    = "lead_time_normalized"
	DimEffectSize            = "effect_size"
	DimFrequencyOfOccurrence = "frequency_of_occurrence"
)

// dimOrder fixes the vector layout.
var dimOrder = []string{
	DimTrendDirection, DimTrendStrength, DimOscillationFrequency,
	DimReversionForce, DimDivergenceMagnitude, DimDivergencePolarity,
	DimThresholdProximity, DimCascadePotential, DimSignalDecayRate,
	DimLeadTimeNormalized, DimEffectSize, DimFrequencyOfOccurrence,
}

// Dims is the vector dimensionality.
const Dims = 12

// signedDims marks the dimensions bounded [-1,1]; the rest are [0,1].
var signedDims = [Dims]bool{0: true, 5: true}

// StructuralVector holds one score per structural dimension.
type StructuralVector [Dims]float64

// dimKeywords drives the deterministic text scoring. Matching is
// substring-based over the lowercased input, so "cascading" hits
// "cascad". Signed dimensions carry a second, negative keyword list.
var dimKeywords = [Dims][]string{
	{"rally", "rising", "uptrend", "climb", "recover", "improv"},
	{"steady", "sustain", "strong", "persist", "momentum", "consistent"},
	{"oscillat", "swing", "flip-flop", "back and forth", "alternat", "whipsaw"},
	{"revert", "reversion", "snap back", "pull back", "rebound", "retrace"},
	{"diverg", "gap", "spread", "deviat", "drift", "mismatch"},
	{"premium", "above", "overshoot", "ahead of its", "outpac"},
	{"threshold", "trigger", "breach", "cross", "exceed", "limit"},
	{"cascad", "chain", "domino", "ripple", "knock-on", "propagat"},
	{"decay", "fade", "degrad", "weaken", "expire", "stale"},
	{"early", "precede", "lead time", "warning", "forewarn", "in advance"},
	{"spike", "surge", "sharp", "severe", "massive", "critical"},
	{"recurr", "periodic", "cycle", "repeated", "every", "again"},
}

// negKeywords are subtracted on the signed dimensions.
var negKeywords = map[int][]string{
	0: {"selloff", "falling", "downtrend", "decline", "deteriorat", "collaps"},
	5: {"discount", "below", "undershoot", "behind its", "lagg"},
}

// VectorFromText scores each dimension by keyword hits, normalized so a
// dimension saturates at three distinct keyword matches. Signed
// dimensions subtract hits from their negative list before clamping.
func VectorFromText(text string) StructuralVector {
	lower := strings.ToLower(text)
	count := func(keywords []string) int {
		hits := 0
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				hits++
			}
		}
		return hits
	}

	var v StructuralVector
	for i, keywords := range dimKeywords {
		score := float64(count(keywords)) / 3
		if neg, ok := negKeywords[i]; ok {
			score -= float64(count(neg)) / 3
		}
		v[i] = clampDim(i, score)
	}
	return v
}

// vectorDiagonal is the diagonal of the bounding box: ten unit-range
// dimensions plus two of range two.
var vectorDiagonal = math.Sqrt(10 + 2*4)

// Distance is euclidean distance normalized to [0,1] by the diagonal of
// the dimension bounding box.
func Distance(a, b StructuralVector) float64 {
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum) / vectorDiagonal
}

// Dominant returns the name of the strongest dimension by absolute
// value. Ties resolve to the earliest dimension in vector order,
// keeping the result stable.
func (v StructuralVector) Dominant() string {
	best := 0
	for i := 1; i < Dims; i++ {
		if math.Abs(v[i]) > math.Abs(v[best]) {
			best = i
		}
	}
	return dimOrder[best]
}

// Magnitude is the vector's euclidean norm; zero means the text matched
// no structural keyword at all.
func (v StructuralVector) Magnitude() float64 {
	sum := 0.0
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}

func clampDim(i int, x float64) float64 {
	lo := 0.0
	if signedDims[i] {
		lo = -1
	}
	if x < lo {
		return lo
	}
	if x > 1 {
		return 1
	}
	return x
}
