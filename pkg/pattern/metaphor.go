package pattern

import "fmt"

// metaphorTemplates render a match as a human-readable analogy, keyed
// on the dominant structural dimension of the pair. Deterministic by
// construction: same fingerprints, same sentence.
var metaphorTemplates = map[string]string{
	DimTrendDirection:        "%s in %s rides a directional move the way %s does in %s",
	DimTrendStrength:         "%s in %s holds its course like %s in %s",
	DimOscillationFrequency:  "%s in %s swings back and forth like %s in %s",
	DimReversionForce:        "%s in %s snaps back to its mean, as %s does in %s",
	DimDivergenceMagnitude:   "%s in %s drifts apart from its baseline the way %s does in %s",
	DimDivergencePolarity:    "%s in %s runs ahead of its reference like %s in %s",
	DimThresholdProximity:    "%s in %s trips a critical threshold, just as %s does in %s",
	DimCascadePotential:      "%s in %s sets off a chain reaction, as %s does in %s",
	DimSignalDecayRate:       "%s in %s fades over time the way %s does in %s",
	DimLeadTimeNormalized:    "%s in %s gives early warning like %s in %s",
	DimEffectSize:            "%s in %s lands with outsized impact, as %s does in %s",
	DimFrequencyOfOccurrence: "%s in %s repeats on a rhythm shared by %s in %s",
}

// renderMetaphor picks the template for the pair's combined dominant
// dimension.
func renderMetaphor(a, b Fingerprint) string {
	var combined StructuralVector
	for i := range combined {
		combined[i] = (a.Structure[i] + b.Structure[i]) / 2
	}
	tpl, ok := metaphorTemplates[combined.Dominant()]
	if !ok {
		tpl = "%s in %s shares structure with %s in %s"
	}
	return fmt.Sprintf(tpl, a.Label, a.SourceDomain, b.Label, b.SourceDomain)
}
