package casa

// Classification is WHO semen analysis outcome of a run
type Classification string

const (
	ClassificationNormal            Classification = "normal"
	ClassificationOligozoospermia   Classification = "oligozoospermia"   // Low concentration or total count
	ClassificationAsthenozoospermia Classification = "asthenozoospermia" // Low motility
	ClassificationTeratozoospermia  Classification = "teratozoospermia"  // Low share of normal forms
	ClassificationOtherAbnormality  Classification = "other_abnormality" // Low volume or vitality
	ClassificationUnknown           Classification = "unknown"           // Nothing to classify
)

// ReferenceLimits holds lower reference limits for a semen sample
type ReferenceLimits struct {
	// Sperm concentration, 10^6 per mL
	Concentration float64
	// Total sperm number per ejaculate, 10^6
	TotalCount float64
	// Total motility (progressive + non-progressive), %
	TotalMotility float64
	// Progressive motility, %
	ProgressiveMotility float64
	// Normal forms, %
	Morphology float64
	// Semen volume, mL
	Volume float64
	// Live spermatozoa, %
	Vitality float64
}

// WHO2021 are lower reference limits from WHO laboratory manual, 6th edition (2021)
var WHO2021 = ReferenceLimits{
	Concentration:       16,
	TotalCount:          39,
	TotalMotility:       42,
	ProgressiveMotility: 30,
	Morphology:          4,
	Volume:              1.4,
	Vitality:            54,
}

// SampleMeasures are measured outside of motion analysis (counting chamber, staining, etc.).
// Nil means the measure was not taken; it never fails its category.
type SampleMeasures struct {
	Concentration *float64 `json:"concentration,omitempty"`
	TotalCount    *float64 `json:"total_count,omitempty"`
	Morphology    *float64 `json:"morphology,omitempty"`
	Volume        *float64 `json:"volume,omitempty"`
	Vitality      *float64 `json:"vitality,omitempty"`
}

// Classify picks the first failing category in order: count, motility, morphology, other.
func (limits ReferenceLimits) Classify(totalMotilityPct, progressiveMotilityPct float64, sample SampleMeasures) Classification {
	if below(sample.Concentration, limits.Concentration) || below(sample.TotalCount, limits.TotalCount) {
		return ClassificationOligozoospermia
	}
	if totalMotilityPct < limits.TotalMotility || progressiveMotilityPct < limits.ProgressiveMotility {
		return ClassificationAsthenozoospermia
	}
	if below(sample.Morphology, limits.Morphology) {
		return ClassificationTeratozoospermia
	}
	if below(sample.Volume, limits.Volume) || below(sample.Vitality, limits.Vitality) {
		return ClassificationOtherAbnormality
	}
	return ClassificationNormal
}

func below(value *float64, limit float64) bool {
	return value != nil && *value < limit
}
