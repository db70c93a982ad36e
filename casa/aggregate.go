// Package casa reduces per-track kinematics into a population level CASA result.
package casa

import (
	"github.com/LdDl/casa-go/kinematics"
	"gonum.org/v1/gonum/stat"
)

// AggregateResult is the terminal artifact of an analysis run
type AggregateResult struct {
	TrackCount             int     `json:"track_count"`
	TotalMotilityPct       float64 `json:"total_motility_pct"`
	ProgressiveMotilityPct float64 `json:"progressive_motility_pct"`
	NonProgressivePct      float64 `json:"non_progressive_pct"`
	ImmotilePct            float64 `json:"immotile_pct"`

	AvgVCL float64 `json:"avg_vcl"`
	AvgVSL float64 `json:"avg_vsl"`
	AvgVAP float64 `json:"avg_vap"`
	AvgALH float64 `json:"avg_alh"`
	AvgBCF float64 `json:"avg_bcf"`
	AvgLIN float64 `json:"avg_lin"`
	AvgSTR float64 `json:"avg_str"`
	AvgWOB float64 `json:"avg_wob"`

	Classification Classification `json:"classification"`
}

// Aggregator builds AggregateResult with fixed thresholds and reference limits
type Aggregator struct {
	thresholds kinematics.MotilityThresholds
	limits     ReferenceLimits
}

// NewAggregator creates new instance of Aggregator
func NewAggregator(thresholds kinematics.MotilityThresholds, limits ReferenceLimits) *Aggregator {
	return &Aggregator{
		thresholds: thresholds,
		limits:     limits,
	}
}

// Aggregate is shorthand for aggregation against WHO 2021 limits
func Aggregate(results []kinematics.TrackResult, thresholds kinematics.MotilityThresholds, sample SampleMeasures) AggregateResult {
	return NewAggregator(thresholds, WHO2021).Aggregate(results, sample)
}

// Aggregate computes motility percentages and per-parameter means.
// Empty results give zero averages and Unknown classification.
func (agg *Aggregator) Aggregate(results []kinematics.TrackResult, sample SampleMeasures) AggregateResult {
	n := len(results)
	out := AggregateResult{
		TrackCount:     n,
		Classification: ClassificationUnknown,
	}
	if n == 0 {
		return out
	}

	motile, progressive, nonProgressive, immotile := 0, 0, 0, 0
	vcl := make([]float64, n)
	vsl := make([]float64, n)
	vap := make([]float64, n)
	alh := make([]float64, n)
	bcf := make([]float64, n)
	lin := make([]float64, n)
	str := make([]float64, n)
	wob := make([]float64, n)
	for i, r := range results {
		// Grades are recomputed: results may come from a calculator with other thresholds.
		// Total motility and progressive motility are counted independently.
		if agg.thresholds.IsMotile(r.VAP) {
			motile++
		}
		switch agg.thresholds.Grade(r.VAP, r.STR) {
		case kinematics.GradeProgressive:
			progressive++
		case kinematics.GradeNonProgressive:
			nonProgressive++
		default:
			immotile++
		}
		vcl[i], vsl[i], vap[i], alh[i] = r.VCL, r.VSL, r.VAP, r.ALH
		bcf[i], lin[i], str[i], wob[i] = r.BCF, r.LIN, r.STR, r.WOB
	}

	out.TotalMotilityPct = percent(motile, n)
	out.ProgressiveMotilityPct = percent(progressive, n)
	out.NonProgressivePct = percent(nonProgressive, n)
	out.ImmotilePct = percent(immotile, n)

	out.AvgVCL = stat.Mean(vcl, nil)
	out.AvgVSL = stat.Mean(vsl, nil)
	out.AvgVAP = stat.Mean(vap, nil)
	out.AvgALH = stat.Mean(alh, nil)
	out.AvgBCF = stat.Mean(bcf, nil)
	out.AvgLIN = stat.Mean(lin, nil)
	out.AvgSTR = stat.Mean(str, nil)
	out.AvgWOB = stat.Mean(wob, nil)

	out.Classification = agg.limits.Classify(out.TotalMotilityPct, out.ProgressiveMotilityPct, sample)
	return out
}

func percent(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100.0
}
