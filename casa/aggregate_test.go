package casa

import (
	"testing"

	"github.com/LdDl/casa-go/kinematics"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v float64) *float64 {
	return &v
}

func TestAggregateEmpty(t *testing.T) {
	t.Parallel()
	got := Aggregate(nil, kinematics.DefaultMotilityThresholds(), SampleMeasures{})
	want := AggregateResult{Classification: ClassificationUnknown}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("empty aggregate mismatch (-want +got):\n%s", diff)
	}
}

func TestAggregatePercentagesAndMeans(t *testing.T) {
	t.Parallel()
	results := []kinematics.TrackResult{
		// Progressive
		{TrackID: 1, VCL: 80, VSL: 50, VAP: 60, ALH: 4, BCF: 10, LIN: 0.625, STR: 0.9, WOB: 0.75},
		// Non-progressive, slow
		{TrackID: 2, VCL: 40, VSL: 5, VAP: 20, ALH: 2, BCF: 6, LIN: 0.125, STR: 0.25, WOB: 0.5},
		// Non-progressive, fast but curved
		{TrackID: 3, VCL: 60, VSL: 20, VAP: 40, ALH: 3, BCF: 8, LIN: 1.0 / 3.0, STR: 0.5, WOB: 2.0 / 3.0},
		// Immotile
		{TrackID: 4, VCL: 2, VSL: 0, VAP: 1, ALH: 0, BCF: 0, LIN: 0, STR: 0, WOB: 0.5},
	}
	got := Aggregate(results, kinematics.DefaultMotilityThresholds(), SampleMeasures{})

	assert.Equal(t, 4, got.TrackCount)
	assert.InDelta(t, 75.0, got.TotalMotilityPct, 1e-9)
	assert.InDelta(t, 25.0, got.ProgressiveMotilityPct, 1e-9)
	assert.InDelta(t, 50.0, got.NonProgressivePct, 1e-9)
	assert.InDelta(t, 25.0, got.ImmotilePct, 1e-9)
	assert.InDelta(t, 45.5, got.AvgVCL, 1e-9)
	assert.InDelta(t, 18.75, got.AvgVSL, 1e-9)
	assert.InDelta(t, 30.25, got.AvgVAP, 1e-9)
	assert.InDelta(t, 2.25, got.AvgALH, 1e-9)
	assert.InDelta(t, 6.0, got.AvgBCF, 1e-9)
	assert.InDelta(t, 0.4125, got.AvgSTR, 1e-9)
	// Progressive motility 25% is under 30% limit
	assert.Equal(t, ClassificationAsthenozoospermia, got.Classification)
}

func TestAggregateCustomThresholds(t *testing.T) {
	t.Parallel()
	results := []kinematics.TrackResult{
		{TrackID: 1, VAP: 20, STR: 0.95},
		{TrackID: 2, VAP: 12, STR: 0.5},
	}
	th := kinematics.MotilityThresholds{MinimumVelocity: 10, MinimumProgressiveVelocity: 15, Straightness: 0.9}
	got := NewAggregator(th, WHO2021).Aggregate(results, SampleMeasures{})
	assert.InDelta(t, 100.0, got.TotalMotilityPct, 1e-9)
	assert.InDelta(t, 50.0, got.ProgressiveMotilityPct, 1e-9)
	assert.Equal(t, ClassificationNormal, got.Classification)
}

func TestAggregateProgressiveBelowMotileThreshold(t *testing.T) {
	t.Parallel()
	// Progressive threshold under minimum velocity: track is progressive without being motile
	th := kinematics.MotilityThresholds{MinimumVelocity: 10, MinimumProgressiveVelocity: 5, Straightness: 0.5}
	results := []kinematics.TrackResult{
		{TrackID: 1, VAP: 8, STR: 0.9},
		{TrackID: 2, VAP: 3, STR: 0.9},
	}
	require.Equal(t, kinematics.GradeProgressive, th.Grade(results[0].VAP, results[0].STR))

	got := NewAggregator(th, WHO2021).Aggregate(results, SampleMeasures{})
	assert.InDelta(t, 0.0, got.TotalMotilityPct, 1e-9)
	assert.InDelta(t, 50.0, got.ProgressiveMotilityPct, 1e-9)
	assert.InDelta(t, 0.0, got.NonProgressivePct, 1e-9)
	assert.InDelta(t, 50.0, got.ImmotilePct, 1e-9)
}

func TestClassifyPriority(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		total       float64
		progressive float64
		sample      SampleMeasures
		want        Classification
	}{
		{"all pass without sample", 60, 40, SampleMeasures{}, ClassificationNormal},
		{"all pass with sample", 60, 40, SampleMeasures{Concentration: ptr(40), TotalCount: ptr(120), Morphology: ptr(6), Volume: ptr(3), Vitality: ptr(70)}, ClassificationNormal},
		{"low concentration wins over motility", 10, 5, SampleMeasures{Concentration: ptr(10), Morphology: ptr(1)}, ClassificationOligozoospermia},
		{"low total count", 60, 40, SampleMeasures{TotalCount: ptr(20)}, ClassificationOligozoospermia},
		{"low total motility", 40, 35, SampleMeasures{}, ClassificationAsthenozoospermia},
		{"motility wins over morphology", 60, 20, SampleMeasures{Morphology: ptr(2)}, ClassificationAsthenozoospermia},
		{"low morphology", 60, 40, SampleMeasures{Morphology: ptr(3), Volume: ptr(0.5)}, ClassificationTeratozoospermia},
		{"low volume", 60, 40, SampleMeasures{Volume: ptr(1.0)}, ClassificationOtherAbnormality},
		{"low vitality", 60, 40, SampleMeasures{Vitality: ptr(40)}, ClassificationOtherAbnormality},
		{"exactly at limits", 42, 30, SampleMeasures{Concentration: ptr(16), Morphology: ptr(4)}, ClassificationNormal},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, WHO2021.Classify(tt.total, tt.progressive, tt.sample))
		})
	}
}
