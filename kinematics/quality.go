package kinematics

import (
	"math"

	"github.com/LdDl/casa-go/mot"
	"gonum.org/v1/gonum/stat"
)

// qualityScore is a confidence signal in [0, 1]: point density times step smoothness.
// Density is observed points over frames spanned by the track.
// Smoothness is 1/(1+CV) of consecutive step lengths, so jittery detections score lower.
func qualityScore(points []mot.TrackPoint, duration, framesPerSecond float64) float64 {
	n := len(points)
	if n < 2 || duration <= 0 {
		return 0
	}
	framesSpanned := math.Round(duration*framesPerSecond) + 1
	density := float64(n) / framesSpanned
	if density > 1 {
		density = 1
	}

	steps := make([]float64, n-1)
	for i := 1; i < n; i++ {
		steps[i-1] = math.Hypot(points[i].X-points[i-1].X, points[i].Y-points[i-1].Y)
	}
	smoothness := 1.0
	if len(steps) > 1 {
		meanStep, stdStep := stat.MeanStdDev(steps, nil)
		if meanStep > 0 && !math.IsNaN(stdStep) {
			smoothness = 1.0 / (1.0 + stdStep/meanStep)
		}
	}
	score := density * smoothness
	if math.IsNaN(score) || score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
