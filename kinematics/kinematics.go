// Package kinematics turns a tracked cell path into CASA kinematic parameters.
//
// All outputs are in physical units: µm, µm/s, Hz. Ratios are dimensionless.
// Every function in this package is pure; equal inputs give bit-identical results.
package kinematics

import (
	"math"

	"github.com/LdDl/casa-go/mot"
	"github.com/pkg/errors"
)

// Calibration converts pixel/frame quantities to microns and seconds. Fixed for a run.
type Calibration struct {
	MicronsPerPixel float64
	FramesPerSecond float64
}

// Validate checks calibration values
func (c Calibration) Validate() error {
	if !(c.MicronsPerPixel > 0) || math.IsInf(c.MicronsPerPixel, 0) {
		return errors.Errorf("microns per pixel must be positive, got %f", c.MicronsPerPixel)
	}
	if !(c.FramesPerSecond > 0) || math.IsInf(c.FramesPerSecond, 0) {
		return errors.Errorf("frames per second must be positive, got %f", c.FramesPerSecond)
	}
	return nil
}

// Params configures the calculator
type Params struct {
	// Number of consecutive points averaged into the smoothed path
	SmoothingWindow int
	Smoothing       SmoothingMethod
	Kalman          KalmanParams
	// Thresholds used to grade every track
	Thresholds MotilityThresholds
}

// DefaultParams returns calculator parameters commonly used for human sperm at 50-60 fps
func DefaultParams() Params {
	return Params{
		SmoothingWindow: 5,
		Smoothing:       SmoothingMovingAverage,
		Kalman:          DefaultKalmanParams(),
		Thresholds:      DefaultMotilityThresholds(),
	}
}

// TrackResult holds kinematics of a single track
type TrackResult struct {
	TrackID int `json:"track_id" csv:"track_id"`
	// Curvilinear velocity, µm/s
	VCL float64 `json:"vcl" csv:"vcl"`
	// Straight-line velocity, µm/s
	VSL float64 `json:"vsl" csv:"vsl"`
	// Average path velocity, µm/s
	VAP float64 `json:"vap" csv:"vap"`
	// Amplitude of lateral head displacement (peak-to-peak), µm
	ALH float64 `json:"alh" csv:"alh"`
	// Beat-cross frequency, Hz
	BCF float64 `json:"bcf" csv:"bcf"`
	LIN float64 `json:"lin" csv:"lin"`
	STR float64 `json:"str" csv:"str"`
	WOB float64 `json:"wob" csv:"wob"`
	// Seconds between the first and the last point
	Duration     float64       `json:"duration" csv:"duration"`
	PointCount   int           `json:"point_count" csv:"point_count"`
	QualityScore float64       `json:"quality_score" csv:"quality_score"`
	Grade        MotilityGrade `json:"grade" csv:"grade"`
}

// Calculator computes TrackResult for filtered tracks. It holds no mutable state and is safe for concurrent use.
type Calculator struct {
	calibration Calibration
	params      Params
}

// NewCalculator creates new instance of Calculator
func NewCalculator(calibration Calibration, params Params) (*Calculator, error) {
	if err := calibration.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid calibration")
	}
	if params.SmoothingWindow < 1 {
		return nil, errors.Errorf("smoothing window must be at least 1, got %d", params.SmoothingWindow)
	}
	if params.Smoothing != SmoothingMovingAverage && params.Smoothing != SmoothingKalman {
		return nil, errors.Errorf("unknown smoothing method %d", params.Smoothing)
	}
	return &Calculator{
		calibration: calibration,
		params:      params,
	}, nil
}

// Compute converts track (pixels, seconds) into kinematic parameters (microns, seconds).
// Zero duration gives zero velocities and frequencies instead of Inf/NaN.
func (calc *Calculator) Compute(track mot.Track) TrackResult {
	result := TrackResult{
		TrackID:    track.ID,
		PointCount: len(track.Points),
	}
	if len(track.Points) == 0 {
		result.Grade = GradeImmotile
		return result
	}
	raw := track.Scaled(calc.calibration.MicronsPerPixel).Points
	smoothed := calc.smooth(raw)

	duration := raw[len(raw)-1].T - raw[0].T
	result.Duration = duration

	curvilinear := pathLength(raw)
	straight := math.Hypot(raw[len(raw)-1].X-raw[0].X, raw[len(raw)-1].Y-raw[0].Y)
	average := pathLength(smoothed)

	signed, absolute := lateralOffsets(raw, smoothed)

	if duration > 0 {
		result.VCL = curvilinear / duration
		result.VSL = straight / duration
		result.VAP = average / duration
		result.BCF = float64(signChanges(signed)) / duration
	}
	result.ALH = 2.0 * mean(absolute)

	result.LIN = safeRatio(result.VSL, result.VCL)
	result.STR = safeRatio(result.VSL, result.VAP)
	result.WOB = safeRatio(result.VAP, result.VCL)

	result.QualityScore = qualityScore(raw, duration, calc.calibration.FramesPerSecond)
	result.Grade = calc.params.Thresholds.Grade(result.VAP, result.STR)
	return result
}

func (calc *Calculator) smooth(points []mot.TrackPoint) []mot.TrackPoint {
	switch calc.params.Smoothing {
	case SmoothingKalman:
		return KalmanSmooth(points, calc.calibration.FramesPerSecond, calc.params.Kalman)
	default:
		return MovingAverage(points, calc.params.SmoothingWindow)
	}
}

func pathLength(points []mot.TrackPoint) float64 {
	length := 0.0
	for i := 1; i < len(points); i++ {
		length += math.Hypot(points[i].X-points[i-1].X, points[i].Y-points[i-1].Y)
	}
	return length
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// safeRatio returns 0 when denominator is 0
func safeRatio(numerator, denominator float64) float64 {
	if denominator == 0 {
		return 0
	}
	ratio := numerator / denominator
	if math.IsNaN(ratio) || math.IsInf(ratio, 0) {
		return 0
	}
	return ratio
}
