package pipeline

import (
	"fmt"

	"github.com/LdDl/casa-go/casa"
	"github.com/LdDl/casa-go/config"
	"github.com/LdDl/casa-go/kinematics"
	"github.com/LdDl/casa-go/mot"
	"github.com/pkg/errors"
)

// Parameters is immutable configuration of a single analysis run
type Parameters struct {
	MinBlobArea         float64
	MaxMatchDistancePx  float64
	MaxMissedFrames     int
	Matching            mot.MatchingAlgorithm
	MinTrackDurationSec float64
	MinTrackPoints      int
	SmoothingWindow     int
	Smoothing           kinematics.SmoothingMethod
	Kalman              kinematics.KalmanParams
	Thresholds          kinematics.MotilityThresholds
	// Passed through to classification
	Sample casa.SampleMeasures

	DetectWorkers     int
	KinematicsWorkers int
	// Capacity of the frame reorder buffer
	BufferFrames int
}

// DefaultParameters returns parameters built from an empty configuration
func DefaultParameters() Parameters {
	params, err := ParametersFromConfig(config.EmptyAnalysisConfig())
	if err != nil {
		// Defaults always parse
		panic(err)
	}
	return params
}

// ParametersFromConfig validates configuration and converts it into run parameters
func ParametersFromConfig(cfg *config.AnalysisConfig) (Parameters, error) {
	if cfg == nil {
		cfg = config.EmptyAnalysisConfig()
	}
	if err := cfg.Validate(); err != nil {
		return Parameters{}, err
	}
	matching, err := mot.ParseMatchingAlgorithm(cfg.GetMatching())
	if err != nil {
		return Parameters{}, &config.ValidationError{Field: "matching", Reason: err.Error()}
	}
	smoothing, err := kinematics.ParseSmoothingMethod(cfg.GetSmoothing())
	if err != nil {
		return Parameters{}, &config.ValidationError{Field: "smoothing", Reason: err.Error()}
	}
	return Parameters{
		MinBlobArea:         cfg.GetMinBlobArea(),
		MaxMatchDistancePx:  cfg.GetMaxMatchDistancePx(),
		MaxMissedFrames:     cfg.GetMaxMissedFrames(),
		Matching:            matching,
		MinTrackDurationSec: cfg.GetMinTrackDurationSec(),
		MinTrackPoints:      cfg.GetMinTrackPoints(),
		SmoothingWindow:     cfg.GetSmoothingWindow(),
		Smoothing:           smoothing,
		Kalman: kinematics.KalmanParams{
			StdDevA: cfg.GetKalmanStdDevA(),
			StdDevM: cfg.GetKalmanStdDevM(),
		},
		Thresholds: kinematics.MotilityThresholds{
			MinimumVelocity:            cfg.GetMinimumVelocity(),
			MinimumProgressiveVelocity: cfg.GetMinimumProgressiveVelocity(),
			Straightness:               cfg.GetStraightnessThreshold(),
		},
		Sample:            cfg.Sample,
		DetectWorkers:     cfg.GetDetectWorkers(),
		KinematicsWorkers: cfg.GetKinematicsWorkers(),
		BufferFrames:      cfg.GetBufferFrames(),
	}, nil
}

// Validate returns *config.ValidationError for the first invalid parameter
func (p Parameters) Validate() error {
	switch {
	case p.MinBlobArea < 0:
		return invalidParam("min_blob_area", "must be non-negative, got %f", p.MinBlobArea)
	case p.MaxMatchDistancePx < 0:
		return invalidParam("max_match_distance_px", "must be non-negative, got %f", p.MaxMatchDistancePx)
	case p.MaxMissedFrames < 0:
		return invalidParam("max_missed_frames", "must be non-negative, got %d", p.MaxMissedFrames)
	case p.MinTrackDurationSec < 0:
		return invalidParam("min_track_duration_sec", "must be non-negative, got %f", p.MinTrackDurationSec)
	case p.MinTrackPoints < 0:
		return invalidParam("min_track_points", "must be non-negative, got %d", p.MinTrackPoints)
	case p.SmoothingWindow < 1:
		return invalidParam("smoothing_window", "must be at least 1, got %d", p.SmoothingWindow)
	case p.Smoothing == kinematics.SmoothingKalman && (p.Kalman.StdDevA <= 0 || p.Kalman.StdDevM <= 0):
		return invalidParam("kalman", "noise deviations must be positive, got %f and %f", p.Kalman.StdDevA, p.Kalman.StdDevM)
	case p.Thresholds.MinimumVelocity < 0:
		return invalidParam("minimum_velocity", "must be non-negative, got %f", p.Thresholds.MinimumVelocity)
	case p.Thresholds.MinimumProgressiveVelocity < p.Thresholds.MinimumVelocity:
		return invalidParam("minimum_progressive_velocity", "must not be below minimum_velocity, got %f", p.Thresholds.MinimumProgressiveVelocity)
	case p.Thresholds.Straightness < 0 || p.Thresholds.Straightness > 1:
		return invalidParam("straightness_threshold", "must be between 0 and 1, got %f", p.Thresholds.Straightness)
	case p.DetectWorkers < 1:
		return invalidParam("detect_workers", "must be at least 1, got %d", p.DetectWorkers)
	case p.KinematicsWorkers < 1:
		return invalidParam("kinematics_workers", "must be at least 1, got %d", p.KinematicsWorkers)
	case p.BufferFrames < 1:
		return invalidParam("buffer_frames", "must be at least 1, got %d", p.BufferFrames)
	}
	if p.Matching.String() == "unknown" {
		return invalidParam("matching", "unknown matching algorithm %d", p.Matching)
	}
	if p.Smoothing.String() == "unknown" {
		return invalidParam("smoothing", "unknown smoothing method %d", p.Smoothing)
	}
	return nil
}

func (p Parameters) trackerConfig(calibration kinematics.Calibration) mot.TrackerConfig {
	return mot.TrackerConfig{
		MinBlobArea:        p.MinBlobArea,
		MaxMatchDistancePx: p.MaxMatchDistancePx,
		MaxMissedFrames:    p.MaxMissedFrames,
		FramesPerSecond:    calibration.FramesPerSecond,
		Algorithm:          p.Matching,
	}
}

func (p Parameters) trackFilter() mot.TrackFilter {
	return mot.TrackFilter{
		MinDurationSec: p.MinTrackDurationSec,
		MinPoints:      p.MinTrackPoints,
	}
}

func (p Parameters) kinematicsParams() kinematics.Params {
	return kinematics.Params{
		SmoothingWindow: p.SmoothingWindow,
		Smoothing:       p.Smoothing,
		Kalman:          p.Kalman,
		Thresholds:      p.Thresholds,
	}
}

func invalidParam(field, format string, args ...interface{}) error {
	return errors.WithStack(&config.ValidationError{
		Field:  field,
		Reason: fmt.Sprintf(format, args...),
	})
}
