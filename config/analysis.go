package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/LdDl/casa-go/casa"
	"github.com/LdDl/casa-go/kinematics"
	"github.com/LdDl/casa-go/mot"
	"github.com/pkg/errors"
)

const maxConfigFileSize = 1 * 1024 * 1024

// AnalysisConfig is JSON representation of analysis parameters.
// Every field is optional: omitted fields fall back to defaults returned by Get* methods.
type AnalysisConfig struct {
	// Tracking
	MinBlobArea        *float64 `json:"min_blob_area,omitempty"`
	MaxMatchDistancePx *float64 `json:"max_match_distance_px,omitempty"`
	MaxMissedFrames    *int     `json:"max_missed_frames,omitempty"`
	Matching           *string  `json:"matching,omitempty"` // "greedy" or "hungarian"

	// Track filter
	MinTrackDurationSec *float64 `json:"min_track_duration_sec,omitempty"`
	MinTrackPoints      *int     `json:"min_track_points,omitempty"`

	// Kinematics
	SmoothingWindow *int     `json:"smoothing_window,omitempty"`
	Smoothing       *string  `json:"smoothing,omitempty"` // "moving_average" or "kalman"
	KalmanStdDevA   *float64 `json:"kalman_std_dev_a,omitempty"`
	KalmanStdDevM   *float64 `json:"kalman_std_dev_m,omitempty"`

	// Motility thresholds, µm/s and [0, 1]
	MinimumVelocity            *float64 `json:"minimum_velocity,omitempty"`
	MinimumProgressiveVelocity *float64 `json:"minimum_progressive_velocity,omitempty"`
	StraightnessThreshold      *float64 `json:"straightness_threshold,omitempty"`

	// Pipeline
	DetectWorkers     *int `json:"detect_workers,omitempty"`
	KinematicsWorkers *int `json:"kinematics_workers,omitempty"`
	BufferFrames      *int `json:"buffer_frames,omitempty"`

	// Measured outside of motion analysis
	Sample casa.SampleMeasures `json:"sample"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrInt(v int) *int             { return &v }
func ptrString(v string) *string    { return &v }

// EmptyAnalysisConfig returns config with every field unset
func EmptyAnalysisConfig() *AnalysisConfig {
	return &AnalysisConfig{}
}

// DefaultAnalysisConfig returns config with every field explicitly set to its default
func DefaultAnalysisConfig() *AnalysisConfig {
	empty := EmptyAnalysisConfig()
	return &AnalysisConfig{
		MinBlobArea:                ptrFloat64(empty.GetMinBlobArea()),
		MaxMatchDistancePx:         ptrFloat64(empty.GetMaxMatchDistancePx()),
		MaxMissedFrames:            ptrInt(empty.GetMaxMissedFrames()),
		Matching:                   ptrString(empty.GetMatching()),
		MinTrackDurationSec:        ptrFloat64(empty.GetMinTrackDurationSec()),
		MinTrackPoints:             ptrInt(empty.GetMinTrackPoints()),
		SmoothingWindow:            ptrInt(empty.GetSmoothingWindow()),
		Smoothing:                  ptrString(empty.GetSmoothing()),
		KalmanStdDevA:              ptrFloat64(empty.GetKalmanStdDevA()),
		KalmanStdDevM:              ptrFloat64(empty.GetKalmanStdDevM()),
		MinimumVelocity:            ptrFloat64(empty.GetMinimumVelocity()),
		MinimumProgressiveVelocity: ptrFloat64(empty.GetMinimumProgressiveVelocity()),
		StraightnessThreshold:      ptrFloat64(empty.GetStraightnessThreshold()),
		DetectWorkers:              ptrInt(empty.GetDetectWorkers()),
		KinematicsWorkers:          ptrInt(empty.GetKinematicsWorkers()),
		BufferFrames:               ptrInt(empty.GetBufferFrames()),
	}
}

// LoadAnalysisConfig reads config from JSON file. The file must have .json extension and be under 1MB.
// Omitted fields keep their defaults, so partial configs are fine.
func LoadAnalysisConfig(path string) (*AnalysisConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, errors.Errorf("config file must have .json extension, got '%s'", ext)
	}
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, errors.Wrap(err, "can't stat config file")
	}
	if fileInfo.Size() > maxConfigFileSize {
		return nil, errors.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxConfigFileSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, errors.Wrap(err, "can't read config file")
	}
	cfg := EmptyAnalysisConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "can't parse config JSON")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

// Validate checks fields that are set. It returns the first *ValidationError found.
func (c *AnalysisConfig) Validate() error {
	if c.MinBlobArea != nil && !nonNegative(*c.MinBlobArea) {
		return invalid("min_blob_area", "must be non-negative, got %f", *c.MinBlobArea)
	}
	if c.MaxMatchDistancePx != nil && !nonNegative(*c.MaxMatchDistancePx) {
		return invalid("max_match_distance_px", "must be non-negative, got %f", *c.MaxMatchDistancePx)
	}
	if c.MaxMissedFrames != nil && *c.MaxMissedFrames < 0 {
		return invalid("max_missed_frames", "must be non-negative, got %d", *c.MaxMissedFrames)
	}
	if c.Matching != nil {
		if _, err := mot.ParseMatchingAlgorithm(*c.Matching); err != nil {
			return invalid("matching", "%s", err.Error())
		}
	}
	if c.MinTrackDurationSec != nil && !nonNegative(*c.MinTrackDurationSec) {
		return invalid("min_track_duration_sec", "must be non-negative, got %f", *c.MinTrackDurationSec)
	}
	if c.MinTrackPoints != nil && *c.MinTrackPoints < 0 {
		return invalid("min_track_points", "must be non-negative, got %d", *c.MinTrackPoints)
	}
	if c.SmoothingWindow != nil && *c.SmoothingWindow < 1 {
		return invalid("smoothing_window", "must be at least 1, got %d", *c.SmoothingWindow)
	}
	if c.Smoothing != nil {
		if _, err := kinematics.ParseSmoothingMethod(*c.Smoothing); err != nil {
			return invalid("smoothing", "%s", err.Error())
		}
	}
	if c.KalmanStdDevA != nil && !positive(*c.KalmanStdDevA) {
		return invalid("kalman_std_dev_a", "must be positive, got %f", *c.KalmanStdDevA)
	}
	if c.KalmanStdDevM != nil && !positive(*c.KalmanStdDevM) {
		return invalid("kalman_std_dev_m", "must be positive, got %f", *c.KalmanStdDevM)
	}
	if c.MinimumVelocity != nil && !nonNegative(*c.MinimumVelocity) {
		return invalid("minimum_velocity", "must be non-negative, got %f", *c.MinimumVelocity)
	}
	if c.MinimumProgressiveVelocity != nil && !nonNegative(*c.MinimumProgressiveVelocity) {
		return invalid("minimum_progressive_velocity", "must be non-negative, got %f", *c.MinimumProgressiveVelocity)
	}
	if c.GetMinimumProgressiveVelocity() < c.GetMinimumVelocity() {
		return invalid("minimum_progressive_velocity", "must not be below minimum_velocity (%f < %f)", c.GetMinimumProgressiveVelocity(), c.GetMinimumVelocity())
	}
	if c.StraightnessThreshold != nil && !(*c.StraightnessThreshold >= 0 && *c.StraightnessThreshold <= 1) {
		return invalid("straightness_threshold", "must be between 0 and 1, got %f", *c.StraightnessThreshold)
	}
	if c.DetectWorkers != nil && *c.DetectWorkers < 1 {
		return invalid("detect_workers", "must be at least 1, got %d", *c.DetectWorkers)
	}
	if c.KinematicsWorkers != nil && *c.KinematicsWorkers < 1 {
		return invalid("kinematics_workers", "must be at least 1, got %d", *c.KinematicsWorkers)
	}
	if c.BufferFrames != nil && *c.BufferFrames < 1 {
		return invalid("buffer_frames", "must be at least 1, got %d", *c.BufferFrames)
	}
	return nil
}

// GetMinBlobArea returns the min_blob_area value or the default.
func (c *AnalysisConfig) GetMinBlobArea() float64 {
	if c.MinBlobArea == nil {
		return 5.0
	}
	return *c.MinBlobArea
}

// GetMaxMatchDistancePx returns the max_match_distance_px value or the default.
func (c *AnalysisConfig) GetMaxMatchDistancePx() float64 {
	if c.MaxMatchDistancePx == nil {
		return 15.0
	}
	return *c.MaxMatchDistancePx
}

// GetMaxMissedFrames returns the max_missed_frames value or the default.
func (c *AnalysisConfig) GetMaxMissedFrames() int {
	if c.MaxMissedFrames == nil {
		return 3
	}
	return *c.MaxMissedFrames
}

// GetMatching returns the matching value or the default.
func (c *AnalysisConfig) GetMatching() string {
	if c.Matching == nil || *c.Matching == "" {
		return mot.MatchingAlgorithmGreedy.String()
	}
	return *c.Matching
}

// GetMinTrackDurationSec returns the min_track_duration_sec value or the default.
func (c *AnalysisConfig) GetMinTrackDurationSec() float64 {
	if c.MinTrackDurationSec == nil {
		return 0.5
	}
	return *c.MinTrackDurationSec
}

// GetMinTrackPoints returns the min_track_points value or the default.
func (c *AnalysisConfig) GetMinTrackPoints() int {
	if c.MinTrackPoints == nil {
		return 10
	}
	return *c.MinTrackPoints
}

// GetSmoothingWindow returns the smoothing_window value or the default.
func (c *AnalysisConfig) GetSmoothingWindow() int {
	if c.SmoothingWindow == nil {
		return 5
	}
	return *c.SmoothingWindow
}

// GetSmoothing returns the smoothing value or the default.
func (c *AnalysisConfig) GetSmoothing() string {
	if c.Smoothing == nil || *c.Smoothing == "" {
		return kinematics.SmoothingMovingAverage.String()
	}
	return *c.Smoothing
}

// GetKalmanStdDevA returns the kalman_std_dev_a value or the default.
func (c *AnalysisConfig) GetKalmanStdDevA() float64 {
	if c.KalmanStdDevA == nil {
		return kinematics.DefaultKalmanParams().StdDevA
	}
	return *c.KalmanStdDevA
}

// GetKalmanStdDevM returns the kalman_std_dev_m value or the default.
func (c *AnalysisConfig) GetKalmanStdDevM() float64 {
	if c.KalmanStdDevM == nil {
		return kinematics.DefaultKalmanParams().StdDevM
	}
	return *c.KalmanStdDevM
}

// GetMinimumVelocity returns the minimum_velocity value or the default.
func (c *AnalysisConfig) GetMinimumVelocity() float64 {
	if c.MinimumVelocity == nil {
		return kinematics.DefaultMotilityThresholds().MinimumVelocity
	}
	return *c.MinimumVelocity
}

// GetMinimumProgressiveVelocity returns the minimum_progressive_velocity value or the default.
func (c *AnalysisConfig) GetMinimumProgressiveVelocity() float64 {
	if c.MinimumProgressiveVelocity == nil {
		return kinematics.DefaultMotilityThresholds().MinimumProgressiveVelocity
	}
	return *c.MinimumProgressiveVelocity
}

// GetStraightnessThreshold returns the straightness_threshold value or the default.
func (c *AnalysisConfig) GetStraightnessThreshold() float64 {
	if c.StraightnessThreshold == nil {
		return kinematics.DefaultMotilityThresholds().Straightness
	}
	return *c.StraightnessThreshold
}

// GetDetectWorkers returns the detect_workers value or the default.
func (c *AnalysisConfig) GetDetectWorkers() int {
	if c.DetectWorkers == nil {
		return 4
	}
	return *c.DetectWorkers
}

// GetKinematicsWorkers returns the kinematics_workers value or the default.
func (c *AnalysisConfig) GetKinematicsWorkers() int {
	if c.KinematicsWorkers == nil {
		return 4
	}
	return *c.KinematicsWorkers
}

// GetBufferFrames returns the buffer_frames value or the default.
func (c *AnalysisConfig) GetBufferFrames() int {
	if c.BufferFrames == nil {
		return 64
	}
	return *c.BufferFrames
}
