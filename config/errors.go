// Package config loads and validates analysis run configuration.
package config

import (
	"fmt"
	"math"

	"github.com/LdDl/casa-go/kinematics"
	"github.com/pkg/errors"
)

// ValidationError reports invalid configuration value. It is fatal to the run and is raised before any frame is processed.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidationError reports whether any error in err's chain is *ValidationError
func IsValidationError(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// ValidateCalibration checks calibration supplied for a run
func ValidateCalibration(calibration kinematics.Calibration) error {
	if !positive(calibration.MicronsPerPixel) {
		return invalid("microns_per_pixel", "must be positive, got %f", calibration.MicronsPerPixel)
	}
	if !positive(calibration.FramesPerSecond) {
		return invalid("frames_per_second", "must be positive, got %f", calibration.FramesPerSecond)
	}
	return nil
}

func invalid(field, format string, args ...interface{}) error {
	return &ValidationError{
		Field:  field,
		Reason: fmt.Sprintf(format, args...),
	}
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0)
}

func nonNegative(v float64) bool {
	return v >= 0 && !math.IsInf(v, 0)
}
