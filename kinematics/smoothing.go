package kinematics

import (
	"math"

	"github.com/LdDl/casa-go/mot"
	kalman_filter "github.com/LdDl/kalman-filter"
	"github.com/pkg/errors"
)

// SmoothingMethod selects how the average path is built
type SmoothingMethod uint8

const (
	// SmoothingMovingAverage is a centered moving average, truncated at path ends
	SmoothingMovingAverage SmoothingMethod = iota
	// SmoothingKalman runs constant velocity 2D Kalman filter over the path
	SmoothingKalman
)

func (m SmoothingMethod) String() string {
	switch m {
	case SmoothingMovingAverage:
		return "moving_average"
	case SmoothingKalman:
		return "kalman"
	default:
		return "unknown"
	}
}

// ParseSmoothingMethod converts textual name into SmoothingMethod
func ParseSmoothingMethod(name string) (SmoothingMethod, error) {
	switch name {
	case "", "moving_average":
		return SmoothingMovingAverage, nil
	case "kalman":
		return SmoothingKalman, nil
	default:
		return SmoothingMovingAverage, errors.Errorf("unknown smoothing method '%s'", name)
	}
}

// MovingAverage returns average path: every point is replaced with mean of window points around it.
// Window is centered; near path ends the window is truncated, no synthetic points are added.
// For even windows the extra point is taken after the center.
func MovingAverage(points []mot.TrackPoint, window int) []mot.TrackPoint {
	n := len(points)
	smoothed := make([]mot.TrackPoint, n)
	if window < 1 {
		window = 1
	}
	left := (window - 1) / 2
	right := window - 1 - left
	for i := range points {
		lo := i - left
		if lo < 0 {
			lo = 0
		}
		hi := i + right
		if hi > n-1 {
			hi = n - 1
		}
		sumX, sumY := 0.0, 0.0
		for k := lo; k <= hi; k++ {
			sumX += points[k].X
			sumY += points[k].Y
		}
		count := float64(hi - lo + 1)
		smoothed[i] = mot.TrackPoint{X: sumX / count, Y: sumY / count, T: points[i].T}
	}
	return smoothed
}

// KalmanParams configures Kalman smoothing
type KalmanParams struct {
	// Process noise: standard deviation of acceleration (µm/s²)
	StdDevA float64
	// Measurement noise: standard deviation of detected position (µm)
	StdDevM float64
}

// DefaultKalmanParams returns parameters tuned for head centroids detected at ~1µm precision
func DefaultKalmanParams() KalmanParams {
	return KalmanParams{
		StdDevA: 200.0,
		StdDevM: 1.5,
	}
}

// KalmanSmooth filters path with constant velocity model stepped once per frame.
// Missed frames between points are covered by extra predict steps.
func KalmanSmooth(points []mot.TrackPoint, framesPerSecond float64, params KalmanParams) []mot.TrackPoint {
	n := len(points)
	smoothed := make([]mot.TrackPoint, n)
	if n == 0 {
		return smoothed
	}
	dt := 1.0 / framesPerSecond
	// No control input: cells are not driven by known acceleration
	ux := 0.0
	uy := 0.0
	kf := kalman_filter.NewKalman2D(dt, ux, uy, params.StdDevA, params.StdDevM, params.StdDevM, kalman_filter.WithState2D(points[0].X, points[0].Y))
	smoothed[0] = points[0]
	for i := 1; i < n; i++ {
		steps := int(math.Round((points[i].T - points[i-1].T) * framesPerSecond))
		if steps < 1 {
			steps = 1
		}
		for s := 0; s < steps; s++ {
			kf.Predict()
		}
		err := kf.Update(points[i].X, points[i].Y)
		if err != nil {
			// Keep the raw observation when the filter can't be updated
			smoothed[i] = points[i]
			continue
		}
		stateX, stateY := kf.GetState()
		if math.IsNaN(stateX) || math.IsNaN(stateY) || math.IsInf(stateX, 0) || math.IsInf(stateY, 0) {
			smoothed[i] = points[i]
			continue
		}
		smoothed[i] = mot.TrackPoint{X: stateX, Y: stateY, T: points[i].T}
	}
	return smoothed
}

// lateralOffsets returns signed and absolute perpendicular offsets of raw points from the smoothed path.
// Path direction at point i is taken from smoothed neighbours i-1 and i+1.
// Where the smoothed path has no direction the sign is 0 and the absolute offset is the plain distance.
func lateralOffsets(raw, smoothed []mot.TrackPoint) ([]float64, []float64) {
	n := len(raw)
	signed := make([]float64, n)
	absolute := make([]float64, n)
	for i := range raw {
		prev := i - 1
		if prev < 0 {
			prev = 0
		}
		next := i + 1
		if next > n-1 {
			next = n - 1
		}
		tx := smoothed[next].X - smoothed[prev].X
		ty := smoothed[next].Y - smoothed[prev].Y
		norm := math.Hypot(tx, ty)
		dx := raw[i].X - smoothed[i].X
		dy := raw[i].Y - smoothed[i].Y
		if norm == 0 {
			absolute[i] = math.Hypot(dx, dy)
			continue
		}
		// Cross product of unit tangent and offset: left of the path is positive
		signed[i] = (tx*dy - ty*dx) / norm
		absolute[i] = math.Abs(signed[i])
	}
	return signed, absolute
}

// signChanges counts how many times the signal crosses zero. Zero samples keep the previous sign.
func signChanges(signal []float64) int {
	changes := 0
	prevSign := 0
	for _, v := range signal {
		sign := 0
		switch {
		case v > 0:
			sign = 1
		case v < 0:
			sign = -1
		}
		if sign == 0 {
			continue
		}
		if prevSign != 0 && sign != prevSign {
			changes++
		}
		prevSign = sign
	}
	return changes
}
