package mot

import (
	"github.com/pkg/errors"
)

// TrackState is the lifecycle state of a track
type TrackState uint8

const (
	// TrackActive means the tracker still owns the track and may extend it
	TrackActive TrackState = iota
	// TrackTerminated is absorbing: the track has been handed downstream
	TrackTerminated
)

func (s TrackState) String() string {
	switch s {
	case TrackActive:
		return "active"
	case TrackTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

var (
	// ErrNonMonotonicTime is returned when a point does not advance track's time
	ErrNonMonotonicTime = errors.New("track point time must be strictly increasing")
	// ErrTrackTerminated is returned when a terminated track is modified
	ErrTrackTerminated = errors.New("track is terminated")
)

// TrackPoint is a single observation of a cell. X and Y are pixels (or microns after calibration), T is seconds.
type TrackPoint struct {
	X float64
	Y float64
	T float64
}

// Point returns position part of track point
func (tp TrackPoint) Point() Point {
	return Point{X: tp.X, Y: tp.Y}
}

// Track is a per-cell motion path.
// While active it is owned by the Tracker; once terminated it is moved downstream by value.
type Track struct {
	ID           int
	Points       []TrackPoint
	MissedFrames int
	State        TrackState
	// Frame indices of the first and the last matched detection
	FirstFrame int
	LastFrame  int
}

// NewTrack creates active track seeded with a single point
func NewTrack(id int, frameIndex int, point TrackPoint) *Track {
	track := Track{
		ID:         id,
		Points:     make([]TrackPoint, 0, 64),
		State:      TrackActive,
		FirstFrame: frameIndex,
		LastFrame:  frameIndex,
	}
	track.Points = append(track.Points, point)
	return &track
}

// LastPoint returns most recent point of the track. Track must not be empty.
func (track *Track) LastPoint() TrackPoint {
	return track.Points[len(track.Points)-1]
}

// Len returns number of points in the track
func (track *Track) Len() int {
	return len(track.Points)
}

// Duration returns time between the first and the last point, seconds
func (track *Track) Duration() float64 {
	if len(track.Points) < 2 {
		return 0
	}
	return track.Points[len(track.Points)-1].T - track.Points[0].T
}

// Append adds matched observation and resets missed frames counter
func (track *Track) Append(frameIndex int, point TrackPoint) error {
	if track.State == TrackTerminated {
		return errors.Wrapf(ErrTrackTerminated, "can't append to track %d", track.ID)
	}
	if len(track.Points) > 0 && point.T <= track.LastPoint().T {
		return errors.Wrapf(ErrNonMonotonicTime, "track %d: %f after %f", track.ID, point.T, track.LastPoint().T)
	}
	track.Points = append(track.Points, point)
	track.MissedFrames = 0
	track.LastFrame = frameIndex
	return nil
}

// IncMissed increases missed frames counter
func (track *Track) IncMissed() {
	track.MissedFrames++
}

// Terminate moves track into terminated state. Returns false if it was terminated already.
func (track *Track) Terminate() bool {
	if track.State == TrackTerminated {
		return false
	}
	track.State = TrackTerminated
	return true
}

// Scaled returns copy of the track with positions multiplied by factor (e.g. microns per pixel)
func (track Track) Scaled(factor float64) Track {
	scaled := track
	scaled.Points = make([]TrackPoint, len(track.Points))
	for i, pt := range track.Points {
		scaled.Points[i] = TrackPoint{X: pt.X * factor, Y: pt.Y * factor, T: pt.T}
	}
	return scaled
}
