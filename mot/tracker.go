package mot

import (
	"github.com/pkg/errors"
)

// MatchingAlgorithm is for algorithm type for matching detections to tracks
type MatchingAlgorithm uint16

const (
	// MatchingAlgorithmGreedy walks candidates sorted by distance and commits the first free pair.
	// This is the default: bounded, deterministic, but not globally optimal.
	MatchingAlgorithmGreedy MatchingAlgorithm = iota
	// MatchingAlgorithmHungarian uses the Hungarian algorithm (Kuhn-Munkres) for optimal assignment of gated candidates
	MatchingAlgorithmHungarian
)

func (m MatchingAlgorithm) String() string {
	switch m {
	case MatchingAlgorithmGreedy:
		return "greedy"
	case MatchingAlgorithmHungarian:
		return "hungarian"
	default:
		return "unknown"
	}
}

// ParseMatchingAlgorithm converts textual name into MatchingAlgorithm
func ParseMatchingAlgorithm(name string) (MatchingAlgorithm, error) {
	switch name {
	case "", "greedy":
		return MatchingAlgorithmGreedy, nil
	case "hungarian":
		return MatchingAlgorithmHungarian, nil
	default:
		return MatchingAlgorithmGreedy, errors.Errorf("unknown matching algorithm '%s'", name)
	}
}

var (
	// ErrFrameOrder is returned when frames are not fed in strictly increasing index order
	ErrFrameOrder = errors.New("frames must be processed in strictly increasing index order")
)

// TrackerConfig holds parameters of the tracker
type TrackerConfig struct {
	// Detections smaller than this never spawn a track (pixels²). They still may extend existing tracks.
	MinBlobArea float64
	// Max centroid displacement between consecutive observations of the same cell (pixels)
	MaxMatchDistancePx float64
	// Number of consecutive frames without match tolerated before track termination
	MaxMissedFrames int
	// Used to timestamp points: t = frameIndex / FramesPerSecond
	FramesPerSecond float64
	// Algorithm to use for matching
	Algorithm MatchingAlgorithm
}

// DefaultTrackerConfig returns configuration suitable for ~50 fps phase contrast recordings
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		MinBlobArea:        5.0,
		MaxMatchDistancePx: 15.0,
		MaxMissedFrames:    3,
		FramesPerSecond:    50.0,
		Algorithm:          MatchingAlgorithmGreedy,
	}
}

// Validate checks that tracker can run with given configuration
func (cfg TrackerConfig) Validate() error {
	if cfg.FramesPerSecond <= 0 {
		return errors.Errorf("frames per second must be positive, got %f", cfg.FramesPerSecond)
	}
	if cfg.MaxMissedFrames < 0 {
		return errors.Errorf("max missed frames must be non-negative, got %d", cfg.MaxMissedFrames)
	}
	if cfg.MaxMatchDistancePx < 0 {
		return errors.Errorf("max match distance must be non-negative, got %f", cfg.MaxMatchDistancePx)
	}
	if cfg.MinBlobArea < 0 {
		return errors.Errorf("min blob area must be non-negative, got %f", cfg.MinBlobArea)
	}
	if cfg.Algorithm != MatchingAlgorithmGreedy && cfg.Algorithm != MatchingAlgorithmHungarian {
		return errors.Errorf("unknown matching algorithm %d", cfg.Algorithm)
	}
	return nil
}

// TrackerStats is a snapshot of tracker's lifecycle counters
type TrackerStats struct {
	Created    int
	Terminated int
	Active     int
	Frames     int
}

// Tracker stitches per-frame detections into tracks.
// It is not safe for concurrent use: a single goroutine must feed it frames in order.
type Tracker struct {
	// Active tracks, ordered by ID
	active []*Track
	nextID int

	lastFrame int
	started   bool
	frames    int

	created    int
	terminated int

	config TrackerConfig
}

// NewTracker creates new instance of Tracker
func NewTracker(cfg TrackerConfig) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid tracker configuration")
	}
	return &Tracker{
		active: make([]*Track, 0),
		nextID: 1,
		config: cfg,
	}, nil
}

// ActiveCount returns number of tracks being extended
func (tracker *Tracker) ActiveCount() int {
	return len(tracker.active)
}

// Stats returns lifecycle counters
func (tracker *Tracker) Stats() TrackerStats {
	return TrackerStats{
		Created:    tracker.created,
		Terminated: tracker.terminated,
		Active:     len(tracker.active),
		Frames:     tracker.frames,
	}
}

// ProcessFrame associates detections of the frame with active tracks.
// Skipped frame indices (gaps) are processed as frames without detections.
// Returns tracks terminated while processing, ownership is passed to the caller.
func (tracker *Tracker) ProcessFrame(frameIndex int, detections []Detection) ([]Track, error) {
	if frameIndex < 0 {
		return nil, errors.Errorf("negative frame index %d", frameIndex)
	}
	if tracker.started && frameIndex <= tracker.lastFrame {
		return nil, errors.Wrapf(ErrFrameOrder, "got frame %d after frame %d", frameIndex, tracker.lastFrame)
	}
	terminated := make([]Track, 0)
	if tracker.started {
		for gap := tracker.lastFrame + 1; gap < frameIndex; gap++ {
			emitted, err := tracker.step(gap, nil)
			if err != nil {
				return nil, errors.Wrapf(err, "can't process gap frame %d", gap)
			}
			terminated = append(terminated, emitted...)
		}
	}
	emitted, err := tracker.step(frameIndex, detections)
	if err != nil {
		return nil, errors.Wrapf(err, "can't process frame %d", frameIndex)
	}
	terminated = append(terminated, emitted...)
	tracker.started = true
	tracker.lastFrame = frameIndex
	return terminated, nil
}

// Flush terminates every active track. Call it at end of stream.
func (tracker *Tracker) Flush() []Track {
	terminated := make([]Track, 0, len(tracker.active))
	for _, track := range tracker.active {
		if track.Terminate() {
			tracker.terminated++
			terminated = append(terminated, *track)
		}
	}
	tracker.active = make([]*Track, 0)
	return terminated
}

func (tracker *Tracker) step(frameIndex int, detections []Detection) ([]Track, error) {
	tracker.frames++
	var matches [][2]int
	switch tracker.config.Algorithm {
	case MatchingAlgorithmHungarian:
		matches = tracker.performHungarianMatching(detections)
	default:
		matches = tracker.performGreedyMatching(detections)
	}

	matchedTracks := make([]bool, len(tracker.active))
	matchedDetections := make([]bool, len(detections))
	timestamp := float64(frameIndex) / tracker.config.FramesPerSecond
	for _, match := range matches {
		trackIdx, detIdx := match[0], match[1]
		detection := detections[detIdx]
		err := tracker.active[trackIdx].Append(frameIndex, TrackPoint{X: detection.X, Y: detection.Y, T: timestamp})
		if err != nil {
			return nil, errors.Wrapf(err, "can't update track with id %d", tracker.active[trackIdx].ID)
		}
		matchedTracks[trackIdx] = true
		matchedDetections[detIdx] = true
	}

	terminated := make([]Track, 0)
	stillActive := make([]*Track, 0, len(tracker.active)+len(detections))
	for i, track := range tracker.active {
		if matchedTracks[i] {
			stillActive = append(stillActive, track)
			continue
		}
		track.IncMissed()
		// Remove track if it was not found for a long time
		if track.MissedFrames > tracker.config.MaxMissedFrames {
			track.Terminate()
			tracker.terminated++
			terminated = append(terminated, *track)
			continue
		}
		stillActive = append(stillActive, track)
	}

	// Register unmatched detections as new tracks. IDs grow, so the list stays ordered by ID.
	for i, detection := range detections {
		if matchedDetections[i] || detection.Area < tracker.config.MinBlobArea {
			continue
		}
		track := NewTrack(tracker.nextID, frameIndex, TrackPoint{X: detection.X, Y: detection.Y, T: timestamp})
		tracker.nextID++
		tracker.created++
		stillActive = append(stillActive, track)
	}
	tracker.active = stillActive
	return terminated, nil
}

// gatedCandidates returns every (track, detection) pair within max match distance
func (tracker *Tracker) gatedCandidates(detections []Detection) distanceHeap {
	candidates := make(distanceHeap, 0, len(tracker.active))
	for i, track := range tracker.active {
		last := track.LastPoint().Point()
		for j := range detections {
			dist := euclideanDistance(last, detections[j].Center())
			if dist > tracker.config.MaxMatchDistancePx {
				continue
			}
			candidates = append(candidates, candidate{
				trackIdx: i,
				trackID:  track.ID,
				detIdx:   j,
				distance: dist,
			})
		}
	}
	return candidates
}

// performGreedyMatching pops candidates from the closest one and skips pairs whose track or detection is already taken.
func (tracker *Tracker) performGreedyMatching(detections []Detection) [][2]int {
	matches := make([][2]int, 0)
	if len(tracker.active) == 0 || len(detections) == 0 {
		return matches
	}
	priorityQueue := tracker.gatedCandidates(detections)
	priorityQueue.Init()

	// We need to prevent double update of objects
	reservedTracks := make(map[int]struct{})
	reservedDetections := make(map[int]struct{})
	for priorityQueue.Len() > 0 {
		pair := priorityQueue.Pop()
		if _, ok := reservedTracks[pair.trackIdx]; ok {
			continue
		}
		if _, ok := reservedDetections[pair.detIdx]; ok {
			continue
		}
		reservedTracks[pair.trackIdx] = struct{}{}
		reservedDetections[pair.detIdx] = struct{}{}
		matches = append(matches, [2]int{pair.trackIdx, pair.detIdx})
	}
	return matches
}
