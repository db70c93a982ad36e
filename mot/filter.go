package mot

// TrackFilter rejects tracks that are too short to give meaningful kinematics.
// It is a pure predicate: malformed tracks (e.g. a single point) are simply rejected.
type TrackFilter struct {
	// Minimum time between the first and the last point, seconds
	MinDurationSec float64
	// Minimum number of points
	MinPoints int
}

// Accept reports whether track passes the filter.
// Zero duration tracks never pass: kinematics are undefined for them.
func (filter TrackFilter) Accept(track Track) bool {
	if len(track.Points) == 0 || len(track.Points) < filter.MinPoints {
		return false
	}
	duration := track.Duration()
	if duration <= 0 {
		return false
	}
	return duration >= filter.MinDurationSec
}

// Apply splits tracks into accepted and number of rejected ones
func (filter TrackFilter) Apply(tracks []Track) ([]Track, int) {
	accepted := make([]Track, 0, len(tracks))
	rejected := 0
	for _, track := range tracks {
		if filter.Accept(track) {
			accepted = append(accepted, track)
			continue
		}
		rejected++
	}
	return accepted, rejected
}
