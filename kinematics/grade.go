package kinematics

// MotilityGrade is WHO motility category of a single cell
type MotilityGrade string

const (
	GradeProgressive    MotilityGrade = "progressive"     // Actively moving, linearly or in a large circle
	GradeNonProgressive MotilityGrade = "non_progressive" // Moving without progression
	GradeImmotile       MotilityGrade = "immotile"        // No movement
)

// MotilityThresholds decide whether a cell is motile and whether it progresses
type MotilityThresholds struct {
	// VAP above which a cell is counted as motile, µm/s
	MinimumVelocity float64
	// VAP above which a cell may be progressive, µm/s
	MinimumProgressiveVelocity float64
	// STR above which a cell is progressive, [0, 1]
	Straightness float64
}

// DefaultMotilityThresholds returns thresholds commonly used by CASA systems for human sperm
func DefaultMotilityThresholds() MotilityThresholds {
	return MotilityThresholds{
		MinimumVelocity:            5.0,
		MinimumProgressiveVelocity: 25.0,
		Straightness:               0.8,
	}
}

// IsMotile reports whether VAP exceeds minimum velocity
func (th MotilityThresholds) IsMotile(vap float64) bool {
	return vap > th.MinimumVelocity
}

// IsProgressive reports whether both VAP and STR exceed progressive thresholds
func (th MotilityThresholds) IsProgressive(vap, str float64) bool {
	return vap > th.MinimumProgressiveVelocity && str > th.Straightness
}

// Grade classifies a cell by its VAP and STR
func (th MotilityThresholds) Grade(vap, str float64) MotilityGrade {
	if th.IsProgressive(vap, str) {
		return GradeProgressive
	}
	if th.IsMotile(vap) {
		return GradeNonProgressive
	}
	return GradeImmotile
}
