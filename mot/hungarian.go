package mot

import (
	"math"
)

// performHungarianMatching finds assignment of gated candidates with maximal total score.
// Gated pair score is (MaxMatchDistancePx - distance + 1), so every gated pair scores at least 1.
// Pairs out of gate score 0 and are dropped from the result, i.e. track and detection stay unmatched.
// Tracks are rows ordered by ID and detections are columns ordered by index; the solver has no randomness.
func (tracker *Tracker) performHungarianMatching(detections []Detection) [][2]int {
	matches := make([][2]int, 0)
	numTracks := len(tracker.active)
	numDetections := len(detections)
	if numTracks == 0 || numDetections == 0 {
		return matches
	}
	candidates := tracker.gatedCandidates(detections)
	if len(candidates) == 0 {
		return matches
	}

	// Rectangular matrix - pad to make it square. Padding costs 0 as pairs out of gate do
	paddedSize := maxInt(numTracks, numDetections)
	costMatrix := make([][]float64, paddedSize)
	gated := make([][]bool, paddedSize)
	for i := 0; i < paddedSize; i++ {
		costMatrix[i] = make([]float64, paddedSize)
		gated[i] = make([]bool, paddedSize)
	}
	for _, pair := range candidates {
		// Minimizing negated score is maximizing score
		costMatrix[pair.trackIdx][pair.detIdx] = -(tracker.config.MaxMatchDistancePx - pair.distance + 1.0)
		gated[pair.trackIdx][pair.detIdx] = true
	}

	assignments := hungarianAssign(costMatrix)
	for trackIndex := 0; trackIndex < numTracks; trackIndex++ {
		detectionIndex := assignments[trackIndex]
		if detectionIndex < 0 || detectionIndex >= numDetections || !gated[trackIndex][detectionIndex] {
			continue
		}
		matches = append(matches, [2]int{trackIndex, detectionIndex})
	}
	return matches
}

// hungarianAssign solves square assignment problem minimizing total cost.
// Kuhn-Munkres with row and column potentials, O(n³).
// Returns assignments[row] = column.
func hungarianAssign(cost [][]float64) []int {
	dim := len(cost)
	if dim == 0 {
		return nil
	}
	const inf = math.MaxFloat64 / 2

	// 1-indexed, column 0 is virtual
	u := make([]float64, dim+1)
	v := make([]float64, dim+1)
	p := make([]int, dim+1)
	way := make([]int, dim+1)
	minv := make([]float64, dim+1)
	used := make([]bool, dim+1)

	for i := 1; i <= dim; i++ {
		p[0] = i
		j0 := 0
		for j := 1; j <= dim; j++ {
			minv[j] = inf
			used[j] = false
		}
		for {
			used[j0] = true
			i0 := p[j0]
			delta := inf
			j1 := -1
			for j := 1; j <= dim; j++ {
				if used[j] {
					continue
				}
				cur := cost[i0-1][j-1] - u[i0] - v[j]
				if cur < minv[j] {
					minv[j] = cur
					way[j] = j0
				}
				if minv[j] < delta {
					delta = minv[j]
					j1 = j
				}
			}
			if j1 < 0 {
				break
			}
			for j := 0; j <= dim; j++ {
				if used[j] {
					u[p[j]] += delta
					v[j] -= delta
				} else {
					minv[j] -= delta
				}
			}
			j0 = j1
			if p[j0] == 0 {
				break
			}
		}
		// Augment along the path
		for j0 != 0 {
			p[j0] = p[way[j0]]
			j0 = way[j0]
		}
	}

	assignments := make([]int, dim)
	for i := range assignments {
		assignments[i] = -1
	}
	for j := 1; j <= dim; j++ {
		if p[j] > 0 {
			assignments[p[j]-1] = j - 1
		}
	}
	return assignments
}
