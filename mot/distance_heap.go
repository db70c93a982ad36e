package mot

// candidate is a possible (track, detection) association on a single frame
type candidate struct {
	// Position of the track in tracker's active list
	trackIdx int
	trackID  int
	detIdx   int
	distance float64
}

// Copied from container/heap - https://golang.org/pkg/container/heap/
// Why make copy? Just want to avoid type conversion

type distanceHeap []candidate

func (h distanceHeap) Len() int { return len(h) }

// Less orders by distance, then by track ID, then by detection index.
// Full order makes greedy assignment reproducible.
func (h distanceHeap) Less(i, j int) bool {
	if h[i].distance != h[j].distance {
		return h[i].distance < h[j].distance
	}
	if h[i].trackID != h[j].trackID {
		return h[i].trackID < h[j].trackID
	}
	return h[i].detIdx < h[j].detIdx
}

func (h distanceHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

// Init establishes the heap invariants.
// The complexity is O(n) where n = h.Len().
func (h distanceHeap) Init() {
	n := h.Len()
	for i := n/2 - 1; i >= 0; i-- {
		h.down(i, n)
	}
}

// Pop removes and returns the minimum element (according to Less) from the heap.
// The complexity is O(log n) where n = h.Len().
// Pop is equivalent to Remove(h, 0).
func (h *distanceHeap) Pop() candidate {
	n := h.Len() - 1
	h.Swap(0, n)
	h.down(0, n)
	heapSize := len(*h)
	lastNode := (*h)[heapSize-1]
	*h = (*h)[0 : heapSize-1]
	return lastNode
}

func (h distanceHeap) down(i0, n int) bool {
	i := i0
	for {
		j1 := 2*i + 1
		if j1 >= n || j1 < 0 {
			break
		}
		j := j1
		if j2 := j1 + 1; j2 < n && h.Less(j2, j1) {
			j = j2
		}
		if !h.Less(j, i) {
			break
		}
		h.Swap(i, j)
		i = j
	}
	return i > i0
}
