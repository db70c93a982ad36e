package pipeline

import (
	"container/heap"
	"context"
	"math"
	"sync"

	"github.com/LdDl/casa-go/mot"
)

// frame is detections of a single video frame on their way to the tracker
type frame struct {
	index      int
	detections []mot.Detection
	// Frame could not be read; the tracker sees it as a frame without detections
	unavailable bool
}

type frameHeap []frame

func (h frameHeap) Len() int           { return len(h) }
func (h frameHeap) Less(i, j int) bool { return h[i].index < h[j].index }
func (h frameHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *frameHeap) Push(x any) {
	*h = append(*h, x.(frame))
}

func (h *frameHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = frame{}
	*h = old[:n-1]
	return item
}

// frameBuffer reorders frames completed by concurrent workers and releases them strictly by index.
// Put blocks while the frame is capacity or more frames ahead of the next one to release.
type frameBuffer struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending frameHeap
	// Next index to release
	next     int
	capacity int
	// Lowest index reported as end of stream
	end  int
	ctx  context.Context
	stop func() bool
}

func newFrameBuffer(ctx context.Context, capacity int) *frameBuffer {
	if capacity < 1 {
		capacity = 1
	}
	buf := &frameBuffer{
		pending:  make(frameHeap, 0, capacity),
		capacity: capacity,
		end:      math.MaxInt,
		ctx:      ctx,
	}
	buf.cond = sync.NewCond(&buf.mu)
	// Wake every waiter once context is done
	buf.stop = context.AfterFunc(ctx, func() {
		buf.mu.Lock()
		buf.cond.Broadcast()
		buf.mu.Unlock()
	})
	return buf
}

// Close releases context watcher
func (buf *frameBuffer) Close() {
	buf.stop()
}

// Put stores frame. Frames at or past end of stream are dropped.
func (buf *frameBuffer) Put(f frame) error {
	buf.mu.Lock()
	defer buf.mu.Unlock()
	for f.index >= buf.next+buf.capacity && f.index < buf.end {
		if err := buf.ctx.Err(); err != nil {
			return err
		}
		buf.cond.Wait()
	}
	if err := buf.ctx.Err(); err != nil {
		return err
	}
	if f.index >= buf.end || f.index < buf.next {
		return nil
	}
	heap.Push(&buf.pending, f)
	buf.cond.Broadcast()
	return nil
}

// MarkEnd records that frame index does not exist, nor does any after it
func (buf *frameBuffer) MarkEnd(index int) {
	buf.mu.Lock()
	defer buf.mu.Unlock()
	if index < buf.end {
		buf.end = index
		buf.cond.Broadcast()
	}
}

// End returns lowest known end of stream index
func (buf *frameBuffer) End() int {
	buf.mu.Lock()
	defer buf.mu.Unlock()
	return buf.end
}

// Take blocks until the next frame in index order is available.
// Returns false once every frame before end of stream was taken.
func (buf *frameBuffer) Take() (frame, bool, error) {
	buf.mu.Lock()
	defer buf.mu.Unlock()
	for {
		if err := buf.ctx.Err(); err != nil {
			return frame{}, false, err
		}
		if buf.next >= buf.end {
			return frame{}, false, nil
		}
		if len(buf.pending) > 0 && buf.pending[0].index == buf.next {
			f := heap.Pop(&buf.pending).(frame)
			buf.next++
			buf.cond.Broadcast()
			return f, true, nil
		}
		buf.cond.Wait()
	}
}
