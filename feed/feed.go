// Package feed provides per-frame blob detections to the tracking pipeline.
package feed

import (
	"context"

	"github.com/LdDl/casa-go/mot"
	"github.com/pkg/errors"
)

var (
	// ErrEndOfStream is returned for the first frame index past the end of video
	ErrEndOfStream = errors.New("end of detection stream")
	// ErrFrameUnavailable is returned for frame that could not be decoded; it is a gap, not a failure
	ErrFrameUnavailable = errors.New("frame unavailable")
)

// Source yields detections of a single frame. Implementations must be safe for concurrent use:
// the pipeline calls Detections from several workers with distinct frame indices.
type Source interface {
	Detections(ctx context.Context, frameIndex int) ([]mot.Detection, error)
}

// SourceFunc adapts ordinary function to Source
type SourceFunc func(ctx context.Context, frameIndex int) ([]mot.Detection, error)

// Detections calls f(ctx, frameIndex)
func (f SourceFunc) Detections(ctx context.Context, frameIndex int) ([]mot.Detection, error) {
	return f(ctx, frameIndex)
}

// Frames is in-memory Source. It is read-only after construction.
type Frames struct {
	frames      [][]mot.Detection
	unavailable map[int]struct{}
}

// NewFrames creates feed over pre-computed detections. frames[i] holds detections of frame i.
// Frames listed in unavailable are reported with ErrFrameUnavailable.
func NewFrames(frames [][]mot.Detection, unavailable ...int) *Frames {
	f := &Frames{
		frames:      frames,
		unavailable: make(map[int]struct{}, len(unavailable)),
	}
	for _, idx := range unavailable {
		f.unavailable[idx] = struct{}{}
	}
	return f
}

// Len returns number of frames in feed
func (f *Frames) Len() int {
	return len(f.frames)
}

// Detections returns copy of detections of given frame
func (f *Frames) Detections(ctx context.Context, frameIndex int) ([]mot.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if frameIndex < 0 {
		return nil, errors.Errorf("negative frame index %d", frameIndex)
	}
	if frameIndex >= len(f.frames) {
		return nil, ErrEndOfStream
	}
	if _, ok := f.unavailable[frameIndex]; ok {
		return nil, ErrFrameUnavailable
	}
	src := f.frames[frameIndex]
	detections := make([]mot.Detection, len(src))
	copy(detections, src)
	return detections, nil
}
