// Package pipeline runs a complete CASA analysis: detections are read by a pool of workers,
// reordered by frame index, stitched into tracks by a single tracker goroutine,
// filtered, measured by a kinematics worker pool and finally aggregated.
package pipeline

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/LdDl/casa-go/casa"
	"github.com/LdDl/casa-go/config"
	"github.com/LdDl/casa-go/feed"
	"github.com/LdDl/casa-go/kinematics"
	"github.com/LdDl/casa-go/monitoring"
	"github.com/LdDl/casa-go/mot"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrCancelled is returned when run was cancelled. No partial result is produced.
	ErrCancelled = errors.New("analysis cancelled")
)

// Stats describes how a run went
type Stats struct {
	Frames            int `json:"frames"`
	UnavailableFrames int `json:"unavailable_frames"`
	TracksCreated     int `json:"tracks_created"`
	TracksRejected    int `json:"tracks_rejected"`
}

// Result is the outcome of a completed run
type Result struct {
	RunID       uuid.UUID                `json:"run_id"`
	StartedAt   time.Time                `json:"started_at"`
	FinishedAt  time.Time                `json:"finished_at"`
	Calibration kinematics.Calibration   `json:"calibration"`
	Aggregate   casa.AggregateResult     `json:"aggregate"`
	Tracks      []kinematics.TrackResult `json:"tracks"`
	Stats       Stats                    `json:"stats"`
}

// ResultSink receives every completed run, e.g. for persistence
type ResultSink interface {
	SaveRun(ctx context.Context, result *Result) error
}

// AnalyzerOption configures Analyzer
type AnalyzerOption func(*Analyzer)

// WithSink makes Analyzer hand completed results to sink
func WithSink(sink ResultSink) AnalyzerOption {
	return func(a *Analyzer) {
		a.sink = sink
	}
}

// Analyzer runs analyses with fixed calibration and parameters. Every Run is independent.
type Analyzer struct {
	calibration kinematics.Calibration
	params      Parameters
	calculator  *kinematics.Calculator
	aggregator  *casa.Aggregator
	sink        ResultSink
}

// NewAnalyzer validates calibration and parameters. Returned errors are *config.ValidationError.
func NewAnalyzer(calibration kinematics.Calibration, params Parameters, options ...AnalyzerOption) (*Analyzer, error) {
	if err := config.ValidateCalibration(calibration); err != nil {
		return nil, err
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	calculator, err := kinematics.NewCalculator(calibration, params.kinematicsParams())
	if err != nil {
		return nil, errors.Wrap(err, "can't prepare kinematics calculator")
	}
	analyzer := &Analyzer{
		calibration: calibration,
		params:      params,
		calculator:  calculator,
		aggregator:  casa.NewAggregator(params.Thresholds, casa.WHO2021),
	}
	for _, option := range options {
		option(analyzer)
	}
	return analyzer, nil
}

// RunAnalysis validates inputs and runs a single analysis
func RunAnalysis(ctx context.Context, source feed.Source, calibration kinematics.Calibration, params Parameters) (*Result, error) {
	analyzer, err := NewAnalyzer(calibration, params)
	if err != nil {
		return nil, err
	}
	return analyzer.Run(ctx, source)
}

// Run reads source until end of stream and returns aggregated result.
// Cancellation of ctx gives ErrCancelled and no result.
func (a *Analyzer) Run(ctx context.Context, source feed.Source) (*Result, error) {
	tracker, err := mot.NewTracker(a.params.trackerConfig(a.calibration))
	if err != nil {
		return nil, errors.Wrap(err, "can't prepare tracker")
	}
	filter := a.params.trackFilter()

	result := &Result{
		RunID:       uuid.New(),
		StartedAt:   time.Now().UTC(),
		Calibration: a.calibration,
	}
	monitoring.Logf("[Pipeline] run %s started: %d detect workers, %d kinematics workers, buffer %d frames, %s matching",
		result.RunID, a.params.DetectWorkers, a.params.KinematicsWorkers, a.params.BufferFrames, a.params.Matching)

	g, gctx := errgroup.WithContext(ctx)
	buf := newFrameBuffer(gctx, a.params.BufferFrames)
	defer buf.Close()

	var nextIndex atomic.Int64
	for w := 0; w < a.params.DetectWorkers; w++ {
		g.Go(func() error {
			return detectWorker(gctx, source, buf, &nextIndex)
		})
	}

	accepted := make(chan mot.Track, a.params.KinematicsWorkers)
	var unavailable, rejected int
	g.Go(func() error {
		defer close(accepted)
		var err error
		unavailable, rejected, err = trackFrames(gctx, tracker, filter, buf, accepted)
		return err
	})

	var mu sync.Mutex
	tracks := make([]kinematics.TrackResult, 0)
	g.Go(func() error {
		var pool errgroup.Group
		pool.SetLimit(a.params.KinematicsWorkers)
		for track := range accepted {
			track := track
			pool.Go(func() error {
				trackResult := a.calculator.Compute(track)
				mu.Lock()
				tracks = append(tracks, trackResult)
				mu.Unlock()
				return nil
			})
		}
		return pool.Wait()
	})

	err = g.Wait()
	if ctxErr := ctx.Err(); ctxErr != nil {
		monitoring.Logf("[Pipeline] run %s cancelled: %v", result.RunID, ctxErr)
		return nil, errors.Wrapf(ErrCancelled, "%v", ctxErr)
	}
	if err != nil {
		monitoring.Logf("[Pipeline] run %s failed: %v", result.RunID, err)
		return nil, err
	}

	sort.Slice(tracks, func(i, j int) bool {
		return tracks[i].TrackID < tracks[j].TrackID
	})
	stats := tracker.Stats()
	result.Tracks = tracks
	result.Aggregate = a.aggregator.Aggregate(tracks, a.params.Sample)
	result.Stats = Stats{
		Frames:            stats.Frames,
		UnavailableFrames: unavailable,
		TracksCreated:     stats.Created,
		TracksRejected:    rejected,
	}
	result.FinishedAt = time.Now().UTC()
	monitoring.Logf("[Pipeline] run %s finished: %d frames, %d tracks created, %d rejected, classification %s",
		result.RunID, result.Stats.Frames, result.Stats.TracksCreated, result.Stats.TracksRejected, result.Aggregate.Classification)

	if a.sink != nil {
		if err := a.sink.SaveRun(ctx, result); err != nil {
			return nil, errors.Wrapf(err, "can't save run %s", result.RunID)
		}
	}
	return result, nil
}

// detectWorker reads frames with indices handed out by counter until end of stream is known
func detectWorker(ctx context.Context, source feed.Source, buf *frameBuffer, counter *atomic.Int64) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		index := int(counter.Add(1) - 1)
		if index >= buf.End() {
			return nil
		}
		detections, err := source.Detections(ctx, index)
		switch {
		case errors.Is(err, feed.ErrEndOfStream):
			buf.MarkEnd(index)
			return nil
		case errors.Is(err, feed.ErrFrameUnavailable):
			if err := buf.Put(frame{index: index, unavailable: true}); err != nil {
				return err
			}
		case err != nil:
			return errors.Wrapf(err, "can't read detections of frame %d", index)
		default:
			if err := buf.Put(frame{index: index, detections: detections}); err != nil {
				return err
			}
		}
	}
}

// trackFrames owns the tracker: it takes frames in index order and sends accepted terminated tracks downstream
func trackFrames(ctx context.Context, tracker *mot.Tracker, filter mot.TrackFilter, buf *frameBuffer, accepted chan<- mot.Track) (int, int, error) {
	unavailable, rejected := 0, 0
	emit := func(terminated []mot.Track) error {
		for _, track := range terminated {
			if !filter.Accept(track) {
				rejected++
				continue
			}
			select {
			case accepted <- track:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	}
	for {
		f, ok, err := buf.Take()
		if err != nil {
			return unavailable, rejected, err
		}
		if !ok {
			break
		}
		if f.unavailable {
			unavailable++
		}
		terminated, err := tracker.ProcessFrame(f.index, f.detections)
		if err != nil {
			return unavailable, rejected, errors.Wrap(err, "tracker failed")
		}
		if err := emit(terminated); err != nil {
			return unavailable, rejected, err
		}
	}
	if err := emit(tracker.Flush()); err != nil {
		return unavailable, rejected, err
	}
	stats := tracker.Stats()
	if stats.Created != stats.Terminated {
		return unavailable, rejected, errors.Errorf("tracker lost tracks: %d created, %d terminated", stats.Created, stats.Terminated)
	}
	return unavailable, rejected, nil
}
