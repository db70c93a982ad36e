package pipeline

import (
	"context"
	"math"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/LdDl/casa-go/casa"
	"github.com/LdDl/casa-go/config"
	"github.com/LdDl/casa-go/feed"
	"github.com/LdDl/casa-go/kinematics"
	"github.com/LdDl/casa-go/monitoring"
	"github.com/LdDl/casa-go/mot"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

var testCalibration = kinematics.Calibration{MicronsPerPixel: 1.0, FramesPerSecond: 50.0}

// threeCells returns frames with a fast straight swimmer, an immotile cell and a slow circling cell
func threeCells(n int) [][]mot.Detection {
	frames := make([][]mot.Detection, n)
	for i := range frames {
		fi := float64(i)
		angle := 0.04 * fi
		frames[i] = []mot.Detection{
			mot.NewDetection(fi, 100, 20),
			mot.NewDetection(50, 300, 20),
			mot.NewDetection(200+10*math.Cos(angle), 200+10*math.Sin(angle), 20),
		}
	}
	return frames
}

// jittery delays every frame a little so workers complete out of order
func jittery(src feed.Source) feed.Source {
	return feed.SourceFunc(func(ctx context.Context, frameIndex int) ([]mot.Detection, error) {
		time.Sleep(time.Duration((frameIndex*7919)%5) * 50 * time.Microsecond)
		return src.Detections(ctx, frameIndex)
	})
}

func testParameters() Parameters {
	params := DefaultParameters()
	params.DetectWorkers = 4
	params.KinematicsWorkers = 2
	params.BufferFrames = 8
	return params
}

type recordingSink struct {
	mu      sync.Mutex
	results []*Result
	err     error
}

func (s *recordingSink) SaveRun(ctx context.Context, result *Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.results = append(s.results, result)
	return nil
}

func TestRunThreeCells(t *testing.T) {
	t.Parallel()
	source := jittery(feed.NewFrames(threeCells(100)))
	sink := &recordingSink{}
	analyzer, err := NewAnalyzer(testCalibration, testParameters(), WithSink(sink))
	require.NoError(t, err)

	result, err := analyzer.Run(context.Background(), source)
	require.NoError(t, err)

	assert.Equal(t, Stats{Frames: 100, TracksCreated: 3}, result.Stats)
	require.Len(t, result.Tracks, 3)
	for i, track := range result.Tracks {
		assert.Equal(t, i+1, track.TrackID)
		assert.Equal(t, 100, track.PointCount)
		assert.InDelta(t, 99.0/50.0, track.Duration, 1e-9)
	}

	straight, still, circling := result.Tracks[0], result.Tracks[1], result.Tracks[2]
	assert.InDelta(t, 50.0, straight.VCL, 1e-6)
	assert.InDelta(t, 1.0, straight.LIN, 1e-9)
	assert.Equal(t, kinematics.GradeProgressive, straight.Grade)
	assert.Equal(t, 0.0, still.VCL)
	assert.Equal(t, kinematics.GradeImmotile, still.Grade)
	assert.InDelta(t, 20.0, circling.VCL, 0.1)
	assert.Equal(t, kinematics.GradeNonProgressive, circling.Grade)

	assert.Equal(t, 3, result.Aggregate.TrackCount)
	assert.InDelta(t, 200.0/3.0, result.Aggregate.TotalMotilityPct, 1e-9)
	assert.InDelta(t, 100.0/3.0, result.Aggregate.ProgressiveMotilityPct, 1e-9)
	assert.Equal(t, casa.ClassificationNormal, result.Aggregate.Classification)

	require.Len(t, sink.results, 1)
	assert.Same(t, result, sink.results[0])
	assert.Equal(t, testCalibration, result.Calibration)
	assert.False(t, result.FinishedAt.Before(result.StartedAt))
}

func TestRunIsDeterministic(t *testing.T) {
	t.Parallel()
	frames := threeCells(60)
	ignoreRun := cmpopts.IgnoreFields(Result{}, "RunID", "StartedAt", "FinishedAt")
	for _, matching := range []mot.MatchingAlgorithm{mot.MatchingAlgorithmGreedy, mot.MatchingAlgorithmHungarian} {
		params := testParameters()
		params.Matching = matching
		sequential := params
		sequential.DetectWorkers = 1
		sequential.KinematicsWorkers = 1

		want, err := RunAnalysis(context.Background(), feed.NewFrames(frames), testCalibration, sequential)
		require.NoError(t, err)
		got, err := RunAnalysis(context.Background(), jittery(feed.NewFrames(frames)), testCalibration, params)
		require.NoError(t, err)
		if diff := cmp.Diff(want, got, ignoreRun); diff != "" {
			t.Errorf("%s: concurrent run differs from sequential run (-want +got):\n%s", matching, diff)
		}
		assert.NotEqual(t, want.RunID, got.RunID)
	}
}

func TestRunEmptyFeed(t *testing.T) {
	t.Parallel()
	result, err := RunAnalysis(context.Background(), feed.NewFrames(nil), testCalibration, testParameters())
	require.NoError(t, err)
	want := casa.AggregateResult{Classification: casa.ClassificationUnknown}
	if diff := cmp.Diff(want, result.Aggregate); diff != "" {
		t.Errorf("aggregate mismatch (-want +got):\n%s", diff)
	}
	assert.Empty(t, result.Tracks)
	assert.Equal(t, Stats{}, result.Stats)
}

func TestRunUnavailableFramesAreGaps(t *testing.T) {
	t.Parallel()
	// Two unreadable frames stay within default tolerance of 3 missed frames
	source := feed.NewFrames(threeCells(100), 40, 41)
	result, err := RunAnalysis(context.Background(), source, testCalibration, testParameters())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Stats.UnavailableFrames)
	assert.Equal(t, 3, result.Stats.TracksCreated)
	require.Len(t, result.Tracks, 3)
	for _, track := range result.Tracks {
		assert.Equal(t, 98, track.PointCount)
	}
}

func TestRunRejectsShortTracks(t *testing.T) {
	t.Parallel()
	frames := threeCells(50)
	// Debris visible for 3 frames only
	for i := 10; i < 13; i++ {
		frames[i] = append(frames[i], mot.NewDetection(400, 400, 30))
	}
	result, err := RunAnalysis(context.Background(), feed.NewFrames(frames), testCalibration, testParameters())
	require.NoError(t, err)
	assert.Equal(t, 4, result.Stats.TracksCreated)
	assert.Equal(t, 1, result.Stats.TracksRejected)
	assert.Len(t, result.Tracks, 3)
}

func TestRunCancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// Endless stream, cancelled while running
	source := feed.SourceFunc(func(ctx context.Context, frameIndex int) ([]mot.Detection, error) {
		if frameIndex == 20 {
			cancel()
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return []mot.Detection{mot.NewDetection(float64(frameIndex%100), 10, 20)}, nil
	})
	sink := &recordingSink{}
	analyzer, err := NewAnalyzer(testCalibration, testParameters(), WithSink(sink))
	require.NoError(t, err)

	result, err := analyzer.Run(ctx, source)
	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, errors.Is(err, ErrCancelled))
	assert.Empty(t, sink.results)
}

func TestRunSourceFailure(t *testing.T) {
	t.Parallel()
	broken := errors.New("decoder crashed")
	frames := feed.NewFrames(threeCells(30))
	source := feed.SourceFunc(func(ctx context.Context, frameIndex int) ([]mot.Detection, error) {
		if frameIndex == 7 {
			return nil, broken
		}
		return frames.Detections(ctx, frameIndex)
	})
	result, err := RunAnalysis(context.Background(), source, testCalibration, testParameters())
	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, errors.Is(err, broken))
	assert.False(t, errors.Is(err, ErrCancelled))
}

func TestRunSinkFailure(t *testing.T) {
	t.Parallel()
	sink := &recordingSink{err: errors.New("disk full")}
	analyzer, err := NewAnalyzer(testCalibration, testParameters(), WithSink(sink))
	require.NoError(t, err)
	_, err = analyzer.Run(context.Background(), feed.NewFrames(threeCells(20)))
	assert.ErrorContains(t, err, "disk full")
}

func TestRunConfigurationErrors(t *testing.T) {
	t.Parallel()
	source := feed.NewFrames(threeCells(10))

	_, err := RunAnalysis(context.Background(), source, kinematics.Calibration{MicronsPerPixel: 1, FramesPerSecond: 0}, testParameters())
	assert.True(t, config.IsValidationError(err))

	params := testParameters()
	params.MaxMissedFrames = -1
	_, err = RunAnalysis(context.Background(), source, testCalibration, params)
	require.True(t, config.IsValidationError(err))
	var verr *config.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "max_missed_frames", verr.Field)

	params = testParameters()
	params.SmoothingWindow = 0
	_, err = RunAnalysis(context.Background(), source, testCalibration, params)
	assert.True(t, config.IsValidationError(err))
}

func TestParametersFromConfig(t *testing.T) {
	t.Parallel()
	params, err := ParametersFromConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultParameters(), params)
	assert.Equal(t, mot.MatchingAlgorithmGreedy, params.Matching)
	assert.Equal(t, kinematics.DefaultMotilityThresholds(), params.Thresholds)

	cfg := config.EmptyAnalysisConfig()
	hungarian, kalman, window := "hungarian", "kalman", 7
	cfg.Matching = &hungarian
	cfg.Smoothing = &kalman
	cfg.SmoothingWindow = &window
	params, err = ParametersFromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, mot.MatchingAlgorithmHungarian, params.Matching)
	assert.Equal(t, kinematics.SmoothingKalman, params.Smoothing)
	assert.Equal(t, 7, params.SmoothingWindow)

	missed := -3
	cfg.MaxMissedFrames = &missed
	_, err = ParametersFromConfig(cfg)
	assert.True(t, config.IsValidationError(err))
}
