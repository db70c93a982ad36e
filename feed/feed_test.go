package feed

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/LdDl/casa-go/mot"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFramesDetections(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	frames := NewFrames([][]mot.Detection{
		{mot.NewDetection(1, 2, 10)},
		{},
		{mot.NewDetection(3, 4, 10), mot.NewDetection(5, 6, 12)},
	}, 1)

	assert.Equal(t, 3, frames.Len())

	got, err := frames.Detections(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []mot.Detection{{X: 1, Y: 2, Area: 10}}, got)

	// Caller owns returned slice
	got[0].X = 100
	again, err := frames.Detections(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1.0, again[0].X)

	_, err = frames.Detections(ctx, 1)
	assert.True(t, errors.Is(err, ErrFrameUnavailable))

	got, err = frames.Detections(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	_, err = frames.Detections(ctx, 3)
	assert.True(t, errors.Is(err, ErrEndOfStream))

	_, err = frames.Detections(ctx, -1)
	assert.Error(t, err)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = frames.Detections(cancelled, 0)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestSourceFunc(t *testing.T) {
	t.Parallel()
	var src Source = SourceFunc(func(ctx context.Context, frameIndex int) ([]mot.Detection, error) {
		if frameIndex > 0 {
			return nil, ErrEndOfStream
		}
		return []mot.Detection{mot.NewDetection(0, 0, 1)}, nil
	})
	got, err := src.Detections(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	_, err = src.Detections(context.Background(), 1)
	assert.Equal(t, ErrEndOfStream, err)
}

func TestParseCSV(t *testing.T) {
	t.Parallel()
	input := `# produced by blob detector
frame,x,y,area
0,10.5,20,30
2,11,21.5,28
0,100,200,25
`
	frames, err := ParseCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Equal(t, 3, frames.Len())

	ctx := context.Background()
	first, err := frames.Detections(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []mot.Detection{{X: 10.5, Y: 20, Area: 30}, {X: 100, Y: 200, Area: 25}}, first)

	empty, err := frames.Detections(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, empty)

	last, err := frames.Detections(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []mot.Detection{{X: 11, Y: 21.5, Area: 28}}, last)
}

func TestParseCSVErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		input string
	}{
		{"negative frame", "frame,x,y,area\n-1,1,1,1\n"},
		{"frame too far", "frame,x,y,area\n0,1,1,1\n2000000000,1,1,1\n"},
		{"negative area", "frame,x,y,area\n0,1,1,-5\n"},
		{"not a number", "frame,x,y,area\n0,abc,1,1\n"},
		{"not finite", "frame,x,y,area\n0,NaN,1,1\n"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseCSV(strings.NewReader(tt.input))
			assert.Error(t, err)
		})
	}
}

func TestLoadAndWriteCSV(t *testing.T) {
	t.Parallel()
	frames := NewFrames([][]mot.Detection{
		{mot.NewDetection(1, 2, 10), mot.NewDetection(3, 4, 11)},
		nil,
		{mot.NewDetection(5.5, 6.25, 12)},
	})
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, frames))

	path := filepath.Join(t.TempDir(), "detections.csv")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))

	loaded, err := LoadCSV(path)
	require.NoError(t, err)
	assert.Equal(t, frames.frames, loaded.frames)

	_, err = LoadCSV(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}
