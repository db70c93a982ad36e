package feed

import (
	"encoding/csv"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/LdDl/casa-go/mot"
	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"
)

// MaxFrameIndex bounds frame column of detections CSV. Frames are held densely, one slot per index.
const MaxFrameIndex = 1 << 20

// DetectionRecord is a single row of detections CSV: frame,x,y,area
type DetectionRecord struct {
	Frame int     `csv:"frame"`
	X     float64 `csv:"x"`
	Y     float64 `csv:"y"`
	Area  float64 `csv:"area"`
}

// LoadCSV reads detections CSV file
func LoadCSV(path string) (*Frames, error) {
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, errors.Wrap(err, "can't open detections file")
	}
	defer file.Close()
	frames, err := ParseCSV(file)
	if err != nil {
		return nil, errors.Wrapf(err, "can't parse detections file '%s'", path)
	}
	return frames, nil
}

// ParseCSV reads detections with header row frame,x,y,area. Rows may come in any order.
// Lines starting with '#' are ignored. Frames without rows are empty frames, not gaps.
func ParseCSV(in io.Reader) (*Frames, error) {
	reader := csv.NewReader(in)
	reader.Comment = '#'
	reader.TrimLeadingSpace = true

	records := []*DetectionRecord{}
	if err := gocsv.UnmarshalCSV(reader, &records); err != nil {
		return nil, errors.Wrap(err, "can't unmarshal detections")
	}

	lastFrame := -1
	for i, record := range records {
		if record.Frame < 0 {
			return nil, errors.Errorf("row %d: negative frame index %d", i+1, record.Frame)
		}
		if record.Frame > MaxFrameIndex {
			return nil, errors.Errorf("row %d: frame index %d exceeds %d", i+1, record.Frame, MaxFrameIndex)
		}
		if !finite(record.X) || !finite(record.Y) || !finite(record.Area) || record.Area < 0 {
			return nil, errors.Errorf("row %d: bad detection (%f, %f, area %f)", i+1, record.X, record.Y, record.Area)
		}
		if record.Frame > lastFrame {
			lastFrame = record.Frame
		}
	}

	frames := make([][]mot.Detection, lastFrame+1)
	for _, record := range records {
		frames[record.Frame] = append(frames[record.Frame], mot.NewDetection(record.X, record.Y, record.Area))
	}
	return NewFrames(frames), nil
}

// WriteCSV writes in-memory feed back as detections CSV
func WriteCSV(out io.Writer, frames *Frames) error {
	records := []*DetectionRecord{}
	for idx, detections := range frames.frames {
		for _, d := range detections {
			records = append(records, &DetectionRecord{Frame: idx, X: d.X, Y: d.Y, Area: d.Area})
		}
	}
	return gocsv.Marshal(&records, out)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
