package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/LdDl/casa-go/config"
	"github.com/LdDl/casa-go/feed"
	"github.com/LdDl/casa-go/kinematics"
	"github.com/LdDl/casa-go/monitoring"
	"github.com/LdDl/casa-go/pipeline"
	"github.com/LdDl/casa-go/storage/sqlite"
	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"
)

func main() {
	var (
		detectionsPath  string
		configPath      string
		micronsPerPixel float64
		framesPerSecond float64
		dbPath          string
		jsonOut         string
		tracksCSV       string
		quiet           bool
	)
	flag.StringVar(&detectionsPath, "detections", "", "path to detections CSV (frame,x,y,area)")
	flag.StringVar(&configPath, "config", "", "path to analysis config JSON (optional)")
	flag.Float64Var(&micronsPerPixel, "microns-per-pixel", 0, "calibration: microns per pixel")
	flag.Float64Var(&framesPerSecond, "fps", 0, "calibration: frames per second")
	flag.StringVar(&dbPath, "db", "", "path to sqlite db to store the run (optional)")
	flag.StringVar(&jsonOut, "json-out", "", "write result JSON to file instead of stdout")
	flag.StringVar(&tracksCSV, "tracks-csv", "", "write per-track kinematics CSV (optional)")
	flag.BoolVar(&quiet, "quiet", false, "mute diagnostics")
	flag.Parse()

	if quiet {
		monitoring.SetLogger(nil)
	}
	if detectionsPath == "" {
		log.Fatalf("-detections must be provided")
	}

	cfg := config.EmptyAnalysisConfig()
	if configPath != "" {
		loaded, err := config.LoadAnalysisConfig(configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		cfg = loaded
	}
	params, err := pipeline.ParametersFromConfig(cfg)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	calibration := kinematics.Calibration{
		MicronsPerPixel: micronsPerPixel,
		FramesPerSecond: framesPerSecond,
	}

	source, err := feed.LoadCSV(detectionsPath)
	if err != nil {
		log.Fatalf("load detections: %v", err)
	}
	monitoring.Logf("[CLI] loaded %d frames from %s", source.Len(), detectionsPath)

	options := []pipeline.AnalyzerOption{}
	if dbPath != "" {
		store, err := sqlite.Open(dbPath)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer store.Close()
		options = append(options, pipeline.WithSink(store))
	}

	analyzer, err := pipeline.NewAnalyzer(calibration, params, options...)
	if err != nil {
		log.Fatalf("analysis parameters: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	result, err := analyzer.Run(ctx, source)
	if errors.Is(err, pipeline.ErrCancelled) {
		log.Printf("analysis cancelled")
		os.Exit(130)
	}
	if err != nil {
		log.Fatalf("analysis failed: %v", err)
	}

	if tracksCSV != "" {
		if err := writeTracksCSV(tracksCSV, result.Tracks); err != nil {
			log.Fatalf("write tracks: %v", err)
		}
	}
	if err := writeResult(jsonOut, result); err != nil {
		log.Fatalf("write result: %v", err)
	}
}

func writeResult(path string, result *pipeline.Result) error {
	var out io.Writer = os.Stdout
	if path != "" {
		file, err := os.Create(filepath.Clean(path))
		if err != nil {
			return errors.Wrap(err, "can't create result file")
		}
		defer file.Close()
		out = file
	}
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(result); err != nil {
		return errors.Wrap(err, "can't encode result")
	}
	if path != "" {
		fmt.Fprintf(os.Stderr, "result written to %s\n", path)
	}
	return nil
}

func writeTracksCSV(path string, tracks []kinematics.TrackResult) error {
	file, err := os.Create(filepath.Clean(path))
	if err != nil {
		return errors.Wrap(err, "can't create tracks file")
	}
	defer file.Close()
	if err := gocsv.MarshalFile(&tracks, file); err != nil {
		return errors.Wrap(err, "can't marshal tracks")
	}
	return nil
}
