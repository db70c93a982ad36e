// Package sqlite persists completed analysis runs into a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"net/url"
	"strings"
	"time"

	"github.com/LdDl/casa-go/casa"
	"github.com/LdDl/casa-go/kinematics"
	"github.com/LdDl/casa-go/pipeline"
	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	// ErrRunNotFound is returned when run with given ID is not stored
	ErrRunNotFound = errors.New("analysis run not found")
)

// Per-connection settings: name and value
var pragmas = [][2]string{
	{"busy_timeout", "5000"},
	{"foreign_keys", "1"},
	{"synchronous", "NORMAL"},
}

// DSN returns data source name for the sqlite driver with pragmas applied to every new connection
func DSN(path string) string {
	query := url.Values{}
	for _, pragma := range pragmas {
		query.Add("_pragma", pragma[0]+"("+pragma[1]+")")
	}
	return path + "?" + query.Encode()
}

// Store keeps analysis runs and per-track results. It implements pipeline.ResultSink.
type Store struct {
	db *sql.DB
}

var _ pipeline.ResultSink = (*Store)(nil)

// RunSummary is a stored run without its tracks
type RunSummary struct {
	RunID          uuid.UUID
	StartedAt      time.Time
	TrackCount     int
	Classification casa.Classification
}

// Open opens (or creates) database file and applies pending migrations
func Open(path string) (*Store, error) {
	if strings.Contains(path, "?") {
		return nil, errors.Errorf("database path '%s' must not contain query parameters", path)
	}
	db, err := sql.Open("sqlite", DSN(path))
	if err != nil {
		return nil, errors.Wrapf(err, "can't open database '%s'", path)
	}
	// SQLite allows a single writer
	db.SetMaxOpenConns(1)
	store, err := NewStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewStore wraps already opened database and applies pending migrations.
// Pragmas executed here reach a single pooled connection only: open db with DSN(path)
// or limit the pool to one connection so that every connection enforces foreign keys.
func NewStore(db *sql.DB) (*Store, error) {
	for _, pragma := range pragmas {
		statement := "PRAGMA " + pragma[0] + "=" + pragma[1]
		if _, err := db.Exec(statement); err != nil {
			return nil, errors.Wrapf(err, "can't apply '%s'", statement)
		}
	}
	store := &Store{db: db}
	if err := store.MigrateUp(); err != nil {
		return nil, err
	}
	return store, nil
}

// Close closes underlying database
func (store *Store) Close() error {
	return store.db.Close()
}

// MigrateUp applies every embedded migration not applied yet
func (store *Store) MigrateUp() error {
	m, err := store.newMigrate()
	if err != nil {
		return err
	}
	// m is not closed: that would close the shared *sql.DB
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, "migration up failed")
	}
	return nil
}

// MigrateVersion returns current schema version; 0 when nothing was applied
func (store *Store) MigrateVersion() (uint, bool, error) {
	m, err := store.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (store *Store) newMigrate() (*migrate.Migrate, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, errors.Wrap(err, "can't read embedded migrations")
	}
	driver, err := migratesqlite.WithInstance(store.db, &migratesqlite.Config{})
	if err != nil {
		return nil, errors.Wrap(err, "can't create sqlite migration driver")
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return nil, errors.Wrap(err, "can't create migrate instance")
	}
	return m, nil
}

// SaveRun stores run and its tracks in a single transaction
func (store *Store) SaveRun(ctx context.Context, result *pipeline.Result) error {
	tx, err := store.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "can't begin transaction")
	}
	defer tx.Rollback()

	agg := result.Aggregate
	_, err = tx.ExecContext(ctx, `
		INSERT INTO analysis_runs (
			run_id, started_at_ns, finished_at_ns, microns_per_pixel, frames_per_second,
			frames, unavailable_frames, tracks_created, tracks_rejected,
			track_count, total_motility_pct, progressive_motility_pct, non_progressive_pct, immotile_pct,
			avg_vcl, avg_vsl, avg_vap, avg_alh, avg_bcf, avg_lin, avg_str, avg_wob, classification
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.RunID.String(), result.StartedAt.UnixNano(), result.FinishedAt.UnixNano(),
		result.Calibration.MicronsPerPixel, result.Calibration.FramesPerSecond,
		result.Stats.Frames, result.Stats.UnavailableFrames, result.Stats.TracksCreated, result.Stats.TracksRejected,
		agg.TrackCount, agg.TotalMotilityPct, agg.ProgressiveMotilityPct, agg.NonProgressivePct, agg.ImmotilePct,
		agg.AvgVCL, agg.AvgVSL, agg.AvgVAP, agg.AvgALH, agg.AvgBCF, agg.AvgLIN, agg.AvgSTR, agg.AvgWOB,
		string(agg.Classification),
	)
	if err != nil {
		return errors.Wrapf(err, "can't insert run %s", result.RunID)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO track_results (
			run_id, track_id, vcl, vsl, vap, alh, bcf, lin, str, wob,
			duration, point_count, quality_score, grade
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "can't prepare track insert")
	}
	defer stmt.Close()
	for _, track := range result.Tracks {
		_, err := stmt.ExecContext(ctx,
			result.RunID.String(), track.TrackID, track.VCL, track.VSL, track.VAP, track.ALH, track.BCF,
			track.LIN, track.STR, track.WOB, track.Duration, track.PointCount, track.QualityScore, string(track.Grade),
		)
		if err != nil {
			return errors.Wrapf(err, "can't insert track %d of run %s", track.TrackID, result.RunID)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "can't commit run")
	}
	return nil
}

// LoadRun reads run with its tracks ordered by track ID
func (store *Store) LoadRun(ctx context.Context, runID uuid.UUID) (*pipeline.Result, error) {
	var (
		startedNs, finishedNs int64
		classification        string
	)
	result := &pipeline.Result{RunID: runID}
	agg := &result.Aggregate
	err := store.db.QueryRowContext(ctx, `
		SELECT started_at_ns, finished_at_ns, microns_per_pixel, frames_per_second,
			frames, unavailable_frames, tracks_created, tracks_rejected,
			track_count, total_motility_pct, progressive_motility_pct, non_progressive_pct, immotile_pct,
			avg_vcl, avg_vsl, avg_vap, avg_alh, avg_bcf, avg_lin, avg_str, avg_wob, classification
		FROM analysis_runs WHERE run_id = ?`, runID.String(),
	).Scan(
		&startedNs, &finishedNs, &result.Calibration.MicronsPerPixel, &result.Calibration.FramesPerSecond,
		&result.Stats.Frames, &result.Stats.UnavailableFrames, &result.Stats.TracksCreated, &result.Stats.TracksRejected,
		&agg.TrackCount, &agg.TotalMotilityPct, &agg.ProgressiveMotilityPct, &agg.NonProgressivePct, &agg.ImmotilePct,
		&agg.AvgVCL, &agg.AvgVSL, &agg.AvgVAP, &agg.AvgALH, &agg.AvgBCF, &agg.AvgLIN, &agg.AvgSTR, &agg.AvgWOB, &classification,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrRunNotFound, "run %s", runID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "can't read run %s", runID)
	}
	result.StartedAt = time.Unix(0, startedNs).UTC()
	result.FinishedAt = time.Unix(0, finishedNs).UTC()
	agg.Classification = casa.Classification(classification)

	tracks, err := store.ListTrackResults(ctx, runID)
	if err != nil {
		return nil, err
	}
	result.Tracks = tracks
	return result, nil
}

// ListTrackResults returns per-track results of a run ordered by track ID
func (store *Store) ListTrackResults(ctx context.Context, runID uuid.UUID) ([]kinematics.TrackResult, error) {
	rows, err := store.db.QueryContext(ctx, `
		SELECT track_id, vcl, vsl, vap, alh, bcf, lin, str, wob, duration, point_count, quality_score, grade
		FROM track_results WHERE run_id = ? ORDER BY track_id`, runID.String())
	if err != nil {
		return nil, errors.Wrapf(err, "can't query tracks of run %s", runID)
	}
	defer rows.Close()

	tracks := make([]kinematics.TrackResult, 0)
	for rows.Next() {
		var (
			track kinematics.TrackResult
			grade string
		)
		err := rows.Scan(&track.TrackID, &track.VCL, &track.VSL, &track.VAP, &track.ALH, &track.BCF,
			&track.LIN, &track.STR, &track.WOB, &track.Duration, &track.PointCount, &track.QualityScore, &grade)
		if err != nil {
			return nil, errors.Wrap(err, "can't scan track")
		}
		track.Grade = kinematics.MotilityGrade(grade)
		tracks = append(tracks, track)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "can't iterate tracks")
	}
	return tracks, nil
}

// ListRuns returns stored runs, most recent first
func (store *Store) ListRuns(ctx context.Context) ([]RunSummary, error) {
	rows, err := store.db.QueryContext(ctx, `
		SELECT run_id, started_at_ns, track_count, classification
		FROM analysis_runs ORDER BY started_at_ns DESC, run_id`)
	if err != nil {
		return nil, errors.Wrap(err, "can't query runs")
	}
	defer rows.Close()

	runs := make([]RunSummary, 0)
	for rows.Next() {
		var (
			rawID          string
			startedNs      int64
			summary        RunSummary
			classification string
		)
		if err := rows.Scan(&rawID, &startedNs, &summary.TrackCount, &classification); err != nil {
			return nil, errors.Wrap(err, "can't scan run")
		}
		summary.RunID, err = uuid.Parse(rawID)
		if err != nil {
			return nil, errors.Wrapf(err, "bad run id '%s'", rawID)
		}
		summary.StartedAt = time.Unix(0, startedNs).UTC()
		summary.Classification = casa.Classification(classification)
		runs = append(runs, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "can't iterate runs")
	}
	return runs, nil
}

// DeleteRun removes run and its tracks
func (store *Store) DeleteRun(ctx context.Context, runID uuid.UUID) error {
	tx, err := store.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "can't begin transaction")
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM track_results WHERE run_id = ?`, runID.String()); err != nil {
		return errors.Wrapf(err, "can't delete tracks of run %s", runID)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM analysis_runs WHERE run_id = ?`, runID.String())
	if err != nil {
		return errors.Wrapf(err, "can't delete run %s", runID)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "can't count deleted rows")
	}
	if affected == 0 {
		return errors.Wrapf(ErrRunNotFound, "run %s", runID)
	}
	return errors.Wrap(tx.Commit(), "can't commit deletion")
}
