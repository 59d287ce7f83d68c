package jobs

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jo-hoe/meetscribe/internal/common"
)

// ErrJobNotFound is returned when a job id has no record.
var ErrJobNotFound = errors.New("job not found")

// ErrInvalidTransition is returned when Advance is asked to leave the
// allowed state graph.
var ErrInvalidTransition = errors.New("invalid state transition")

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	// Busy timeout to avoid SQLITE_BUSY in concurrent access.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)", path, common.SQLiteBusyTimeoutMS)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		source_path TEXT NOT NULL,
		original_filename TEXT NOT NULL,
		duration_seconds REAL NOT NULL DEFAULT 0,
		speaker_count_hint INTEGER,
		compressed_path TEXT,
		resampled_path TEXT,
		subtitle_path TEXT,
		turn_path TEXT,
		annotated_path TEXT,
		num_speakers INTEGER NOT NULL DEFAULT 0,
		error_detail TEXT,
		created_at TEXT NOT NULL,
		processed_at TEXT
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CreateJob(job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	if job.ID == "" {
		return errors.New("job.ID is required")
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT INTO jobs (id, state, source_path, original_filename, speaker_count_hint, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		job.ID, string(job.State), job.SourcePath, job.OriginalFilename,
		job.SpeakerCountHint, job.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Advance(id string, next State, result StageResult) error {
	job, err := s.GetJob(id)
	if err != nil {
		return err
	}
	if !ValidTransition(job.State, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.State, next)
	}
	apply(job, next, result)

	var processed *string
	if job.ProcessedAt != nil {
		ts := job.ProcessedAt.UTC().Format(time.RFC3339Nano)
		processed = &ts
	}
	_, err = s.db.Exec(
		`UPDATE jobs SET state = ?, duration_seconds = ?, compressed_path = ?, resampled_path = ?,
			subtitle_path = ?, turn_path = ?, annotated_path = ?, num_speakers = ?,
			error_detail = ?, processed_at = ?
		 WHERE id = ?`,
		string(job.State), job.DurationSeconds,
		nullable(job.Outputs.CompressedPath), nullable(job.Outputs.ResampledPath),
		nullable(job.Outputs.SubtitlePath), nullable(job.Outputs.TurnPath),
		nullable(job.Outputs.AnnotatedPath), job.NumSpeakers,
		job.ErrorDetail, processed, id,
	)
	if err != nil {
		return fmt.Errorf("advance job: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetJob(id string) (*Job, error) {
	row := s.db.QueryRow(selectColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (s *SQLiteStore) ListJobs() ([]*Job, error) {
	rows, err := s.db.Query(selectColumns + ` FROM jobs ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteJob(id string) error {
	res, err := s.db.Exec(`DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const selectColumns = `SELECT id, state, source_path, original_filename, duration_seconds,
	speaker_count_hint, compressed_path, resampled_path, subtitle_path, turn_path,
	annotated_path, num_speakers, error_detail, created_at, processed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var state string
	var hint sql.NullInt64
	var compressed, resampled, subtitlePath, turnPath, annotated, errDetail, created, processed sql.NullString

	if err := row.Scan(
		&job.ID,
		&state,
		&job.SourcePath,
		&job.OriginalFilename,
		&job.DurationSeconds,
		&hint,
		&compressed,
		&resampled,
		&subtitlePath,
		&turnPath,
		&annotated,
		&job.NumSpeakers,
		&errDetail,
		&created,
		&processed,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}

	job.State = State(state)
	if hint.Valid {
		v := int(hint.Int64)
		job.SpeakerCountHint = &v
	}
	job.Outputs = Outputs{
		CompressedPath: compressed.String,
		ResampledPath:  resampled.String,
		SubtitlePath:   subtitlePath.String,
		TurnPath:       turnPath.String,
		AnnotatedPath:  annotated.String,
	}
	if errDetail.Valid {
		v := errDetail.String
		job.ErrorDetail = &v
	}
	if created.Valid {
		if t, err := time.Parse(time.RFC3339Nano, created.String); err == nil {
			job.CreatedAt = t
		}
	}
	if processed.Valid {
		if t, err := time.Parse(time.RFC3339Nano, processed.String); err == nil {
			job.ProcessedAt = &t
		}
	}
	return &job, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
