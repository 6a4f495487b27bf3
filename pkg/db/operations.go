package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dtnitsch/regscrape/models"
)

// Run is one scrape invocation.
type Run struct {
	RunID      int64
	StartedAt  time.Time
	FinishedAt sql.NullTime
	UntilStage string
	Status     string
	ErrorCount int
}

// StageEvent records how a stage went within a run.
type StageEvent struct {
	Stage      string
	CacheHit   bool
	ItemCount  int
	ErrorCount int
}

// FetchError is a stored models.ErrorRecord.
type FetchError struct {
	Stage      string
	Identifier string
	StatusCode int
	CreatedAt  time.Time
}

// PageRecord describes a fetched regulation page.
type PageRecord struct {
	CourseID           int
	CourseName         string
	URL                string
	Title              string
	Language           string
	LanguageConfidence float64
	SizeBytes          int64
	ContentHash        string
}

// StartRun inserts a new run and returns its ID.
func (db *DB) StartRun(untilStage string) (int64, error) {
	result, err := db.Exec(`INSERT INTO runs (until_stage) VALUES (?)`, untilStage)
	if err != nil {
		return 0, fmt.Errorf("failed to start run: %w", err)
	}
	runID, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get run ID: %w", err)
	}
	return runID, nil
}

// FinishRun stamps the run with its final status.
func (db *DB) FinishRun(runID int64, status string) error {
	_, err := db.Exec(`
		UPDATE runs SET status = ?, finished_at = CURRENT_TIMESTAMP
		WHERE run_id = ?
	`, status, runID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return nil
}

// RecordStage stores the outcome of one stage.
func (db *DB) RecordStage(runID int64, ev StageEvent) error {
	_, err := db.Exec(`
		INSERT INTO stage_events (run_id, stage, cache_hit, item_count, error_count)
		VALUES (?, ?, ?, ?, ?)
	`, runID, ev.Stage, ev.CacheHit, ev.ItemCount, ev.ErrorCount)
	if err != nil {
		return fmt.Errorf("failed to record stage: %w", err)
	}
	return nil
}

// RecordFetchErrors stores the error records of a stage in one transaction.
func (db *DB) RecordFetchErrors(runID int64, stage string, records []models.ErrorRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, r := range records {
		_, err := tx.Exec(`
			INSERT INTO fetch_errors (run_id, stage, identifier, status_code)
			VALUES (?, ?, ?, ?)
		`, runID, stage, r.Identifier, r.StatusCode)
		if err != nil {
			return fmt.Errorf("failed to insert fetch error: %w", err)
		}
	}
	return tx.Commit()
}

// RecordRawReplies stores model output that failed to decode.
func (db *DB) RecordRawReplies(runID int64, replies []models.RawReply) error {
	for _, r := range replies {
		_, err := db.Exec(`
			INSERT INTO raw_replies (run_id, course_name, reply)
			VALUES (?, ?, ?)
		`, runID, r.Name, r.Reply)
		if err != nil {
			return fmt.Errorf("failed to insert raw reply: %w", err)
		}
	}
	return nil
}

// RecordPage upserts a fetched regulation page for the run.
func (db *DB) RecordPage(runID int64, p PageRecord) error {
	_, err := db.Exec(`
		INSERT INTO regulation_pages
			(run_id, course_id, course_name, url, title, language, language_confidence, size_bytes, content_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, course_id) DO UPDATE SET
			url = excluded.url,
			title = excluded.title,
			language = excluded.language,
			language_confidence = excluded.language_confidence,
			size_bytes = excluded.size_bytes,
			content_hash = excluded.content_hash
	`, runID, p.CourseID, p.CourseName, p.URL, NewNullString(p.Title), NewNullString(p.Language),
		p.LanguageConfidence, p.SizeBytes, p.ContentHash)
	if err != nil {
		return fmt.Errorf("failed to record page: %w", err)
	}
	return nil
}

// GetRun returns a single run.
func (db *DB) GetRun(runID int64) (*Run, error) {
	var r Run
	var until sql.NullString
	err := db.QueryRow(`
		SELECT r.run_id, r.started_at, r.finished_at, r.until_stage, r.status,
			(SELECT COUNT(*) FROM fetch_errors e WHERE e.run_id = r.run_id)
		FROM runs r WHERE r.run_id = ?
	`, runID).Scan(&r.RunID, &r.StartedAt, &r.FinishedAt, &until, &r.Status, &r.ErrorCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %d not found", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	r.UntilStage = until.String
	return &r, nil
}

// ListRuns returns the most recent runs first.
func (db *DB) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.Query(`
		SELECT r.run_id, r.started_at, r.finished_at, r.until_stage, r.status,
			(SELECT COUNT(*) FROM fetch_errors e WHERE e.run_id = r.run_id)
		FROM runs r
		ORDER BY r.run_id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var until sql.NullString
		if err := rows.Scan(&r.RunID, &r.StartedAt, &r.FinishedAt, &until, &r.Status, &r.ErrorCount); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.UntilStage = until.String
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetStageEvents returns the stage events of a run in pipeline order.
func (db *DB) GetStageEvents(runID int64) ([]StageEvent, error) {
	rows, err := db.Query(`
		SELECT stage, cache_hit, item_count, error_count
		FROM stage_events WHERE run_id = ?
		ORDER BY event_id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get stage events: %w", err)
	}
	defer rows.Close()

	var events []StageEvent
	for rows.Next() {
		var ev StageEvent
		if err := rows.Scan(&ev.Stage, &ev.CacheHit, &ev.ItemCount, &ev.ErrorCount); err != nil {
			return nil, fmt.Errorf("failed to scan stage event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// GetFetchErrors returns the error records of a run in insertion order.
func (db *DB) GetFetchErrors(runID int64) ([]FetchError, error) {
	rows, err := db.Query(`
		SELECT stage, identifier, status_code, created_at
		FROM fetch_errors WHERE run_id = ?
		ORDER BY error_id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get fetch errors: %w", err)
	}
	defer rows.Close()

	var out []FetchError
	for rows.Next() {
		var fe FetchError
		if err := rows.Scan(&fe.Stage, &fe.Identifier, &fe.StatusCode, &fe.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan fetch error: %w", err)
		}
		out = append(out, fe)
	}
	return out, rows.Err()
}

// GetRawReplies returns the undecodable replies of a run.
func (db *DB) GetRawReplies(runID int64) ([]models.RawReply, error) {
	rows, err := db.Query(`
		SELECT course_name, reply FROM raw_replies WHERE run_id = ? ORDER BY reply_id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get raw replies: %w", err)
	}
	defer rows.Close()

	var out []models.RawReply
	for rows.Next() {
		var r models.RawReply
		if err := rows.Scan(&r.Name, &r.Reply); err != nil {
			return nil, fmt.Errorf("failed to scan raw reply: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// NewNullString converts a string to sql.NullString (empty string = NULL)
func NewNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}
