package db

import (
	"path/filepath"
	"testing"

	"github.com/dtnitsch/regscrape/models"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()

	// Use in-memory database for tests
	database := &DB{path: ":memory:"}
	var err error
	database.DB, err = openDB(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	if err := database.InitSchema(); err != nil {
		t.Fatalf("failed to initialize schema: %v", err)
	}

	return database
}

func TestOpen_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ledger.db")

	database, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer database.Close()

	if database.Path() != path {
		t.Errorf("Path() = %q, want %q", database.Path(), path)
	}
	if err := database.InitSchema(); err != nil {
		t.Errorf("InitSchema() second call error = %v", err)
	}
}

func TestStartAndFinishRun(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	runID, err := db.StartRun("links")
	if err != nil {
		t.Fatalf("StartRun() error = %v", err)
	}
	if runID == 0 {
		t.Fatal("StartRun() returned 0 run ID")
	}

	run, err := db.GetRun(runID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if run.Status != "running" {
		t.Errorf("run.Status = %q, want running", run.Status)
	}
	if run.UntilStage != "links" {
		t.Errorf("run.UntilStage = %q, want links", run.UntilStage)
	}
	if run.FinishedAt.Valid {
		t.Error("run.FinishedAt is set before FinishRun")
	}

	if err := db.FinishRun(runID, "success"); err != nil {
		t.Fatalf("FinishRun() error = %v", err)
	}

	run, err = db.GetRun(runID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if run.Status != "success" {
		t.Errorf("run.Status = %q, want success", run.Status)
	}
	if !run.FinishedAt.Valid {
		t.Error("run.FinishedAt not set after FinishRun")
	}
}

func TestGetRun_NotFound(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	if _, err := db.GetRun(42); err == nil {
		t.Error("GetRun() expected error for unknown run")
	}
}

func TestListRuns_NewestFirst(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	var ids []int64
	for i := 0; i < 3; i++ {
		id, err := db.StartRun("")
		if err != nil {
			t.Fatalf("StartRun() error = %v", err)
		}
		ids = append(ids, id)
	}

	runs, err := db.ListRuns(2)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("ListRuns() returned %d runs, want 2", len(runs))
	}
	if runs[0].RunID != ids[2] || runs[1].RunID != ids[1] {
		t.Errorf("ListRuns() order = [%d %d], want [%d %d]", runs[0].RunID, runs[1].RunID, ids[2], ids[1])
	}
}

func TestRecordFetchErrors(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	runID, _ := db.StartRun("")
	records := []models.ErrorRecord{
		{Identifier: "101", StatusCode: 500},
		{Identifier: "102", StatusCode: 403},
	}

	if err := db.RecordFetchErrors(runID, "responses", records); err != nil {
		t.Fatalf("RecordFetchErrors() error = %v", err)
	}
	if err := db.RecordFetchErrors(runID, "regulations", nil); err != nil {
		t.Fatalf("RecordFetchErrors() with no records error = %v", err)
	}

	got, err := db.GetFetchErrors(runID)
	if err != nil {
		t.Fatalf("GetFetchErrors() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("GetFetchErrors() returned %d records, want 2", len(got))
	}
	if got[0].Identifier != "101" || got[0].StatusCode != 500 || got[0].Stage != "responses" {
		t.Errorf("first error = %+v", got[0])
	}

	run, err := db.GetRun(runID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if run.ErrorCount != 2 {
		t.Errorf("run.ErrorCount = %d, want 2", run.ErrorCount)
	}
}

func TestRecordStage(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	runID, _ := db.StartRun("")
	events := []StageEvent{
		{Stage: "typeahead", CacheHit: true, ItemCount: 300},
		{Stage: "responses", CacheHit: false, ItemCount: 120, ErrorCount: 3},
	}
	for _, ev := range events {
		if err := db.RecordStage(runID, ev); err != nil {
			t.Fatalf("RecordStage() error = %v", err)
		}
	}

	got, err := db.GetStageEvents(runID)
	if err != nil {
		t.Fatalf("GetStageEvents() error = %v", err)
	}
	if len(got) != len(events) {
		t.Fatalf("GetStageEvents() returned %d events, want %d", len(got), len(events))
	}
	for i := range events {
		if got[i] != events[i] {
			t.Errorf("event %d = %+v, want %+v", i, got[i], events[i])
		}
	}
}

func TestRecordRawReplies(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	runID, _ := db.StartRun("")
	replies := []models.RawReply{{Name: "FHS Physics", Reply: "Sorry, I cannot help"}}

	if err := db.RecordRawReplies(runID, replies); err != nil {
		t.Fatalf("RecordRawReplies() error = %v", err)
	}

	got, err := db.GetRawReplies(runID)
	if err != nil {
		t.Fatalf("GetRawReplies() error = %v", err)
	}
	if len(got) != 1 || got[0] != replies[0] {
		t.Errorf("GetRawReplies() = %+v, want %+v", got, replies)
	}
}

func TestRecordPage_Upserts(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	runID, _ := db.StartRun("")
	page := PageRecord{
		CourseID:    7,
		CourseName:  "FHS History",
		URL:         "https://example.org/Regulation?code=fhs-hist",
		Title:       "FHS History",
		Language:    "en",
		SizeBytes:   1024,
		ContentHash: "abc",
	}
	if err := db.RecordPage(runID, page); err != nil {
		t.Fatalf("RecordPage() error = %v", err)
	}

	page.ContentHash = "def"
	page.Title = ""
	if err := db.RecordPage(runID, page); err != nil {
		t.Fatalf("RecordPage() second call error = %v", err)
	}

	var count int
	var hash string
	var title *string
	err := db.QueryRow("SELECT COUNT(*), MAX(content_hash), MAX(title) FROM regulation_pages WHERE run_id = ?", runID).
		Scan(&count, &hash, &title)
	if err != nil {
		t.Fatalf("query error = %v", err)
	}
	if count != 1 {
		t.Errorf("page rows = %d, want 1", count)
	}
	if hash != "def" {
		t.Errorf("content_hash = %q, want def", hash)
	}
	if title != nil {
		t.Errorf("title = %q, want NULL", *title)
	}
}

func TestNewNullString(t *testing.T) {
	if NewNullString("").Valid {
		t.Error("NewNullString(\"\") should be invalid")
	}
	if ns := NewNullString("x"); !ns.Valid || ns.String != "x" {
		t.Errorf("NewNullString(\"x\") = %+v", ns)
	}
}
