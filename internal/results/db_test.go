package results

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/docqa/internal/orchestrator"
)

// tempDBPath returns a path to a temp database file.
func tempDBPath(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	return filepath.Join(dir, "test.db")
}

// setupTestDB creates a new temporary database for testing.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(DriverModernc, tempDBPath(t))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

func createTestBatch(t *testing.T, db *DB, started time.Time) *Batch {
	t.Helper()
	b := &Batch{
		ID:          uuid.NewString(),
		DatasetPath: "data/MMLongBench/dataset.json",
		Offset:      200,
		Limit:       100,
		Models:      "decompose=llama_3_1 image=qwen_vl_2_5",
		StartedAt:   started,
	}
	if err := db.CreateBatch(b); err != nil {
		t.Fatalf("CreateBatch failed: %v", err)
	}
	return b
}

func TestOpen(t *testing.T) {
	path := tempDBPath(t)
	db, err := Open("", path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	// Check path is set correctly
	if db.Path() != path {
		t.Errorf("Path() = %q, want %q", db.Path(), path)
	}

	// Check file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("database file does not exist at %s", path)
	}
}

func TestOpen_CreatesParentDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "runs.db")

	db, err := Open(DriverModernc, path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		t.Errorf("parent directory not created: %v", err)
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open("postgres", tempDBPath(t))
	if err == nil || !strings.Contains(err.Error(), "unsupported sqlite driver") {
		t.Fatalf("expected unsupported driver error, got %v", err)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	db := setupTestDB(t)

	// Running migrations again should be a no-op
	if err := db.Migrate(); err != nil {
		t.Fatalf("second Migrate failed: %v", err)
	}

	var version int
	if err := db.conn.QueryRow("SELECT MAX(version) FROM schema_version").Scan(&version); err != nil {
		t.Fatalf("read schema version: %v", err)
	}
	if version != 3 {
		t.Errorf("schema version = %d, want 3", version)
	}
}

func TestBatchLifecycle(t *testing.T) {
	db := setupTestDB(t)
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b := createTestBatch(t, db, started)

	got, err := db.GetBatch(b.ID)
	if err != nil {
		t.Fatalf("GetBatch failed: %v", err)
	}
	if got.Status != BatchRunning {
		t.Errorf("Status = %q, want %q", got.Status, BatchRunning)
	}
	if !got.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, started)
	}
	if got.FinishedAt != nil {
		t.Errorf("FinishedAt = %v, want nil", got.FinishedAt)
	}

	finished := started.Add(90 * time.Minute)
	if err := db.FinishBatch(b.ID, BatchStopped, finished); err != nil {
		t.Fatalf("FinishBatch failed: %v", err)
	}

	got, err = db.GetBatch(b.ID)
	if err != nil {
		t.Fatalf("GetBatch failed: %v", err)
	}
	if got.Status != BatchStopped {
		t.Errorf("Status = %q, want %q", got.Status, BatchStopped)
	}
	if got.FinishedAt == nil || !got.FinishedAt.Equal(finished) {
		t.Errorf("FinishedAt = %v, want %v", got.FinishedAt, finished)
	}

	if err := db.FinishBatch("missing", BatchCompleted, finished); err == nil {
		t.Error("expected error finishing unknown batch")
	}
}

func TestRecordRun(t *testing.T) {
	db := setupTestDB(t)
	b := createTestBatch(t, db, time.Now())

	done := &RunRow{
		ID:           uuid.NewString(),
		BatchID:      b.ID,
		SampleIndex:  201,
		DocumentID:   "report.pdf",
		Question:     "How many datasets are used?",
		SubQuestions: []string{"What tasks were evaluated?", "How many datasets in total?"},
		FinalAnswer:  "9 datasets across four tasks.",
		Status:       RunDone,
		Fallbacks:    1,
		DurationMS:   1534,
		CreatedAt:    time.Now(),
		Steps: []orchestrator.Step{
			{Index: 0, Question: "What tasks were evaluated?", Answer: "Four tasks.", UsedImages: true},
			{Index: 1, Question: "How many datasets in total?", Answer: "9"},
		},
	}
	failed := &RunRow{
		ID:          uuid.NewString(),
		BatchID:     b.ID,
		SampleIndex: 200,
		DocumentID:  "slides.pdf",
		Question:    "What color is the shirt?",
		Status:      RunFailed,
		Error:       "sub-question 2: text answer: connection reset",
		CreatedAt:   time.Now(),
	}
	for _, r := range []*RunRow{done, failed} {
		if err := db.RecordRun(r); err != nil {
			t.Fatalf("RecordRun failed: %v", err)
		}
	}

	runs, err := db.ListRuns(b.ID)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("len(runs) = %d, want 2", len(runs))
	}

	// Ordered by sample index
	if runs[0].ID != failed.ID || runs[1].ID != done.ID {
		t.Errorf("runs not ordered by sample index: %d, %d", runs[0].SampleIndex, runs[1].SampleIndex)
	}
	if runs[0].Error != failed.Error {
		t.Errorf("Error = %q, want %q", runs[0].Error, failed.Error)
	}
	if len(runs[0].Steps) != 0 {
		t.Errorf("failed run has %d steps, want 0", len(runs[0].Steps))
	}

	got := runs[1]
	if strings.Join(got.SubQuestions, "|") != strings.Join(done.SubQuestions, "|") {
		t.Errorf("SubQuestions = %v, want %v", got.SubQuestions, done.SubQuestions)
	}
	if len(got.Steps) != 2 {
		t.Fatalf("len(Steps) = %d, want 2", len(got.Steps))
	}
	if !got.Steps[0].UsedImages || got.Steps[1].UsedImages {
		t.Errorf("UsedImages = %v, %v, want true, false", got.Steps[0].UsedImages, got.Steps[1].UsedImages)
	}
	if got.Steps[1].Answer != "9" {
		t.Errorf("Steps[1].Answer = %q, want %q", got.Steps[1].Answer, "9")
	}

	counts, err := db.RunCounts(b.ID)
	if err != nil {
		t.Fatalf("RunCounts failed: %v", err)
	}
	if counts[RunDone] != 1 || counts[RunFailed] != 1 {
		t.Errorf("counts = %v, want 1 done and 1 failed", counts)
	}
}

func TestRecordRun_DuplicateStepRollsBack(t *testing.T) {
	db := setupTestDB(t)
	b := createTestBatch(t, db, time.Now())

	r := &RunRow{
		ID:        uuid.NewString(),
		BatchID:   b.ID,
		Question:  "q",
		Status:    RunDone,
		CreatedAt: time.Now(),
		Steps: []orchestrator.Step{
			{Index: 0, Question: "a", Answer: "1"},
			{Index: 0, Question: "a", Answer: "1"},
		},
	}
	if err := db.RecordRun(r); err == nil {
		t.Fatal("expected duplicate step error")
	}

	runs, err := db.ListRuns(b.ID)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("expected rollback, found %d runs", len(runs))
	}
}

func TestPurgeOldBatches(t *testing.T) {
	db := setupTestDB(t)
	old := createTestBatch(t, db, time.Now().Add(-48*time.Hour))
	createTestBatch(t, db, time.Now())

	if err := db.RecordRun(&RunRow{
		ID:        uuid.NewString(),
		BatchID:   old.ID,
		Question:  "q",
		Status:    RunDone,
		CreatedAt: time.Now(),
		Steps:     []orchestrator.Step{{Index: 0, Question: "q", Answer: "a"}},
	}); err != nil {
		t.Fatalf("RecordRun failed: %v", err)
	}

	count, err := db.PurgeOldBatches(24 * time.Hour)
	if err != nil {
		t.Fatalf("PurgeOldBatches failed: %v", err)
	}
	if count != 1 {
		t.Errorf("purged %d batches, want 1", count)
	}

	// Runs of the purged batch cascade away
	runs, err := db.ListRuns(old.ID)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("expected cascaded delete, found %d runs", len(runs))
	}
}

func TestListBatches(t *testing.T) {
	db := setupTestDB(t)
	now := time.Now().Truncate(time.Second)
	oldest := createTestBatch(t, db, now.Add(-2*time.Hour))
	middle := createTestBatch(t, db, now.Add(-time.Hour))
	newest := createTestBatch(t, db, now)

	all, err := db.ListBatches(0)
	if err != nil {
		t.Fatalf("ListBatches failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d batches, want 3", len(all))
	}
	want := []string{newest.ID, middle.ID, oldest.ID}
	for i, b := range all {
		if b.ID != want[i] {
			t.Errorf("batch %d = %s, want %s", i, b.ID, want[i])
		}
	}

	recent, err := db.ListBatches(2)
	if err != nil {
		t.Fatalf("ListBatches failed: %v", err)
	}
	if len(recent) != 2 || recent[0].ID != newest.ID {
		t.Errorf("unexpected limited list %+v", recent)
	}
}

func TestGetBatch_NotFound(t *testing.T) {
	db := setupTestDB(t)
	_, err := db.GetBatch("missing")
	if !errors.Is(err, ErrBatchNotFound) {
		t.Errorf("expected ErrBatchNotFound, got %v", err)
	}
}
