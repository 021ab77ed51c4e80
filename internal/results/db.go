package results

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"github.com/ShayCichocki/docqa/internal/orchestrator"
)

// ErrBatchNotFound is returned by GetBatch for an unknown batch ID.
var ErrBatchNotFound = errors.New("batch not found")

// SQL drivers the run log can be opened with. The pure Go driver is the
// default; the cgo driver is available when the binary is built with cgo.
const (
	DriverModernc = "sqlite"
	DriverCgo     = "sqlite3"
)

// BatchStatus is the lifecycle state of a batch.
type BatchStatus string

const (
	BatchRunning   BatchStatus = "running"
	BatchCompleted BatchStatus = "completed"
	BatchStopped   BatchStatus = "stopped"
	BatchFailed    BatchStatus = "failed"
)

// RunStatus is the outcome of one document.
type RunStatus string

const (
	RunDone   RunStatus = "done"
	RunFailed RunStatus = "failed"
)

// Batch is one invocation of the batch driver.
type Batch struct {
	ID          string      `json:"id"`
	DatasetPath string      `json:"dataset_path"`
	Offset      int         `json:"offset"`
	Limit       int         `json:"limit"`
	Models      string      `json:"models"`
	StartedAt   time.Time   `json:"started_at"`
	FinishedAt  *time.Time  `json:"finished_at"`
	Status      BatchStatus `json:"status"`
}

// RunRow is one document's run as stored in the log.
type RunRow struct {
	ID           string              `json:"id"`
	BatchID      string              `json:"batch_id"`
	SampleIndex  int                 `json:"sample_index"`
	DocumentID   string              `json:"document_id"`
	Question     string              `json:"question"`
	SubQuestions []string            `json:"sub_questions"`
	FinalAnswer  string              `json:"final_answer"`
	Status       RunStatus           `json:"status"`
	Error        string              `json:"error"`
	Fallbacks    int                 `json:"fallbacks"`
	Degraded     int                 `json:"degraded"`
	DurationMS   int64               `json:"duration_ms"`
	CreatedAt    time.Time           `json:"created_at"`
	Steps        []orchestrator.Step `json:"steps"`
}

// DB wraps an SQLite database holding the run log.
type DB struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
}

// Open opens an SQLite database at the given path with driver, which is
// DriverModernc when empty. It creates the parent directories if they
// don't exist. WAL mode is enabled for concurrent reads.
func Open(driver, path string) (*DB, error) {
	if driver == "" {
		driver = DriverModernc
	}
	if driver != DriverModernc && driver != DriverCgo {
		return nil, fmt.Errorf("unsupported sqlite driver %q", driver)
	}

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open(driver, path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// PRAGMAs apply per connection
	conn.SetMaxOpenConns(1)

	// Enable WAL mode for concurrent reads
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &DB{conn: conn, path: path}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Close()
}

// Path returns the path to the database file.
func (db *DB) Path() string {
	return db.path
}

// Migrate applies all pending schema migrations.
func (db *DB) Migrate() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	// Create schema version table
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	// Get current version
	var currentVersion int
	row := db.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	// Apply migrations
	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Batches},
		{2, migrationV2Runs},
		{3, migrationV3Steps},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := db.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}

		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// Migration SQL statements
const migrationV1Batches = `
CREATE TABLE IF NOT EXISTS batches (
	id TEXT PRIMARY KEY,
	dataset_path TEXT NOT NULL,
	offset_start INTEGER NOT NULL DEFAULT 0,
	limit_count INTEGER NOT NULL DEFAULT 0,
	models TEXT,
	started_at DATETIME NOT NULL,
	finished_at DATETIME,
	status TEXT NOT NULL DEFAULT 'running'
);
`

const migrationV2Runs = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	batch_id TEXT NOT NULL REFERENCES batches(id) ON DELETE CASCADE,
	sample_index INTEGER NOT NULL,
	document_id TEXT NOT NULL,
	question TEXT NOT NULL,
	sub_questions TEXT,
	final_answer TEXT,
	status TEXT NOT NULL,
	error TEXT,
	fallbacks INTEGER NOT NULL DEFAULT 0,
	degraded INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_batch_id ON runs(batch_id);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
`

const migrationV3Steps = `
CREATE TABLE IF NOT EXISTS steps (
	run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	idx INTEGER NOT NULL,
	question TEXT NOT NULL,
	answer TEXT NOT NULL,
	used_images INTEGER NOT NULL DEFAULT 0,
	degraded INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, idx)
);
`

// Transaction runs the given function within a transaction.
func (db *DB) Transaction(fn func(tx *sql.Tx) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

// CreateBatch inserts a batch row.
func (db *DB) CreateBatch(b *Batch) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if b.Status == "" {
		b.Status = BatchRunning
	}
	_, err := db.conn.Exec(`
		INSERT INTO batches (id, dataset_path, offset_start, limit_count, models, started_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, b.ID, b.DatasetPath, b.Offset, b.Limit, b.Models, formatTime(b.StartedAt), string(b.Status))
	if err != nil {
		return fmt.Errorf("create batch: %w", err)
	}
	return nil
}

// FinishBatch records the final status of a batch.
func (db *DB) FinishBatch(id string, status BatchStatus, finishedAt time.Time) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	res, err := db.conn.Exec(`
		UPDATE batches SET status = ?, finished_at = ? WHERE id = ?
	`, string(status), formatTime(finishedAt), id)
	if err != nil {
		return fmt.Errorf("finish batch: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finish batch: %w", sql.ErrNoRows)
	}
	return nil
}

// GetBatch retrieves a batch by ID.
func (db *DB) GetBatch(id string) (*Batch, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	row := db.conn.QueryRow(`
		SELECT id, dataset_path, offset_start, limit_count, models, started_at, finished_at, status
		FROM batches WHERE id = ?
	`, id)
	b, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrBatchNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}
	return b, nil
}

// ListBatches returns batches newest first. A limit of 0 returns all.
func (db *DB) ListBatches(limit int) ([]Batch, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	query := `
		SELECT id, dataset_path, offset_start, limit_count, models, started_at, finished_at, status
		FROM batches ORDER BY started_at DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	var batches []Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("list batches: %w", err)
		}
		batches = append(batches, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batches: %w", err)
	}
	return batches, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBatch(row rowScanner) (*Batch, error) {
	var b Batch
	var models sql.NullString
	var startedAt string
	var finishedAt sql.NullString
	var status string
	if err := row.Scan(&b.ID, &b.DatasetPath, &b.Offset, &b.Limit, &models, &startedAt, &finishedAt, &status); err != nil {
		return nil, err
	}

	b.Models = models.String
	b.Status = BatchStatus(status)
	var err error
	if b.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	b.FinishedAt = parseNullableTime(finishedAt)
	return &b, nil
}

// RecordRun inserts a run with its steps.
func (db *DB) RecordRun(r *RunRow) error {
	subQuestions, err := json.Marshal(r.SubQuestions)
	if err != nil {
		return fmt.Errorf("marshal sub-questions: %w", err)
	}

	return db.Transaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO runs (id, batch_id, sample_index, document_id, question, sub_questions,
				final_answer, status, error, fallbacks, degraded, duration_ms, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, r.ID, r.BatchID, r.SampleIndex, r.DocumentID, r.Question, string(subQuestions),
			r.FinalAnswer, string(r.Status), r.Error, r.Fallbacks, r.Degraded, r.DurationMS, formatTime(r.CreatedAt))
		if err != nil {
			return fmt.Errorf("insert run: %w", err)
		}

		for _, s := range r.Steps {
			_, err := tx.Exec(`
				INSERT INTO steps (run_id, idx, question, answer, used_images, degraded)
				VALUES (?, ?, ?, ?, ?, ?)
			`, r.ID, s.Index, s.Question, s.Answer, boolToInt(s.UsedImages), boolToInt(s.Degraded))
			if err != nil {
				return fmt.Errorf("insert step %d: %w", s.Index, err)
			}
		}
		return nil
	})
}

// ListRuns returns the runs of a batch ordered by sample index.
func (db *DB) ListRuns(batchID string) ([]RunRow, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.Query(`
		SELECT id, batch_id, sample_index, document_id, question, sub_questions, final_answer,
			status, error, fallbacks, degraded, duration_ms, created_at
		FROM runs WHERE batch_id = ? ORDER BY sample_index
	`, batchID)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRow
	for rows.Next() {
		var r RunRow
		var subQuestions, finalAnswer, errText sql.NullString
		var status, createdAt string
		if err := rows.Scan(&r.ID, &r.BatchID, &r.SampleIndex, &r.DocumentID, &r.Question, &subQuestions,
			&finalAnswer, &status, &errText, &r.Fallbacks, &r.Degraded, &r.DurationMS, &createdAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if subQuestions.Valid && subQuestions.String != "" {
			if err := json.Unmarshal([]byte(subQuestions.String), &r.SubQuestions); err != nil {
				return nil, fmt.Errorf("unmarshal sub-questions of %s: %w", r.ID, err)
			}
		}
		r.FinalAnswer = finalAnswer.String
		r.Error = errText.String
		r.Status = RunStatus(status)
		if r.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	for i := range runs {
		steps, err := db.steps(runs[i].ID)
		if err != nil {
			return nil, err
		}
		runs[i].Steps = steps
	}
	return runs, nil
}

// steps must be called with db.mu held.
func (db *DB) steps(runID string) ([]orchestrator.Step, error) {
	rows, err := db.conn.Query(`
		SELECT idx, question, answer, used_images, degraded FROM steps WHERE run_id = ? ORDER BY idx
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	var steps []orchestrator.Step
	for rows.Next() {
		var s orchestrator.Step
		var usedImages, degraded int
		if err := rows.Scan(&s.Index, &s.Question, &s.Answer, &usedImages, &degraded); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		s.UsedImages = usedImages != 0
		s.Degraded = degraded != 0
		steps = append(steps, s)
	}
	return steps, rows.Err()
}

// RunCounts returns how many runs of a batch finished in each status.
func (db *DB) RunCounts(batchID string) (map[RunStatus]int, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.Query(`SELECT status, COUNT(*) FROM runs WHERE batch_id = ? GROUP BY status`, batchID)
	if err != nil {
		return nil, fmt.Errorf("count runs: %w", err)
	}
	defer rows.Close()

	counts := make(map[RunStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[RunStatus(status)] = n
	}
	return counts, rows.Err()
}

// PurgeOldBatches deletes batches started before the cutoff along with
// their runs. Returns the number of batches deleted.
func (db *DB) PurgeOldBatches(olderThan time.Duration) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	cutoff := formatTime(time.Now().Add(-olderThan))
	result, err := db.conn.Exec(`DELETE FROM batches WHERE started_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge old batches: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return count, nil
}

// formatTime formats a time.Time for SQLite storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime parses a time string from SQLite.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// parseNullableTime parses a nullable time string from SQLite.
func parseNullableTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil
	}
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
