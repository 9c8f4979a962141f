package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/taskdock/taskdock/models"
)

const (
	sqliteSourceID   = "local-sqlite"
	sqliteSourceName = "Local SQLite"
)

// SQLiteDataSource is a second concrete backend behind the DataSource
// contract. Unlike the document source it commits every mutation directly,
// so it has no debounced flush.
type SQLiteDataSource struct {
	path   string
	logger *slog.Logger

	mu          sync.Mutex
	db          *sql.DB
	onChange    ChangeHandler
	lastWrite   time.Time
	initialized bool
}

// NewSQLiteDataSource creates the source; Initialize opens the database.
// Use ":memory:" as the path for an ephemeral store.
func NewSQLiteDataSource(path string, logger *slog.Logger) *SQLiteDataSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLiteDataSource{
		path:   path,
		logger: logger.With("component", "sqlite_source"),
	}
}

func (s *SQLiteDataSource) SourceID() string   { return sqliteSourceID }
func (s *SQLiteDataSource) SourceName() string { return sqliteSourceName }
func (s *SQLiteDataSource) ReadOnly() bool     { return false }

func (s *SQLiteDataSource) OnChange(handler ChangeHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = handler
}

// Initialize opens the database and creates the schema if needed.
func (s *SQLiteDataSource) Initialize(cfg DataSourceConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return nil
	}
	if s.path != ":memory:" {
		if dir := filepath.Dir(s.path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create data directory: %w", err)
			}
		}
	}
	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return &LoadError{Path: s.path, Err: err}
	}
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT,
		completed INTEGER NOT NULL DEFAULT 0,
		cancelled INTEGER NOT NULL DEFAULT 0,
		priority TEXT NOT NULL,
		tags TEXT,
		parent_id TEXT,
		created TEXT,
		start TEXT,
		scheduled TEXT,
		due TEXT,
		completion TEXT,
		cancelled_date TEXT,
		archived INTEGER NOT NULL DEFAULT 0,
		version INTEGER NOT NULL DEFAULT 1,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_parent ON tasks(parent_id);
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return &LoadError{Path: s.path, Err: fmt.Errorf("init schema: %w", err)}
	}
	s.db = db
	s.initialized = true
	return nil
}

func nullDate(d *models.Date) any {
	if d == nil {
		return nil
	}
	return string(*d)
}

func scanDate(v sql.NullString) *models.Date {
	if !v.Valid || v.String == "" {
		return nil
	}
	d := models.Date(v.String)
	return &d
}

func (s *SQLiteDataSource) upsertLocked(t models.Task) error {
	tagsJSON, _ := json.Marshal(t.Tags)
	var parent any
	if t.ParentID != nil {
		parent = *t.ParentID
	}
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO tasks (
			id, type, title, description, completed, cancelled, priority,
			tags, parent_id, created, start, scheduled, due, completion,
			cancelled_date, archived, version, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.Type, t.Title, t.Description, t.Completed, t.Cancelled, t.Priority,
		string(tagsJSON), parent, nullDate(t.Created), nullDate(t.Start), nullDate(t.Scheduled),
		nullDate(t.Due), nullDate(t.Completion), nullDate(t.CancelledDate),
		t.Archived, t.Version, t.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("upsert task %s: %w", t.ID, err)
	}
	s.lastWrite = time.Now().UTC()
	return nil
}

func (s *SQLiteDataSource) scanTasks(rows *sql.Rows) ([]models.Task, error) {
	var out []models.Task
	for rows.Next() {
		var (
			t          models.Task
			desc       sql.NullString
			tags       sql.NullString
			parent     sql.NullString
			created    sql.NullString
			start      sql.NullString
			scheduled  sql.NullString
			due        sql.NullString
			completion sql.NullString
			cancelled  sql.NullString
			updatedAt  string
		)
		if err := rows.Scan(&t.ID, &t.Type, &t.Title, &desc, &t.Completed, &t.Cancelled,
			&t.Priority, &tags, &parent, &created, &start, &scheduled, &due,
			&completion, &cancelled, &t.Archived, &t.Version, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan task row: %w", err)
		}
		t.SourceID = sqliteSourceID
		t.Description = desc.String
		if tags.Valid && tags.String != "" {
			_ = json.Unmarshal([]byte(tags.String), &t.Tags)
		}
		if parent.Valid {
			p := parent.String
			t.ParentID = &p
		}
		t.Created = scanDate(created)
		t.Start = scanDate(start)
		t.Scheduled = scanDate(scheduled)
		t.Due = scanDate(due)
		t.Completion = scanDate(completion)
		t.CancelledDate = scanDate(cancelled)
		if ts, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
			t.UpdatedAt = ts
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

const taskColumns = `id, type, title, description, completed, cancelled, priority,
	tags, parent_id, created, start, scheduled, due, completion,
	cancelled_date, archived, version, updated_at`

// Tasks returns the active (non-archived) tasks.
func (s *SQLiteDataSource) Tasks() ([]models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return nil, fmt.Errorf("source %s is not initialized", sqliteSourceID)
	}
	rows, err := s.db.Query(`SELECT ` + taskColumns + ` FROM tasks WHERE archived = 0`)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return s.scanTasks(rows)
}

func (s *SQLiteDataSource) getLocked(id string) (models.Task, bool, error) {
	rows, err := s.db.Query(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	if err != nil {
		return models.Task{}, false, fmt.Errorf("query task: %w", err)
	}
	defer func() { _ = rows.Close() }()
	tasks, err := s.scanTasks(rows)
	if err != nil {
		return models.Task{}, false, err
	}
	if len(tasks) == 0 {
		return models.Task{}, false, nil
	}
	return tasks[0], true, nil
}

// CreateTask inserts the task, committing before the change event fires.
func (s *SQLiteDataSource) CreateTask(task models.Task) (models.Task, error) {
	s.mu.Lock()
	if task.ID == "" {
		task.ID = uuid.NewString()
	} else if _, exists, err := s.getLocked(task.ID); err != nil {
		s.mu.Unlock()
		return models.Task{}, err
	} else if exists {
		s.mu.Unlock()
		return models.Task{}, fmt.Errorf("task with ID '%s' already exists", task.ID)
	}
	task.SourceID = sqliteSourceID
	if task.Version == 0 {
		task.Version = 1
	}
	task.UpdatedAt = time.Now().UTC()
	if err := models.ValidateStruct(task); err != nil {
		s.mu.Unlock()
		return models.Task{}, fmt.Errorf("validation failed for new task: %w", err)
	}
	if err := s.upsertLocked(task); err != nil {
		s.mu.Unlock()
		return models.Task{}, err
	}
	handler := s.onChange
	s.mu.Unlock()

	if handler != nil {
		handler(ChangeSet{SourceID: sqliteSourceID, Created: []models.Task{task}})
	}
	return task, nil
}

// UpdateTask merges the partial update with the same null-clears semantics
// as the document source.
func (s *SQLiteDataSource) UpdateTask(id string, changes models.TaskChanges) (models.Task, error) {
	s.mu.Lock()
	task, exists, err := s.getLocked(id)
	if err != nil {
		s.mu.Unlock()
		return models.Task{}, err
	}
	if !exists {
		s.mu.Unlock()
		return models.Task{}, &NotFoundError{ID: id}
	}
	if err := changes.Apply(&task); err != nil {
		s.mu.Unlock()
		return models.Task{}, err
	}
	task.Version++
	task.UpdatedAt = time.Now().UTC()
	if err := models.ValidateStruct(task); err != nil {
		s.mu.Unlock()
		return models.Task{}, fmt.Errorf("validation failed for updated task: %w", err)
	}
	if err := s.upsertLocked(task); err != nil {
		s.mu.Unlock()
		return models.Task{}, err
	}
	handler := s.onChange
	s.mu.Unlock()

	if handler != nil {
		handler(ChangeSet{SourceID: sqliteSourceID, Updated: []models.Task{task}})
	}
	return task, nil
}

// DeleteTask removes the row.
func (s *SQLiteDataSource) DeleteTask(id string) error {
	s.mu.Lock()
	res, err := s.db.Exec(`DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("delete task: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		s.mu.Unlock()
		return &NotFoundError{ID: id}
	}
	s.lastWrite = time.Now().UTC()
	handler := s.onChange
	s.mu.Unlock()

	if handler != nil {
		handler(ChangeSet{SourceID: sqliteSourceID, Deleted: []string{id}})
	}
	return nil
}

// SyncStatus reports the source state. SQLite commits synchronously, so
// the source is never dirty.
func (s *SQLiteDataSource) SyncStatus() SyncStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SyncStatus{SourceID: sqliteSourceID, LastSaved: s.lastWrite}
}

// Destroy closes the database.
func (s *SQLiteDataSource) Destroy() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialized = false
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		return err
	}
	return nil
}
