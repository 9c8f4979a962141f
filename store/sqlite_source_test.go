package store

import (
	"errors"
	"testing"

	"github.com/taskdock/taskdock/models"
)

func setupSQLiteSource(t *testing.T) *SQLiteDataSource {
	t.Helper()

	source := NewSQLiteDataSource(":memory:", nil)
	if err := source.Initialize(DataSourceConfig{Enabled: true}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	t.Cleanup(func() { _ = source.Destroy() })
	return source
}

func TestSQLiteSource_CRUD(t *testing.T) {
	source := setupSQLiteSource(t)

	task := models.NewTask("Stored in SQLite")
	task.Tags = []string{"db", "local"}
	due := models.Date("2026-09-30")
	task.Due = &due

	created, err := source.CreateTask(task)
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if created.ID == "" {
		t.Error("created task has no id")
	}
	if created.SourceID != "local-sqlite" {
		t.Errorf("sourceId = %q", created.SourceID)
	}

	tasks, err := source.Tasks()
	if err != nil {
		t.Fatalf("Tasks failed: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("tasks = %v", tasks)
	}
	got := tasks[0]
	if got.Title != "Stored in SQLite" {
		t.Errorf("title = %q", got.Title)
	}
	if len(got.Tags) != 2 || got.Tags[0] != "db" {
		t.Errorf("tags = %v", got.Tags)
	}
	if got.Due == nil || *got.Due != "2026-09-30" {
		t.Errorf("due = %v", got.Due)
	}

	updated, err := source.UpdateTask(created.ID, models.TaskChanges{"due": nil, "completed": true})
	if err != nil {
		t.Fatalf("UpdateTask failed: %v", err)
	}
	if updated.Due != nil {
		t.Error("nil value did not clear the due date")
	}
	if !updated.Completed {
		t.Error("completed not set")
	}
	if updated.Version != created.Version+1 {
		t.Errorf("version = %d, want %d", updated.Version, created.Version+1)
	}

	// The cleared date must come back nil from the database too.
	tasks, _ = source.Tasks()
	if tasks[0].Due != nil {
		t.Error("cleared date resurfaced after a reread")
	}

	if err := source.DeleteTask(created.ID); err != nil {
		t.Fatalf("DeleteTask failed: %v", err)
	}
	tasks, _ = source.Tasks()
	if len(tasks) != 0 {
		t.Errorf("tasks after delete = %v", tasks)
	}
}

func TestSQLiteSource_NotFound(t *testing.T) {
	source := setupSQLiteSource(t)

	var notFound *NotFoundError
	if _, err := source.UpdateTask("ghost", models.TaskChanges{"title": "x"}); !errors.As(err, &notFound) {
		t.Errorf("UpdateTask error = %v, want NotFoundError", err)
	}
	if err := source.DeleteTask("ghost"); !errors.As(err, &notFound) {
		t.Errorf("DeleteTask error = %v, want NotFoundError", err)
	}
}

func TestSQLiteSource_NeverDirty(t *testing.T) {
	source := setupSQLiteSource(t)

	if _, err := source.CreateTask(models.NewTask("Committed")); err != nil {
		t.Fatal(err)
	}

	status := source.SyncStatus()
	if status.Dirty || status.PendingSave {
		t.Errorf("sqlite source reports pending persistence: %+v", status)
	}
	if status.LastSaved.IsZero() {
		t.Error("lastSaved not stamped after a write")
	}
}

func TestSQLiteSource_ChangeEvents(t *testing.T) {
	source := setupSQLiteSource(t)

	var sets []ChangeSet
	source.OnChange(func(cs ChangeSet) { sets = append(sets, cs) })

	created, _ := source.CreateTask(models.NewTask("Evented"))
	_, _ = source.UpdateTask(created.ID, models.TaskChanges{"priority": "low"})
	_ = source.DeleteTask(created.ID)

	if len(sets) != 3 {
		t.Fatalf("received %d change sets, want 3", len(sets))
	}
	for _, cs := range sets {
		if cs.SourceID != "local-sqlite" {
			t.Errorf("change set sourceId = %q", cs.SourceID)
		}
	}
}

func TestSQLiteSource_RegistersWithStore(t *testing.T) {
	sqlite := setupSQLiteSource(t)
	s := setupStore(t)

	// Direct registration through the repository, the way the facade wires
	// extra sources.
	if err := s.repo.RegisterDataSource(sqlite); err != nil {
		t.Fatalf("RegisterDataSource failed: %v", err)
	}

	created, err := s.CreateTaskIn("local-sqlite", models.NewTask("Cross-source"))
	if err != nil {
		t.Fatalf("CreateTaskIn failed: %v", err)
	}

	got, err := s.GetTaskByID(created.ID)
	if err != nil {
		t.Fatalf("task not visible in aggregate: %v", err)
	}
	if got.SourceID != "local-sqlite" {
		t.Errorf("sourceId = %q", got.SourceID)
	}

	// Mutations route back to the owning source.
	if _, err := s.UpdateTask(created.ID, models.TaskChanges{"completed": true}); err != nil {
		t.Fatalf("UpdateTask failed: %v", err)
	}
	tasks, _ := sqlite.Tasks()
	if len(tasks) != 1 || !tasks[0].Completed {
		t.Errorf("sqlite rows = %v", tasks)
	}
}
