package store

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/taskdock/taskdock/models"
)

func setupJSONSource(t *testing.T) (*JSONDataSource, afero.Fs) {
	t.Helper()

	fsys := afero.NewMemMapFs()
	source := NewJSONDataSource(JSONSourceOptions{
		Fs:        fsys,
		Path:      "data/tasks.json",
		SaveDelay: 10 * time.Millisecond,
	})
	if err := source.Initialize(DataSourceConfig{Enabled: true}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	t.Cleanup(func() { _ = source.Destroy() })
	return source, fsys
}

func TestJSONSource_InitializeCreatesDocument(t *testing.T) {
	_, fsys := setupJSONSource(t)

	data, err := afero.ReadFile(fsys, "data/tasks.json")
	if err != nil {
		t.Fatalf("document not created: %v", err)
	}

	var doc models.TaskDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("created document is not valid JSON: %v", err)
	}
	if doc.Version != models.DocumentVersion {
		t.Errorf("document version = %d, want %d", doc.Version, models.DocumentVersion)
	}
}

func TestJSONSource_CreateReadUpdateDelete(t *testing.T) {
	source, _ := setupJSONSource(t)

	created, err := source.CreateTask(models.NewTask("Buy milk"))
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if created.ID == "" {
		t.Error("created task has no id")
	}
	if created.SourceID != "local-json" {
		t.Errorf("sourceId = %q, want local-json", created.SourceID)
	}
	if created.Version != 1 {
		t.Errorf("new task version = %d, want 1", created.Version)
	}

	tasks, err := source.Tasks()
	if err != nil {
		t.Fatalf("Tasks failed: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != created.ID {
		t.Fatalf("Tasks = %v", tasks)
	}

	updated, err := source.UpdateTask(created.ID, models.TaskChanges{"title": "Buy oat milk", "priority": "high"})
	if err != nil {
		t.Fatalf("UpdateTask failed: %v", err)
	}
	if updated.Title != "Buy oat milk" {
		t.Errorf("title = %q", updated.Title)
	}
	if updated.Priority != models.PriorityHigh {
		t.Errorf("priority = %q", updated.Priority)
	}
	if updated.Version != 2 {
		t.Errorf("version after update = %d, want 2", updated.Version)
	}

	if err := source.DeleteTask(created.ID); err != nil {
		t.Fatalf("DeleteTask failed: %v", err)
	}
	tasks, _ = source.Tasks()
	if len(tasks) != 0 {
		t.Errorf("task still listed after delete: %v", tasks)
	}
}

func TestJSONSource_NotFound(t *testing.T) {
	source, _ := setupJSONSource(t)

	_, err := source.UpdateTask("nope", models.TaskChanges{"title": "x"})
	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Errorf("UpdateTask error = %v, want NotFoundError", err)
	}
	if err := source.DeleteTask("nope"); !errors.As(err, &notFound) {
		t.Errorf("DeleteTask error = %v, want NotFoundError", err)
	}
	if err := source.ArchiveTask("nope"); !errors.As(err, &notFound) {
		t.Errorf("ArchiveTask error = %v, want NotFoundError", err)
	}
	if _, err := source.RestoreTask("nope"); !errors.As(err, &notFound) {
		t.Errorf("RestoreTask error = %v, want NotFoundError", err)
	}
}

func TestJSONSource_DuplicateID(t *testing.T) {
	source, _ := setupJSONSource(t)

	task := models.NewTask("First")
	task.ID = "fixed-id"
	if _, err := source.CreateTask(task); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	dup := models.NewTask("Second")
	dup.ID = "fixed-id"
	if _, err := source.CreateTask(dup); err == nil {
		t.Error("duplicate id accepted")
	}
}

func TestJSONSource_ValidationRejected(t *testing.T) {
	source, _ := setupJSONSource(t)

	bad := models.NewTask("")
	if _, err := source.CreateTask(bad); err == nil {
		t.Error("task with empty title accepted")
	}

	created, err := source.CreateTask(models.NewTask("Valid"))
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if _, err := source.UpdateTask(created.ID, models.TaskChanges{"type": "someday"}); err == nil {
		t.Error("update to unknown type accepted")
	}
	// Failed update must not corrupt the stored record.
	tasks, _ := source.Tasks()
	if tasks[0].Type != models.TypeTodo {
		t.Errorf("stored type changed to %q after rejected update", tasks[0].Type)
	}
	if tasks[0].Version != 1 {
		t.Errorf("version bumped to %d by rejected update", tasks[0].Version)
	}
}

func TestJSONSource_DebouncedSaveAndFlush(t *testing.T) {
	source, fsys := setupJSONSource(t)

	created, err := source.CreateTask(models.NewTask("Persist me"))
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	status := source.SyncStatus()
	if !status.Dirty {
		t.Error("source not dirty right after a mutation")
	}

	if err := source.FlushSave(); err != nil {
		t.Fatalf("FlushSave failed: %v", err)
	}
	status = source.SyncStatus()
	if status.Dirty {
		t.Error("source still dirty after FlushSave")
	}

	data, err := afero.ReadFile(fsys, "data/tasks.json")
	if err != nil {
		t.Fatalf("read document: %v", err)
	}
	if !strings.Contains(string(data), created.ID) {
		t.Error("flushed document does not contain the task")
	}
}

func TestJSONSource_ReloadFromDisk(t *testing.T) {
	fsys := afero.NewMemMapFs()

	first := NewJSONDataSource(JSONSourceOptions{Fs: fsys, Path: "tasks.json"})
	if err := first.Initialize(DataSourceConfig{}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	created, err := first.CreateTask(models.NewTask("Survives restart"))
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if err := first.FlushSave(); err != nil {
		t.Fatalf("FlushSave failed: %v", err)
	}
	_ = first.Destroy()

	second := NewJSONDataSource(JSONSourceOptions{Fs: fsys, Path: "tasks.json"})
	if err := second.Initialize(DataSourceConfig{}); err != nil {
		t.Fatalf("re-Initialize failed: %v", err)
	}
	defer func() { _ = second.Destroy() }()

	tasks, err := second.Tasks()
	if err != nil {
		t.Fatalf("Tasks failed: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != created.ID {
		t.Fatalf("reloaded tasks = %v", tasks)
	}
}

func TestJSONSource_CorruptDocumentStartsEmpty(t *testing.T) {
	fsys := afero.NewMemMapFs()
	if err := afero.WriteFile(fsys, "tasks.json", []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	source := NewJSONDataSource(JSONSourceOptions{Fs: fsys, Path: "tasks.json"})
	if err := source.Initialize(DataSourceConfig{}); err != nil {
		t.Fatalf("Initialize failed on corrupt document: %v", err)
	}
	defer func() { _ = source.Destroy() }()

	tasks, err := source.Tasks()
	if err != nil {
		t.Fatalf("Tasks failed: %v", err)
	}
	if len(tasks) != 0 {
		t.Errorf("tasks = %v, want empty", tasks)
	}

	// The unreadable bytes must be preserved, not discarded.
	saved, err := afero.ReadFile(fsys, "tasks.json.corrupt")
	if err != nil {
		t.Fatalf("corrupt sidecar missing: %v", err)
	}
	if string(saved) != "{not json" {
		t.Errorf("sidecar content = %q", saved)
	}
}

func TestJSONSource_YAMLFormat(t *testing.T) {
	fsys := afero.NewMemMapFs()
	source := NewJSONDataSource(JSONSourceOptions{Fs: fsys, Path: "tasks.yaml", Format: "yaml"})
	if err := source.Initialize(DataSourceConfig{}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer func() { _ = source.Destroy() }()

	if _, err := source.CreateTask(models.NewTask("YAML task")); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if err := source.FlushSave(); err != nil {
		t.Fatalf("FlushSave failed: %v", err)
	}

	data, _ := afero.ReadFile(fsys, "tasks.yaml")
	if !strings.Contains(string(data), "YAML task") {
		t.Errorf("yaml document missing task:\n%s", data)
	}
	if strings.HasPrefix(strings.TrimSpace(string(data)), "{") {
		t.Error("yaml format wrote JSON")
	}

	// The remote push path serializes JSON regardless of the disk format.
	payload, err := source.SerializeJSON()
	if err != nil {
		t.Fatalf("SerializeJSON failed: %v", err)
	}
	var doc models.TaskDocument
	if err := json.Unmarshal(payload, &doc); err != nil {
		t.Fatalf("SerializeJSON output not JSON: %v", err)
	}
	if len(doc.Tasks) != 1 {
		t.Errorf("serialized tasks = %d, want 1", len(doc.Tasks))
	}
}

func TestJSONSource_UnsupportedFormat(t *testing.T) {
	source := NewJSONDataSource(JSONSourceOptions{Fs: afero.NewMemMapFs(), Path: "tasks.ini", Format: "ini"})
	if err := source.Initialize(DataSourceConfig{}); err == nil {
		t.Error("unsupported format accepted")
	}
}

func TestJSONSource_ArchiveAndRestore(t *testing.T) {
	source, _ := setupJSONSource(t)

	created, err := source.CreateTask(models.NewTask("Archive me"))
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	var deletions []string
	source.OnChange(func(cs ChangeSet) {
		deletions = append(deletions, cs.Deleted...)
	})

	if err := source.ArchiveTask(created.ID); err != nil {
		t.Fatalf("ArchiveTask failed: %v", err)
	}

	// Archiving removes the record from the active aggregate.
	if len(deletions) != 1 || deletions[0] != created.ID {
		t.Errorf("archive emitted deletions %v, want [%s]", deletions, created.ID)
	}
	tasks, _ := source.Tasks()
	if len(tasks) != 0 {
		t.Errorf("active tasks after archive = %v", tasks)
	}

	archived, err := source.ArchivedTasks()
	if err != nil {
		t.Fatalf("ArchivedTasks failed: %v", err)
	}
	if len(archived) != 1 || !archived[0].Archived {
		t.Fatalf("archive = %v", archived)
	}

	restored, err := source.RestoreTask(created.ID)
	if err != nil {
		t.Fatalf("RestoreTask failed: %v", err)
	}
	if restored.Archived {
		t.Error("restored task still flagged archived")
	}
	tasks, _ = source.Tasks()
	if len(tasks) != 1 {
		t.Errorf("active tasks after restore = %v", tasks)
	}
	archived, _ = source.ArchivedTasks()
	if len(archived) != 0 {
		t.Errorf("archive after restore = %v", archived)
	}
}

func TestJSONSource_ChangeHandlerReceivesDiffs(t *testing.T) {
	source, _ := setupJSONSource(t)

	var sets []ChangeSet
	source.OnChange(func(cs ChangeSet) { sets = append(sets, cs) })

	created, _ := source.CreateTask(models.NewTask("Watch me"))
	_, _ = source.UpdateTask(created.ID, models.TaskChanges{"completed": true})
	_ = source.DeleteTask(created.ID)

	if len(sets) != 3 {
		t.Fatalf("received %d change sets, want 3", len(sets))
	}
	if len(sets[0].Created) != 1 || sets[0].Created[0].ID != created.ID {
		t.Errorf("create diff = %+v", sets[0])
	}
	if len(sets[1].Updated) != 1 || !sets[1].Updated[0].Completed {
		t.Errorf("update diff = %+v", sets[1])
	}
	if len(sets[2].Deleted) != 1 || sets[2].Deleted[0] != created.ID {
		t.Errorf("delete diff = %+v", sets[2])
	}
}
