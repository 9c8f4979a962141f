package store

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/spf13/afero"
	yaml "gopkg.in/yaml.v3"

	"github.com/taskdock/taskdock/internal/debounce"
	"github.com/taskdock/taskdock/models"
)

const (
	jsonSourceID   = "local-json"
	jsonSourceName = "Local document"

	formatJSON = "json"
	formatYAML = "yaml"
	formatTOML = "toml"

	defaultSaveDelay = 500 * time.Millisecond
)

// JSONSourceOptions configures a JSONDataSource.
type JSONSourceOptions struct {
	// Fs defaults to the OS filesystem. File locking is only applied on
	// the OS filesystem; in-memory filesystems used by tests skip it.
	Fs   afero.Fs
	Path string
	// Format is json (default), yaml, or toml. The remote push path always
	// serializes JSON regardless of the on-disk format.
	Format string
	// SaveDelay is the quiet period before a debounced disk write.
	SaveDelay time.Duration
	// Watch reloads the document when an external writer modifies it.
	Watch  bool
	Logger *slog.Logger
}

// JSONDataSource persists tasks as a single structured document. In-memory
// state is authoritative and mutated synchronously; physical persistence is
// debounced. FlushSave forces a synchronous write and must run before
// teardown to avoid losing the last batch.
type JSONDataSource struct {
	fsys     afero.Fs
	filePath string
	format   string
	flk      *flock.Flock
	logger   *slog.Logger

	mu             sync.Mutex
	doc            *models.TaskDocument
	onChange       ChangeHandler
	saver          *debounce.Debouncer
	watcher        *documentWatcher
	watch          bool
	dirty          bool
	lastSaved      time.Time
	lastWrittenSum string
	saveErr        error
	initialized    bool
}

// NewJSONDataSource creates the source; Initialize must be called before use.
func NewJSONDataSource(opts JSONSourceOptions) *JSONDataSource {
	fsys := opts.Fs
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	format := opts.Format
	if format == "" {
		format = formatJSON
	}
	delay := opts.SaveDelay
	if delay <= 0 {
		delay = defaultSaveDelay
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &JSONDataSource{
		fsys:     fsys,
		filePath: opts.Path,
		format:   strings.ToLower(format),
		watch:    opts.Watch,
		logger:   logger.With("component", "json_source"),
		doc:      models.NewTaskDocument(),
	}
	s.saver = debounce.New(delay, s.saveNow)
	return s
}

func (s *JSONDataSource) SourceID() string   { return jsonSourceID }
func (s *JSONDataSource) SourceName() string { return jsonSourceName }
func (s *JSONDataSource) ReadOnly() bool     { return false }

// OnChange registers the single change handler; last registration wins.
func (s *JSONDataSource) OnChange(handler ChangeHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = handler
}

// Initialize loads the document, creating it when absent. Unreadable
// storage fails with a LoadError; corrupt content is preserved in a
// .corrupt sidecar and the store starts empty.
func (s *JSONDataSource) Initialize(cfg DataSourceConfig) error {
	switch s.format {
	case formatJSON, formatYAML, formatTOML:
	default:
		return fmt.Errorf("unsupported document format: %s", s.format)
	}
	if s.filePath == "" {
		return fmt.Errorf("document path is required")
	}

	dir := filepath.Dir(s.filePath)
	if dir != "." && dir != "" {
		if err := s.fsys.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	// flock needs a real path; in-memory filesystems go without.
	if _, ok := s.fsys.(*afero.OsFs); ok {
		s.flk = flock.New(s.filePath + ".lock")
	}

	s.mu.Lock()
	err := s.loadLocked()
	if err == nil {
		s.initialized = true
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}

	if s.watch && s.watcher == nil {
		if _, ok := s.fsys.(*afero.OsFs); ok {
			w, werr := newDocumentWatcher(s)
			if werr != nil {
				s.logger.Warn("external-change watcher unavailable", "error", werr)
			} else {
				s.watcher = w
			}
		}
	}
	return nil
}

func (s *JSONDataSource) lockFile() func() {
	if s.flk == nil {
		return func() {}
	}
	if err := s.flk.Lock(); err != nil {
		s.logger.Warn("file lock failed", "path", s.filePath, "error", err)
		return func() {}
	}
	return func() { _ = s.flk.Unlock() }
}

// loadLocked reads and decodes the document. Caller holds s.mu.
func (s *JSONDataSource) loadLocked() error {
	unlock := s.lockFile()
	defer unlock()

	data, err := afero.ReadFile(s.fsys, s.filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.doc = models.NewTaskDocument()
			return s.writeLocked()
		}
		return &LoadError{Path: s.filePath, Err: err}
	}
	if len(data) == 0 {
		s.doc = models.NewTaskDocument()
		return nil
	}

	doc := models.NewTaskDocument()
	if err := s.unmarshalDocument(data, doc); err != nil {
		// Corrupt content is not fatal: keep the bytes aside and start empty.
		corruptPath := s.filePath + ".corrupt"
		if werr := afero.WriteFile(s.fsys, corruptPath, data, 0o644); werr == nil {
			s.logger.Warn("document is corrupt, starting empty", "path", s.filePath, "saved_to", corruptPath, "error", err)
		} else {
			s.logger.Warn("document is corrupt, starting empty", "path", s.filePath, "error", err)
		}
		s.doc = models.NewTaskDocument()
		return nil
	}
	normalizeDocument(doc)
	s.doc = doc
	s.lastWrittenSum = checksum(data)
	return nil
}

func normalizeDocument(doc *models.TaskDocument) {
	if doc.Version == 0 {
		doc.Version = models.DocumentVersion
	}
	if doc.Tasks == nil {
		doc.Tasks = []models.Task{}
	}
	if doc.Archive == nil {
		doc.Archive = []models.Task{}
	}
	for i := range doc.Tasks {
		if doc.Tasks[i].SourceID == "" {
			doc.Tasks[i].SourceID = jsonSourceID
		}
	}
	for i := range doc.Archive {
		if doc.Archive[i].SourceID == "" {
			doc.Archive[i].SourceID = jsonSourceID
		}
		doc.Archive[i].Archived = true
	}
}

func (s *JSONDataSource) unmarshalDocument(data []byte, doc *models.TaskDocument) error {
	switch s.format {
	case formatJSON:
		return json.Unmarshal(data, doc)
	case formatYAML:
		return yaml.Unmarshal(data, doc)
	case formatTOML:
		return toml.Unmarshal(data, doc)
	}
	return fmt.Errorf("unsupported document format: %s", s.format)
}

func (s *JSONDataSource) marshalDocument(doc *models.TaskDocument) ([]byte, error) {
	switch s.format {
	case formatJSON:
		return json.MarshalIndent(doc, "", "  ")
	case formatYAML:
		return yaml.Marshal(doc)
	case formatTOML:
		buf := new(bytes.Buffer)
		if err := toml.NewEncoder(buf).Encode(doc); err != nil {
			return nil, fmt.Errorf("failed to marshal TOML: %w", err)
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("unsupported document format: %s", s.format)
}

// writeLocked persists the document atomically. Caller holds s.mu and, when
// called outside loadLocked, must take the file lock.
func (s *JSONDataSource) writeLocked() error {
	data, err := s.marshalDocument(s.doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	tempPath := s.filePath + ".tmp"
	if err := afero.WriteFile(s.fsys, tempPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temporary file %s: %w", tempPath, err)
	}
	if err := s.fsys.Rename(tempPath, s.filePath); err != nil {
		_ = s.fsys.Remove(tempPath)
		return fmt.Errorf("failed to replace %s: %w", s.filePath, err)
	}

	s.lastWrittenSum = checksum(data)
	s.lastSaved = time.Now().UTC()
	s.dirty = false
	return nil
}

// saveNow is the debounced save callback. Errors are remembered for the
// next FlushSave and logged, since there is no caller to return them to.
func (s *JSONDataSource) saveNow() {
	s.mu.Lock()
	defer s.mu.Unlock()
	unlock := s.lockFile()
	defer unlock()
	if err := s.writeLocked(); err != nil {
		s.saveErr = err
		s.logger.Error("debounced save failed", "path", s.filePath, "error", err)
		return
	}
	s.saveErr = nil
}

// FlushSave forces any pending debounced write to disk, synchronously.
func (s *JSONDataSource) FlushSave() error {
	s.saver.Flush()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	if s.dirty {
		unlock := s.lockFile()
		defer unlock()
		return s.writeLocked()
	}
	return nil
}

// markDirtyLocked schedules a debounced save. Caller holds s.mu.
func (s *JSONDataSource) markDirtyLocked() {
	s.dirty = true
	s.saver.Trigger()
}

func (s *JSONDataSource) emit(cs ChangeSet) {
	if cs.Empty() {
		return
	}
	s.mu.Lock()
	handler := s.onChange
	s.mu.Unlock()
	if handler != nil {
		handler(cs)
	}
}

// Tasks returns a snapshot of the active tasks.
func (s *JSONDataSource) Tasks() ([]models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return nil, fmt.Errorf("source %s is not initialized", jsonSourceID)
	}
	out := make([]models.Task, len(s.doc.Tasks))
	copy(out, s.doc.Tasks)
	return out, nil
}

// ArchivedTasks returns a snapshot of the archive.
func (s *JSONDataSource) ArchivedTasks() ([]models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Task, len(s.doc.Archive))
	copy(out, s.doc.Archive)
	return out, nil
}

// CreateTask assigns an id when absent, appends, schedules persistence, and
// emits the created diff.
func (s *JSONDataSource) CreateTask(task models.Task) (models.Task, error) {
	s.mu.Lock()
	if task.ID == "" {
		task.ID = uuid.NewString()
	} else {
		for _, existing := range s.doc.Tasks {
			if existing.ID == task.ID {
				s.mu.Unlock()
				return models.Task{}, fmt.Errorf("task with ID '%s' already exists", task.ID)
			}
		}
	}
	task.SourceID = jsonSourceID
	if task.Version == 0 {
		task.Version = 1
	}
	task.UpdatedAt = time.Now().UTC()
	if err := models.ValidateStruct(task); err != nil {
		s.mu.Unlock()
		return models.Task{}, fmt.Errorf("validation failed for new task: %w", err)
	}
	s.doc.Tasks = append(s.doc.Tasks, task)
	s.markDirtyLocked()
	s.mu.Unlock()

	s.emit(ChangeSet{SourceID: jsonSourceID, Created: []models.Task{task}})
	return task, nil
}

func (s *JSONDataSource) indexOfLocked(id string) int {
	for i := range s.doc.Tasks {
		if s.doc.Tasks[i].ID == id {
			return i
		}
	}
	return -1
}

// UpdateTask merges the partial update onto the stored record. A nil value
// on a date field clears it; an absent key leaves the field untouched.
func (s *JSONDataSource) UpdateTask(id string, changes models.TaskChanges) (models.Task, error) {
	s.mu.Lock()
	idx := s.indexOfLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return models.Task{}, &NotFoundError{ID: id}
	}
	task := s.doc.Tasks[idx]
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
	s.doc.Tasks[idx] = task
	s.markDirtyLocked()
	s.mu.Unlock()

	s.emit(ChangeSet{SourceID: jsonSourceID, Updated: []models.Task{task}})
	return task, nil
}

// DeleteTask removes the task from the active set.
func (s *JSONDataSource) DeleteTask(id string) error {
	s.mu.Lock()
	idx := s.indexOfLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return &NotFoundError{ID: id}
	}
	s.doc.Tasks = append(s.doc.Tasks[:idx], s.doc.Tasks[idx+1:]...)
	s.markDirtyLocked()
	s.mu.Unlock()

	s.emit(ChangeSet{SourceID: jsonSourceID, Deleted: []string{id}})
	return nil
}

// ArchiveTask moves the task from the active set to the archive. From the
// aggregate view's perspective this is a deletion of the active record.
func (s *JSONDataSource) ArchiveTask(id string) error {
	s.mu.Lock()
	idx := s.indexOfLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return &NotFoundError{ID: id}
	}
	task := s.doc.Tasks[idx]
	task.Archived = true
	task.Version++
	task.UpdatedAt = time.Now().UTC()
	s.doc.Tasks = append(s.doc.Tasks[:idx], s.doc.Tasks[idx+1:]...)
	s.doc.Archive = append(s.doc.Archive, task)
	s.markDirtyLocked()
	s.mu.Unlock()

	s.emit(ChangeSet{SourceID: jsonSourceID, Deleted: []string{id}})
	return nil
}

// RestoreTask moves an archived task back into the active set.
func (s *JSONDataSource) RestoreTask(id string) (models.Task, error) {
	s.mu.Lock()
	idx := -1
	for i := range s.doc.Archive {
		if s.doc.Archive[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return models.Task{}, &NotFoundError{ID: id}
	}
	task := s.doc.Archive[idx]
	task.Archived = false
	task.Version++
	task.UpdatedAt = time.Now().UTC()
	s.doc.Archive = append(s.doc.Archive[:idx], s.doc.Archive[idx+1:]...)
	s.doc.Tasks = append(s.doc.Tasks, task)
	s.markDirtyLocked()
	s.mu.Unlock()

	s.emit(ChangeSet{SourceID: jsonSourceID, Created: []models.Task{task}})
	return task, nil
}

// SerializeJSON renders the current document as indented JSON for the
// remote push path, independent of the on-disk format.
func (s *JSONDataSource) SerializeJSON() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return json.MarshalIndent(s.doc, "", "  ")
}

// MarkSynced stamps the document's lastSync bookkeeping after a successful
// remote push.
func (s *JSONDataSource) MarkSynced() {
	s.mu.Lock()
	s.doc.TouchLastSync()
	s.markDirtyLocked()
	s.mu.Unlock()
}

// SyncStatus reports the source's persistence state.
func (s *JSONDataSource) SyncStatus() SyncStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SyncStatus{
		SourceID:    jsonSourceID,
		Dirty:       s.dirty,
		PendingSave: s.saver.Pending(),
		LastSaved:   s.lastSaved,
	}
}

// Destroy cancels pending debounced writes without discarding unpersisted
// state silently: the caller is expected to have flushed first, and a
// warning is logged otherwise.
func (s *JSONDataSource) Destroy() error {
	if s.watcher != nil {
		s.watcher.stop()
		s.watcher = nil
	}
	s.mu.Lock()
	dirty := s.dirty
	s.mu.Unlock()
	if dirty {
		s.logger.Warn("destroying source with unpersisted changes; call FlushSave before Destroy", "path", s.filePath)
	}
	s.saver.Stop()
	return nil
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
