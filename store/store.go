package store

import (
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/taskdock/taskdock/internal/debounce"
	"github.com/taskdock/taskdock/internal/events"
	"github.com/taskdock/taskdock/internal/github"
	"github.com/taskdock/taskdock/models"
)

const defaultNotifyDelay = 50 * time.Millisecond

// UpdateListener is notified, debounced, after mutations settle.
type UpdateListener func()

// Archiver is the optional capability of sources that can move tasks in
// and out of an archive.
type Archiver interface {
	ArchiveTask(id string) error
	RestoreTask(id string) (models.Task, error)
	ArchivedTasks() ([]models.Task, error)
}

// StoreStatus aggregates the state of the facade and its collaborators.
type StoreStatus struct {
	Initialized bool
	Stats       RepositoryStats
	Sources     []SyncStatus
	Sync        github.SyncStatus
}

// Options wires a TaskStore together.
type Options struct {
	// JSONSource is the primary document-backed source. Required.
	JSONSource *JSONDataSource
	// ExtraSources are registered alongside the JSON source.
	ExtraSources []DataSource
	// SourceConfig is applied to every source at initialization.
	SourceConfig DataSourceConfig
	// Sync is the remote replication service. Optional.
	Sync *github.SyncService
	// NotifyDelay is the debounce window for listener notifications.
	NotifyDelay time.Duration
	Bus         *events.Bus
	Logger      *slog.Logger
}

// TaskStore is the single API surface the rest of the application depends
// on. It hides the repository/source split behind a read cache and drives
// the outbound sync scheduler. The cache is owned exclusively by the store
// and valid only between two repository-changed events.
type TaskStore struct {
	bus         *events.Bus
	repo        *TaskRepository
	jsonSource  *JSONDataSource
	extra       []DataSource
	sourceCfg   DataSourceConfig
	syncService *github.SyncService
	logger      *slog.Logger

	initMu       sync.Mutex
	initializing bool
	initialized  bool

	cacheMu    sync.Mutex
	cache      []models.Task
	cacheValid bool

	listenerMu sync.Mutex
	listeners  []UpdateListener
	notifier   *debounce.Debouncer
}

// NewTaskStore builds the facade; Initialize must be called before use.
func NewTaskStore(opts Options) *TaskStore {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	bus := opts.Bus
	if bus == nil {
		bus = events.NewBus(logger)
	}
	delay := opts.NotifyDelay
	if delay <= 0 {
		delay = defaultNotifyDelay
	}

	s := &TaskStore{
		bus:         bus,
		repo:        NewTaskRepository(bus, logger),
		jsonSource:  opts.JSONSource,
		extra:       opts.ExtraSources,
		sourceCfg:   opts.SourceConfig,
		syncService: opts.Sync,
		logger:      logger.With("component", "task_store"),
	}
	s.notifier = debounce.New(delay, s.notifyListeners)
	return s
}

// Bus exposes the store's event bus to collaborators.
func (s *TaskStore) Bus() *events.Bus { return s.bus }

// Initialize loads every source and builds the aggregate view. A
// concurrent call while initialization is already running is a no-op, not
// queued. Re-initialization clears the repository first so no stale
// entries survive.
func (s *TaskStore) Initialize() error {
	s.initMu.Lock()
	if s.initializing {
		s.initMu.Unlock()
		return nil
	}
	s.initializing = true
	s.initMu.Unlock()
	defer func() {
		s.initMu.Lock()
		s.initializing = false
		s.initMu.Unlock()
	}()

	if s.jsonSource == nil {
		return fmt.Errorf("a JSON data source is required")
	}

	s.initMu.Lock()
	reinit := s.initialized
	s.initMu.Unlock()
	if reinit {
		s.repo.Clear()
	}

	if err := s.jsonSource.Initialize(s.sourceCfg); err != nil {
		return fmt.Errorf("initialize %s: %w", s.jsonSource.SourceID(), err)
	}
	if err := s.repo.RegisterDataSource(s.jsonSource); err != nil {
		return fmt.Errorf("register %s: %w", s.jsonSource.SourceID(), err)
	}
	for _, source := range s.extra {
		if err := source.Initialize(s.sourceCfg); err != nil {
			return fmt.Errorf("initialize %s: %w", source.SourceID(), err)
		}
		if err := s.repo.RegisterDataSource(source); err != nil {
			return fmt.Errorf("register %s: %w", source.SourceID(), err)
		}
	}

	if !reinit {
		s.bus.On(events.TaskCreated, s.onMutationEvent)
		s.bus.On(events.TaskUpdated, s.onMutationEvent)
		s.bus.On(events.TaskDeleted, s.onMutationEvent)
	}

	if s.syncService != nil {
		s.syncService.SetSnapshotFunc(s.jsonSource.SerializeJSON)
	}

	s.invalidateCache()
	s.initMu.Lock()
	s.initialized = true
	s.initMu.Unlock()

	s.bus.Emit(events.StoreInitialized, nil)
	s.notifier.Trigger()
	return nil
}

// onMutationEvent runs for every task:created/updated/deleted event from
// any source: drop the cache, debounce a listener notification, and
// schedule a remote push of a fresh snapshot.
func (s *TaskStore) onMutationEvent(any) {
	s.invalidateCache()
	s.notifier.Trigger()
	s.schedulePush()
}

func (s *TaskStore) invalidateCache() {
	s.cacheMu.Lock()
	s.cache = nil
	s.cacheValid = false
	s.cacheMu.Unlock()
}

// schedulePush is best-effort and fire-and-forget: a failure here never
// affects the local mutation that triggered it.
func (s *TaskStore) schedulePush() {
	if s.syncService == nil || !s.syncService.Configured() {
		return
	}
	content, err := s.jsonSource.SerializeJSON()
	if err != nil {
		s.logger.Warn("snapshot for push failed", "error", err)
		return
	}
	s.syncService.SchedulePush(content)
}

// GetAllTasks is cache-first: on miss it delegates to the repository and
// keeps the result until the next mutation event invalidates it.
func (s *TaskStore) GetAllTasks() []models.Task {
	s.cacheMu.Lock()
	if s.cacheValid {
		cached := s.cache
		s.cacheMu.Unlock()
		return cached
	}
	s.cacheMu.Unlock()

	tasks := s.repo.GetAllTasks()

	s.cacheMu.Lock()
	s.cache = tasks
	s.cacheValid = true
	s.cacheMu.Unlock()
	return tasks
}

// GetTaskByID looks up one task in the aggregate view.
func (s *TaskStore) GetTaskByID(id string) (models.Task, error) {
	if t, ok := s.repo.GetTaskByID(id); ok {
		return t, nil
	}
	return models.Task{}, &NotFoundError{ID: id}
}

// GetChildTasks returns the direct children of a parent task.
func (s *TaskStore) GetChildTasks(parentID string) []models.Task {
	return s.repo.GetChildTasks(parentID)
}

// sourceFor routes a mutation to the data source owning the task.
func (s *TaskStore) sourceFor(id string) (DataSource, error) {
	task, ok := s.repo.GetTaskByID(id)
	if !ok {
		return nil, &NotFoundError{ID: id}
	}
	source, ok := s.repo.Source(task.SourceID)
	if !ok {
		return nil, fmt.Errorf("task %s belongs to unregistered source %s", id, task.SourceID)
	}
	if source.ReadOnly() {
		return nil, fmt.Errorf("source %s is read-only", task.SourceID)
	}
	return source, nil
}

// CreateTask adds a task to the JSON source. Correctness of the read path
// relies on the event-driven invalidation, not on pre-emptive cache writes.
func (s *TaskStore) CreateTask(task models.Task) (models.Task, error) {
	return s.jsonSource.CreateTask(task)
}

// CreateTaskIn adds a task to a specific registered source.
func (s *TaskStore) CreateTaskIn(sourceID string, task models.Task) (models.Task, error) {
	source, ok := s.repo.Source(sourceID)
	if !ok {
		return models.Task{}, fmt.Errorf("unknown data source %s", sourceID)
	}
	if source.ReadOnly() {
		return models.Task{}, fmt.Errorf("source %s is read-only", sourceID)
	}
	return source.CreateTask(task)
}

// UpdateTask applies a partial update to the task's owning source.
func (s *TaskStore) UpdateTask(id string, changes models.TaskChanges) (models.Task, error) {
	source, err := s.sourceFor(id)
	if err != nil {
		return models.Task{}, err
	}
	return source.UpdateTask(id, changes)
}

// DeleteTask removes the task from its owning source.
func (s *TaskStore) DeleteTask(id string) error {
	source, err := s.sourceFor(id)
	if err != nil {
		return err
	}
	return source.DeleteTask(id)
}

// ArchiveTask moves the task into its source's archive, when the source
// supports one.
func (s *TaskStore) ArchiveTask(id string) error {
	source, err := s.sourceFor(id)
	if err != nil {
		return err
	}
	archiver, ok := source.(Archiver)
	if !ok {
		return fmt.Errorf("source %s does not support archiving", source.SourceID())
	}
	return archiver.ArchiveTask(id)
}

// RestoreTask moves an archived task back into the active set.
func (s *TaskStore) RestoreTask(id string) (models.Task, error) {
	return s.jsonSource.RestoreTask(id)
}

// GetArchivedTasks lists archived tasks across sources that keep one.
func (s *TaskStore) GetArchivedTasks() ([]models.Task, error) {
	out, err := s.jsonSource.ArchivedTasks()
	if err != nil {
		return nil, err
	}
	for _, source := range s.extra {
		archiver, ok := source.(Archiver)
		if !ok {
			continue
		}
		more, err := archiver.ArchivedTasks()
		if err != nil {
			return nil, err
		}
		out = append(out, more...)
	}
	return out, nil
}

// GetStatus reports repository stats, per-source persistence state, and
// remote sync state.
func (s *TaskStore) GetStatus() StoreStatus {
	s.initMu.Lock()
	initialized := s.initialized
	s.initMu.Unlock()

	status := StoreStatus{
		Initialized: initialized,
		Stats:       s.repo.GetStats(),
	}
	if s.jsonSource != nil {
		status.Sources = append(status.Sources, s.jsonSource.SyncStatus())
	}
	for _, source := range s.extra {
		status.Sources = append(status.Sources, source.SyncStatus())
	}
	if s.syncService != nil {
		status.Sync = s.syncService.Status()
	}
	return status
}

// OnUpdate subscribes a listener to debounced change notifications: a
// burst of rapid mutations collapses into a single call.
func (s *TaskStore) OnUpdate(listener UpdateListener) {
	if listener == nil {
		return
	}
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	s.listeners = append(s.listeners, listener)
}

// OffUpdate removes the first registration matching the listener.
func (s *TaskStore) OffUpdate(listener UpdateListener) {
	if listener == nil {
		return
	}
	target := reflect.ValueOf(listener).Pointer()
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	for i, l := range s.listeners {
		if reflect.ValueOf(l).Pointer() == target {
			s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
			return
		}
	}
}

func (s *TaskStore) notifyListeners() {
	s.listenerMu.Lock()
	listeners := make([]UpdateListener, len(s.listeners))
	copy(listeners, s.listeners)
	s.listenerMu.Unlock()

	for _, listener := range listeners {
		s.invokeListener(listener)
	}
}

func (s *TaskStore) invokeListener(listener UpdateListener) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("update listener panicked", "panic", r)
		}
	}()
	listener()
}

// ConfigureGitHubSync stores credentials and callbacks for remote
// replication. Sync errors are reported only through the error callback;
// they never propagate into the mutation call path.
func (s *TaskStore) ConfigureGitHubSync(creds github.Credentials, onSuccess func(time.Time), onError func(error)) error {
	if s.syncService == nil {
		return github.ErrNotConfigured
	}
	wrapped := func(when time.Time) {
		s.jsonSource.MarkSynced()
		if onSuccess != nil {
			onSuccess(when)
		}
	}
	return s.syncService.Configure(creds, wrapped, onError)
}

// SerializeDocument returns the current document as JSON, the shape that
// gets replicated to the remote.
func (s *TaskStore) SerializeDocument() ([]byte, error) {
	return s.jsonSource.SerializeJSON()
}

// SyncService exposes the remote replication service, or nil when the
// store was built without one.
func (s *TaskStore) SyncService() *github.SyncService {
	return s.syncService
}

// DisableGitHubSync drops credentials and cancels pending pushes.
func (s *TaskStore) DisableGitHubSync() {
	if s.syncService != nil {
		s.syncService.Disable()
	}
}

// IsGitHubSyncConfigured reports whether remote sync is active.
func (s *TaskStore) IsGitHubSyncConfigured() bool {
	return s.syncService != nil && s.syncService.Configured()
}

// PushToGitHubNow serializes a fresh snapshot and pushes it immediately,
// bypassing the debounce window.
func (s *TaskStore) PushToGitHubNow() error {
	if s.syncService == nil || !s.syncService.Configured() {
		return github.ErrNotConfigured
	}
	content, err := s.jsonSource.SerializeJSON()
	if err != nil {
		return fmt.Errorf("serialize document: %w", err)
	}
	return s.syncService.PushNow(content)
}

// FlushSave flushes the JSON source's pending write, then the sync
// service's pending push, in that order, both to completion. Call before
// process teardown.
func (s *TaskStore) FlushSave() error {
	if err := s.jsonSource.FlushSave(); err != nil {
		return err
	}
	if s.syncService != nil && s.syncService.Configured() {
		return s.syncService.Flush()
	}
	return nil
}

// Close tears the store down. Callers that care about unpersisted state
// must FlushSave first.
func (s *TaskStore) Close() error {
	s.notifier.Stop()
	var firstErr error
	if s.jsonSource != nil {
		if err := s.jsonSource.Destroy(); err != nil {
			firstErr = err
		}
	}
	for _, source := range s.extra {
		if err := source.Destroy(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.syncService != nil {
		s.syncService.StopSchedule()
	}
	s.repo.Clear()
	return firstErr
}
