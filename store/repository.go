package store

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/taskdock/taskdock/internal/events"
	"github.com/taskdock/taskdock/models"
)

// RepositoryStats summarizes the aggregate view.
type RepositoryStats struct {
	Total     int
	Todos     int
	Reminders int
	Sources   int
}

// TaskRepository presents one queryable view over N registered data
// sources. It owns the aggregate by-id and by-parent indices exclusively;
// the sources stay the truth for persistence of their own records.
type TaskRepository struct {
	bus    *events.Bus
	logger *slog.Logger

	mu       sync.RWMutex
	sources  map[string]DataSource
	byID     map[string]models.Task
	byParent map[string][]string
}

// NewTaskRepository creates an empty repository publishing domain events on
// the given bus.
func NewTaskRepository(bus *events.Bus, logger *slog.Logger) *TaskRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskRepository{
		bus:      bus,
		logger:   logger.With("component", "task_repository"),
		sources:  make(map[string]DataSource),
		byID:     make(map[string]models.Task),
		byParent: make(map[string][]string),
	}
}

// RegisterDataSource subscribes to the source's changes and seeds the
// aggregate with one Tasks call.
func (r *TaskRepository) RegisterDataSource(source DataSource) error {
	tasks, err := source.Tasks()
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.sources[source.SourceID()] = source
	for _, t := range tasks {
		r.byID[t.ID] = t
	}
	r.rebuildParentIndexLocked()
	r.mu.Unlock()

	source.OnChange(r.handleChange)
	r.logger.Info("data source registered", "source", source.SourceID(), "tasks", len(tasks))
	return nil
}

// handleChange applies a committed batch diff to the indices and re-emits
// domain events. Readers never observe partial state: the write lock spans
// the whole rebuild.
func (r *TaskRepository) handleChange(cs ChangeSet) {
	if cs.Empty() {
		return
	}

	r.mu.Lock()
	for _, t := range cs.Created {
		r.byID[t.ID] = t
	}
	for _, t := range cs.Updated {
		r.byID[t.ID] = t
	}
	for _, id := range cs.Deleted {
		delete(r.byID, id)
	}
	r.rebuildParentIndexLocked()
	r.mu.Unlock()

	for _, t := range cs.Created {
		r.bus.Emit(events.TaskCreated, t)
	}
	for _, t := range cs.Updated {
		r.bus.Emit(events.TaskUpdated, t)
	}
	for _, id := range cs.Deleted {
		r.bus.Emit(events.TaskDeleted, id)
	}
	r.bus.Emit(events.RepositoryChanged, cs)
}

func (r *TaskRepository) rebuildParentIndexLocked() {
	r.byParent = make(map[string][]string)
	for id, t := range r.byID {
		if t.ParentID != nil && *t.ParentID != "" {
			r.byParent[*t.ParentID] = append(r.byParent[*t.ParentID], id)
		}
	}
}

// GetAllTasks returns the current aggregate, excluding nothing. Filtering
// is a caller concern. Order is stable by id.
func (r *TaskRepository) GetAllTasks() []models.Task {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Task, 0, len(r.byID))
	for _, t := range r.byID {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetTaskByID is an O(1) lookup via the maintained index.
func (r *TaskRepository) GetTaskByID(id string) (models.Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byID[id]
	return t, ok
}

// GetChildTasks returns the direct children of the given parent.
func (r *TaskRepository) GetChildTasks(parentID string) []models.Task {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.byParent[parentID]
	out := make([]models.Task, 0, len(ids))
	for _, id := range ids {
		if t, ok := r.byID[id]; ok {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetStats computes counts from the current aggregate; never cached
// independently of the index.
func (r *TaskRepository) GetStats() RepositoryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := RepositoryStats{Total: len(r.byID), Sources: len(r.sources)}
	for _, t := range r.byID {
		switch t.Type {
		case models.TypeTodo:
			stats.Todos++
		case models.TypeReminder:
			stats.Reminders++
		}
	}
	return stats
}

// Source returns a registered data source by id.
func (r *TaskRepository) Source(id string) (DataSource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sources[id]
	return s, ok
}

// Clear drops all indices and detaches from sources, guaranteeing no stale
// entries survive a re-initialization.
func (r *TaskRepository) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, source := range r.sources {
		source.OnChange(nil)
	}
	r.sources = make(map[string]DataSource)
	r.byID = make(map[string]models.Task)
	r.byParent = make(map[string][]string)
}
