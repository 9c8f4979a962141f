package store

import (
	"fmt"
	"time"

	"github.com/taskdock/taskdock/models"
)

// DataSourceConfig is supplied at construction and may be re-applied on
// re-initialization.
type DataSourceConfig struct {
	Enabled bool
	// SyncDirection is bidirectional or push.
	SyncDirection string
	AutoSync      bool
	// ConflictResolution names the policy for remote conflicts. Only
	// local-wins is implemented: the latest local write overwrites the
	// remote, never merged.
	ConflictResolution string
}

// ChangeSet is a batch-shaped diff a source hands to its change handler.
// A source calls the handler only after the change is durably applied to
// its own state; the event notifies committed state, it is not an intent.
type ChangeSet struct {
	SourceID string
	Created  []models.Task
	Updated  []models.Task
	Deleted  []string
}

// Empty reports whether the set carries no changes.
func (c ChangeSet) Empty() bool {
	return len(c.Created) == 0 && len(c.Updated) == 0 && len(c.Deleted) == 0
}

// ChangeHandler receives committed change batches from a data source.
type ChangeHandler func(ChangeSet)

// SyncStatus describes a source's persistence state.
type SyncStatus struct {
	SourceID    string
	Dirty       bool
	PendingSave bool
	LastSaved   time.Time
}

// DataSource is the capability contract any task backend must satisfy.
// OnChange accepts exactly one handler; the last registration wins.
type DataSource interface {
	SourceID() string
	SourceName() string
	ReadOnly() bool

	Initialize(cfg DataSourceConfig) error
	Tasks() ([]models.Task, error)
	OnChange(handler ChangeHandler)

	CreateTask(task models.Task) (models.Task, error)
	UpdateTask(id string, changes models.TaskChanges) (models.Task, error)
	DeleteTask(id string) error

	SyncStatus() SyncStatus
	Destroy() error
}

// NotFoundError reports an unknown task id on update or delete.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("task with ID '%s' not found", e.ID)
}

// LoadError reports unreadable underlying storage during initialization.
// Corrupt but readable content is not a LoadError: it is logged and the
// store starts empty.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load task document from %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }
