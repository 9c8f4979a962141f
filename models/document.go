package models

import "time"

// DocumentVersion is the schema version written into new documents.
const DocumentVersion = 1

// TaskDocument is the single persisted artifact of the JSON data source:
// active tasks, archived tasks, and sync bookkeeping. It must round-trip
// losslessly through load and save.
type TaskDocument struct {
	Version  int    `json:"version" yaml:"version" toml:"version"`
	Tasks    []Task `json:"tasks" yaml:"tasks" toml:"tasks"`
	Archive  []Task `json:"archive" yaml:"archive" toml:"archive"`
	LastSync string `json:"lastSync,omitempty" yaml:"lastSync,omitempty" toml:"lastSync,omitempty"`
}

// NewTaskDocument returns an empty document at the current schema version.
func NewTaskDocument() *TaskDocument {
	return &TaskDocument{
		Version: DocumentVersion,
		Tasks:   []Task{},
		Archive: []Task{},
	}
}

// TouchLastSync stamps the document with the current time in RFC 3339.
func (d *TaskDocument) TouchLastSync() {
	d.LastSync = time.Now().UTC().Format(time.RFC3339)
}
