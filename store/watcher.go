package store

import (
	"path/filepath"
	"reflect"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"

	"github.com/taskdock/taskdock/internal/debounce"
	"github.com/taskdock/taskdock/models"
)

// documentWatcher reloads the JSON source when an external writer touches
// the document on disk. Events caused by the source's own saves are
// filtered by comparing content checksums.
type documentWatcher struct {
	source  *JSONDataSource
	watcher *fsnotify.Watcher
	reload  *debounce.Debouncer
	done    chan struct{}
}

func newDocumentWatcher(s *JSONDataSource) (*documentWatcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory: editors replace files by rename, which drops
	// a watch placed on the file itself.
	if err := fw.Add(filepath.Dir(s.filePath)); err != nil {
		_ = fw.Close()
		return nil, err
	}

	w := &documentWatcher{
		source:  s,
		watcher: fw,
		done:    make(chan struct{}),
	}
	w.reload = debounce.New(250*time.Millisecond, s.reloadExternal)
	go w.loop()
	return w, nil
}

func (w *documentWatcher) loop() {
	target := filepath.Clean(w.source.filePath)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.reload.Trigger()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.source.logger.Warn("watch error", "error", err)
		case <-w.done:
			return
		}
	}
}

func (w *documentWatcher) stop() {
	close(w.done)
	_ = w.watcher.Close()
	w.reload.Stop()
}

// reloadExternal re-reads the document from disk, diffs it against the
// in-memory state, and emits the resulting change set. The on-disk state
// wins.
func (s *JSONDataSource) reloadExternal() {
	data, err := afero.ReadFile(s.fsys, s.filePath)
	if err != nil {
		s.logger.Warn("external reload failed", "path", s.filePath, "error", err)
		return
	}

	s.mu.Lock()
	if checksum(data) == s.lastWrittenSum {
		// Our own write or unchanged content.
		s.mu.Unlock()
		return
	}
	doc := models.NewTaskDocument()
	if err := s.unmarshalDocument(data, doc); err != nil {
		s.mu.Unlock()
		s.logger.Warn("external edit is not a valid document, keeping in-memory state", "path", s.filePath, "error", err)
		return
	}
	normalizeDocument(doc)

	cs := diffTasks(s.doc.Tasks, doc.Tasks)
	s.doc = doc
	s.lastWrittenSum = checksum(data)
	s.dirty = false
	s.mu.Unlock()

	s.logger.Info("document reloaded after external edit", "path", s.filePath,
		"created", len(cs.Created), "updated", len(cs.Updated), "deleted", len(cs.Deleted))
	s.emit(cs)
}

// diffTasks computes the batch diff from old to cur active task sets.
func diffTasks(old, cur []models.Task) ChangeSet {
	cs := ChangeSet{SourceID: jsonSourceID}
	oldByID := make(map[string]models.Task, len(old))
	for _, t := range old {
		oldByID[t.ID] = t
	}
	seen := make(map[string]bool, len(cur))
	for _, t := range cur {
		seen[t.ID] = true
		prev, ok := oldByID[t.ID]
		if !ok {
			cs.Created = append(cs.Created, t)
			continue
		}
		if !reflect.DeepEqual(prev, t) {
			cs.Updated = append(cs.Updated, t)
		}
	}
	for _, t := range old {
		if !seen[t.ID] {
			cs.Deleted = append(cs.Deleted, t.ID)
		}
	}
	return cs
}
