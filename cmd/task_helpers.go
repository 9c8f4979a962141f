package cmd

import (
	"fmt"
	"strings"

	"github.com/taskdock/taskdock/store"
)

// resolveTaskID expands a (possibly truncated) id into the full task id.
// Prefix matches must be unique.
func resolveTaskID(s *store.TaskStore, prefix string) (string, error) {
	if prefix == "" {
		return "", fmt.Errorf("task id is required")
	}
	if _, err := s.GetTaskByID(prefix); err == nil {
		return prefix, nil
	}

	var matches []string
	for _, t := range s.GetAllTasks() {
		if strings.HasPrefix(t.ID, prefix) {
			matches = append(matches, t.ID)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return "", fmt.Errorf("no task matches id %q", prefix)
	default:
		return "", fmt.Errorf("id %q is ambiguous (%d matches)", prefix, len(matches))
	}
}

// resolveArchivedTaskID is the archive-side counterpart of resolveTaskID.
func resolveArchivedTaskID(s *store.TaskStore, prefix string) (string, error) {
	archived, err := s.GetArchivedTasks()
	if err != nil {
		return "", err
	}
	var matches []string
	for _, t := range archived {
		if t.ID == prefix {
			return prefix, nil
		}
		if strings.HasPrefix(t.ID, prefix) {
			matches = append(matches, t.ID)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return "", fmt.Errorf("no archived task matches id %q", prefix)
	default:
		return "", fmt.Errorf("id %q is ambiguous (%d matches)", prefix, len(matches))
	}
}
