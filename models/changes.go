package models

import "fmt"

// TaskChanges is a partial-update payload. A key that is absent means "no
// change". A date field (or parentId) present with a nil value means "clear
// this field". The two cases must never be collapsed.
type TaskChanges map[string]any

// dateFields maps change keys to accessors for the task's clearable dates.
func dateField(t *Task, key string) (**Date, bool) {
	switch key {
	case "created":
		return &t.Created, true
	case "start":
		return &t.Start, true
	case "scheduled":
		return &t.Scheduled, true
	case "due":
		return &t.Due, true
	case "completion":
		return &t.Completion, true
	case "cancelledDate":
		return &t.CancelledDate, true
	}
	return nil, false
}

// Apply merges the changes onto the task in place. Identity fields (id,
// sourceId) and bookkeeping (version, updatedAt) are owned by the data
// source and rejected here.
func (c TaskChanges) Apply(t *Task) error {
	for key, value := range c {
		if field, ok := dateField(t, key); ok {
			if value == nil {
				*field = nil
				continue
			}
			s, ok := value.(string)
			if !ok {
				if d, ok := value.(Date); ok {
					s = string(d)
				} else {
					return fmt.Errorf("invalid value for date field %q: %T", key, value)
				}
			}
			d := Date(s)
			if _, err := d.Time(); err != nil {
				return fmt.Errorf("invalid value for date field %q: %w", key, err)
			}
			*field = &d
			continue
		}

		switch key {
		case "title":
			s, ok := value.(string)
			if !ok {
				return fmt.Errorf("invalid value for title: %T", value)
			}
			t.Title = s
		case "description":
			s, ok := value.(string)
			if !ok {
				return fmt.Errorf("invalid value for description: %T", value)
			}
			t.Description = s
		case "type":
			s, ok := value.(string)
			if !ok {
				return fmt.Errorf("invalid value for type: %T", value)
			}
			t.Type = TaskType(s)
		case "priority":
			s, ok := value.(string)
			if !ok {
				return fmt.Errorf("invalid value for priority: %T", value)
			}
			t.Priority = TaskPriority(s)
		case "completed":
			b, ok := value.(bool)
			if !ok {
				return fmt.Errorf("invalid value for completed: %T", value)
			}
			t.Completed = b
		case "cancelled":
			b, ok := value.(bool)
			if !ok {
				return fmt.Errorf("invalid value for cancelled: %T", value)
			}
			t.Cancelled = b
		case "archived":
			b, ok := value.(bool)
			if !ok {
				return fmt.Errorf("invalid value for archived: %T", value)
			}
			t.Archived = b
		case "tags":
			switch v := value.(type) {
			case []string:
				t.Tags = v
			case []any:
				tags := make([]string, 0, len(v))
				for _, item := range v {
					s, ok := item.(string)
					if !ok {
						return fmt.Errorf("invalid tag value: %T", item)
					}
					tags = append(tags, s)
				}
				t.Tags = tags
			case nil:
				t.Tags = nil
			default:
				return fmt.Errorf("invalid value for tags: %T", value)
			}
		case "parentId":
			if value == nil {
				t.ParentID = nil
				break
			}
			s, ok := value.(string)
			if !ok {
				return fmt.Errorf("invalid value for parentId: %T", value)
			}
			t.ParentID = &s
		case "id", "sourceId", "version", "updatedAt":
			return fmt.Errorf("field %q cannot be changed through an update", key)
		default:
			return fmt.Errorf("unknown task field %q", key)
		}
	}
	return nil
}
