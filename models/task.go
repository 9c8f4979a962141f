package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// TaskType distinguishes the two kinds of records the store manages.
type TaskType string

const (
	TypeTodo     TaskType = "todo"
	TypeReminder TaskType = "reminder"
)

// TaskPriority represents the priority levels of a task.
type TaskPriority string

const (
	PriorityHigh   TaskPriority = "high"
	PriorityNormal TaskPriority = "normal"
	PriorityLow    TaskPriority = "low"
)

// DateLayout is the wire format for calendar dates. Task dates carry no
// time-of-day; anything beyond YYYY-MM-DD is rejected at validation.
const DateLayout = time.DateOnly

// Date is a calendar date without time-of-day.
type Date string

// Time parses the date at midnight UTC.
func (d Date) Time() (time.Time, error) {
	return time.Parse(DateLayout, string(d))
}

// Today returns the current calendar date in local time.
func Today() Date {
	return Date(time.Now().Format(DateLayout))
}

// Task is the canonical unit held by the repository. A task belongs to
// exactly one data source for the lifetime of its identity; SourceID is
// stamped by the owning source and never changes.
type Task struct {
	ID          string       `json:"id" validate:"required"`
	SourceID    string       `json:"sourceId,omitempty"`
	Type        TaskType     `json:"type" validate:"required,oneof=todo reminder"`
	Title       string       `json:"title" validate:"required,min=1,max=512"`
	Description string       `json:"description,omitempty"`
	Completed   bool         `json:"completed"`
	Cancelled   bool         `json:"cancelled"`
	Priority    TaskPriority `json:"priority" validate:"required,oneof=high normal low"`
	Tags        []string     `json:"tags,omitempty"`
	ParentID    *string      `json:"parentId,omitempty"`

	// Calendar dates. All optional; nil means unset.
	Created       *Date `json:"created,omitempty" validate:"omitempty,dateonly"`
	Start         *Date `json:"start,omitempty" validate:"omitempty,dateonly"`
	Scheduled     *Date `json:"scheduled,omitempty" validate:"omitempty,dateonly"`
	Due           *Date `json:"due,omitempty" validate:"omitempty,dateonly"`
	Completion    *Date `json:"completion,omitempty" validate:"omitempty,dateonly"`
	CancelledDate *Date `json:"cancelledDate,omitempty" validate:"omitempty,dateonly"`

	Archived  bool      `json:"archived,omitempty"`
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updatedAt" validate:"required"`
}

// Status reports the lifecycle state derived from the completion flags.
func (t Task) Status() string {
	switch {
	case t.Cancelled:
		return "cancelled"
	case t.Completed:
		return "completed"
	default:
		return "pending"
	}
}

// HasTag reports whether the task carries the given tag. Tag order is
// irrelevant; tags form a set.
func (t Task) HasTag(tag string) bool {
	for _, have := range t.Tags {
		if have == tag {
			return true
		}
	}
	return false
}

// NewTask returns a task with defaults applied. The ID is left empty so the
// owning data source can assign one.
func NewTask(title string) Task {
	created := Today()
	return Task{
		Type:      TypeTodo,
		Title:     title,
		Priority:  PriorityNormal,
		Created:   &created,
		Version:   1,
		UpdatedAt: time.Now().UTC(),
	}
}

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("dateonly", func(fl validator.FieldLevel) bool {
		_, err := time.Parse(DateLayout, fl.Field().String())
		return err == nil
	})
}

// ValidateStruct performs validation on any struct carrying validate tags.
func ValidateStruct(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	var messages []string
	for _, e := range validationErrors {
		messages = append(messages, fmt.Sprintf("field '%s' failed rule '%s' (value: '%v')", e.StructNamespace(), e.Tag(), e.Value()))
	}
	return fmt.Errorf("%s", strings.Join(messages, "; "))
}
