package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/taskdock/taskdock/models"
)

var addCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Add a new task",
	Long: `Add a task to the local document.

Examples:
  taskdock add "Ship the release" --priority high --due 2026-09-15
  taskdock add "Water the plants" --type reminder --scheduled 2026-09-01
  taskdock add "Write docs" --tags work,docs --parent 4f7c...`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAdd,
}

var (
	addType        string
	addPriority    string
	addDescription string
	addTags        []string
	addParent      string
	addDue         string
	addScheduled   string
	addStart       string
	addSource      string
)

func init() {
	rootCmd.AddCommand(addCmd)

	addCmd.Flags().StringVar(&addType, "type", string(models.TypeTodo), "task type (todo, reminder)")
	addCmd.Flags().StringVarP(&addPriority, "priority", "p", string(models.PriorityNormal), "priority (high, normal, low)")
	addCmd.Flags().StringVarP(&addDescription, "desc", "d", "", "longer description")
	addCmd.Flags().StringSliceVarP(&addTags, "tags", "t", nil, "comma-separated tags")
	addCmd.Flags().StringVar(&addParent, "parent", "", "parent task id")
	addCmd.Flags().StringVar(&addDue, "due", "", "due date (YYYY-MM-DD)")
	addCmd.Flags().StringVar(&addScheduled, "scheduled", "", "scheduled date (YYYY-MM-DD)")
	addCmd.Flags().StringVar(&addStart, "start", "", "start date (YYYY-MM-DD)")
	addCmd.Flags().StringVar(&addSource, "source", "", "data source id (defaults to the document source)")
}

func parseDateFlag(name, value string) (*models.Date, error) {
	if value == "" {
		return nil, nil
	}
	d := models.Date(value)
	if _, err := d.Time(); err != nil {
		return nil, fmt.Errorf("invalid --%s date %q, expected YYYY-MM-DD", name, value)
	}
	return &d, nil
}

func runAdd(cmd *cobra.Command, args []string) error {
	title := strings.TrimSpace(strings.Join(args, " "))
	if title == "" {
		return fmt.Errorf("title cannot be empty")
	}

	task := models.NewTask(title)
	task.Type = models.TaskType(addType)
	task.Priority = models.TaskPriority(addPriority)
	task.Description = addDescription
	task.Tags = addTags
	if addParent != "" {
		task.ParentID = &addParent
	}

	var err error
	if task.Due, err = parseDateFlag("due", addDue); err != nil {
		return err
	}
	if task.Scheduled, err = parseDateFlag("scheduled", addScheduled); err != nil {
		return err
	}
	if task.Start, err = parseDateFlag("start", addStart); err != nil {
		return err
	}

	s, err := buildStore()
	if err != nil {
		return err
	}
	defer closeStore(s)

	var created models.Task
	if addSource != "" {
		created, err = s.CreateTaskIn(addSource, task)
	} else {
		created, err = s.CreateTask(task)
	}
	if err != nil {
		return err
	}

	fmt.Printf("Added %s task %s: %s\n", created.Type, created.ID, created.Title)
	return nil
}
