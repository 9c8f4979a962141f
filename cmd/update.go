package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/taskdock/taskdock/models"
)

var updateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update fields of a task",
	Long: `Apply a partial update. Only supplied flags change anything;
--clear removes a date field entirely.

Examples:
  taskdock update 4f7c --title "New title" --priority low
  taskdock update 4f7c --due 2026-10-01
  taskdock update 4f7c --clear due --clear scheduled`,
	Args: cobra.ExactArgs(1),
	RunE: runUpdate,
}

var (
	updTitle     string
	updDesc      string
	updPriority  string
	updType      string
	updTags      []string
	updParent    string
	updDue       string
	updScheduled string
	updStart     string
	updClear     []string
)

func init() {
	rootCmd.AddCommand(updateCmd)

	updateCmd.Flags().StringVar(&updTitle, "title", "", "new title")
	updateCmd.Flags().StringVarP(&updDesc, "desc", "d", "", "new description")
	updateCmd.Flags().StringVarP(&updPriority, "priority", "p", "", "new priority (high, normal, low)")
	updateCmd.Flags().StringVar(&updType, "type", "", "new type (todo, reminder)")
	updateCmd.Flags().StringSliceVarP(&updTags, "tags", "t", nil, "replace tags")
	updateCmd.Flags().StringVar(&updParent, "parent", "", "new parent task id (use 'none' to detach)")
	updateCmd.Flags().StringVar(&updDue, "due", "", "due date (YYYY-MM-DD)")
	updateCmd.Flags().StringVar(&updScheduled, "scheduled", "", "scheduled date (YYYY-MM-DD)")
	updateCmd.Flags().StringVar(&updStart, "start", "", "start date (YYYY-MM-DD)")
	updateCmd.Flags().StringSliceVar(&updClear, "clear", nil, "clear a date field (due, scheduled, start, completion)")
}

// buildChanges assembles the partial-update payload. An untouched flag
// stays out of the map entirely, so the source leaves the field alone; a
// cleared date goes in as an explicit nil.
func buildChanges(cmd *cobra.Command) (models.TaskChanges, error) {
	changes := models.TaskChanges{}

	if cmd.Flags().Changed("title") {
		changes["title"] = updTitle
	}
	if cmd.Flags().Changed("desc") {
		changes["description"] = updDesc
	}
	if cmd.Flags().Changed("priority") {
		changes["priority"] = updPriority
	}
	if cmd.Flags().Changed("type") {
		changes["type"] = updType
	}
	if cmd.Flags().Changed("tags") {
		changes["tags"] = updTags
	}
	if cmd.Flags().Changed("parent") {
		if updParent == "none" {
			changes["parentId"] = nil
		} else {
			changes["parentId"] = updParent
		}
	}

	dates := map[string]string{"due": updDue, "scheduled": updScheduled, "start": updStart}
	for name, value := range dates {
		if !cmd.Flags().Changed(name) {
			continue
		}
		if _, err := models.Date(value).Time(); err != nil {
			return nil, fmt.Errorf("invalid --%s date %q, expected YYYY-MM-DD", name, value)
		}
		changes[name] = value
	}

	for _, field := range updClear {
		switch field {
		case "due", "scheduled", "start", "completion", "created", "cancelledDate":
			changes[field] = nil
		default:
			return nil, fmt.Errorf("cannot clear unknown field %q", field)
		}
	}

	if len(changes) == 0 {
		return nil, fmt.Errorf("nothing to update; pass at least one flag")
	}
	return changes, nil
}

func runUpdate(cmd *cobra.Command, args []string) error {
	changes, err := buildChanges(cmd)
	if err != nil {
		return err
	}

	s, err := buildStore()
	if err != nil {
		return err
	}
	defer closeStore(s)

	id, err := resolveTaskID(s, args[0])
	if err != nil {
		return err
	}
	updated, err := s.UpdateTask(id, changes)
	if err != nil {
		return err
	}

	fmt.Printf("Updated %s: %s (v%d)\n", shortID(updated.ID), updated.Title, updated.Version)
	return nil
}
