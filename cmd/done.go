package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskdock/taskdock/models"
)

var doneReopen bool

var doneCmd = &cobra.Command{
	Use:   "done <id>",
	Short: "Mark a task as completed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := buildStore()
		if err != nil {
			return err
		}
		defer closeStore(s)

		id, err := resolveTaskID(s, args[0])
		if err != nil {
			return err
		}

		changes := models.TaskChanges{
			"completed":  !doneReopen,
			"completion": time.Now().Format(models.DateLayout),
		}
		if doneReopen {
			changes["completion"] = nil
		}

		updated, err := s.UpdateTask(id, changes)
		if err != nil {
			return err
		}
		if doneReopen {
			fmt.Printf("Reopened %s: %s\n", shortID(updated.ID), updated.Title)
		} else {
			fmt.Printf("Completed %s: %s\n", shortID(updated.ID), updated.Title)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(doneCmd)
	doneCmd.Flags().BoolVar(&doneReopen, "undo", false, "reopen a completed task")
}
