package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var archiveCmd = &cobra.Command{
	Use:   "archive <id>",
	Short: "Move a task out of the active list",
	Long: `Archive a task. Archived tasks leave the active list but stay in the
document and can be brought back with "taskdock restore".`,
	Args: cobra.ExactArgs(1),
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
		task, err := s.GetTaskByID(id)
		if err != nil {
			return err
		}
		if err := s.ArchiveTask(id); err != nil {
			return err
		}
		fmt.Printf("Archived %s: %s\n", shortID(task.ID), task.Title)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(archiveCmd)
}
