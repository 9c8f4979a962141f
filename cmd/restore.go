package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var restoreCmd = &cobra.Command{
	Use:   "restore <id>",
	Short: "Bring an archived task back into the active list",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := buildStore()
		if err != nil {
			return err
		}
		defer closeStore(s)

		id, err := resolveArchivedTaskID(s, args[0])
		if err != nil {
			return err
		}
		task, err := s.RestoreTask(id)
		if err != nil {
			return err
		}
		fmt.Printf("Restored %s: %s\n", shortID(task.ID), task.Title)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(restoreCmd)
}
