package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var deleteYes bool

var deleteCmd = &cobra.Command{
	Use:     "delete <id>",
	Aliases: []string{"rm"},
	Short:   "Delete a task permanently",
	Args:    cobra.ExactArgs(1),
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

		if !deleteYes {
			fmt.Printf("Delete %s: %s? [y/N] ", shortID(task.ID), task.Title)
			var answer string
			_, _ = fmt.Scanln(&answer)
			if answer != "y" && answer != "Y" {
				fmt.Println("Aborted.")
				return nil
			}
		}

		if err := s.DeleteTask(id); err != nil {
			return err
		}
		fmt.Printf("Deleted %s: %s\n", shortID(task.ID), task.Title)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(deleteCmd)
	deleteCmd.Flags().BoolVarP(&deleteYes, "yes", "y", false, "skip confirmation")
}
