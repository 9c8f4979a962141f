package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/taskdock/taskdock/models"
)

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one task in detail",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

func init() {
	rootCmd.AddCommand(showCmd)
}

func printDate(label string, d *models.Date) {
	if d != nil {
		fmt.Printf("%-12s %s\n", label+":", *d)
	}
}

func runShow(cmd *cobra.Command, args []string) error {
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

	fmt.Printf("%-12s %s\n", "ID:", task.ID)
	fmt.Printf("%-12s %s\n", "Title:", task.Title)
	if task.Description != "" {
		fmt.Printf("%-12s %s\n", "Description:", task.Description)
	}
	fmt.Printf("%-12s %s\n", "Type:", task.Type)
	fmt.Printf("%-12s %s\n", "Status:", task.Status())
	fmt.Printf("%-12s %s\n", "Priority:", task.Priority)
	if len(task.Tags) > 0 {
		fmt.Printf("%-12s %s\n", "Tags:", strings.Join(task.Tags, ", "))
	}
	if task.ParentID != nil {
		fmt.Printf("%-12s %s\n", "Parent:", *task.ParentID)
	}
	printDate("Created", task.Created)
	printDate("Start", task.Start)
	printDate("Scheduled", task.Scheduled)
	printDate("Due", task.Due)
	printDate("Completion", task.Completion)
	printDate("Cancelled", task.CancelledDate)
	fmt.Printf("%-12s %s\n", "Source:", task.SourceID)
	fmt.Printf("%-12s v%d, %s\n", "Revision:", task.Version, task.UpdatedAt.Format("2006-01-02 15:04:05 MST"))

	children := s.GetChildTasks(task.ID)
	if len(children) > 0 {
		fmt.Println("Subtasks:")
		for _, c := range children {
			fmt.Printf("  %s  %s (%s)\n", shortID(c.ID), c.Title, c.Status())
		}
	}
	return nil
}
