package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/taskdock/taskdock/models"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	RunE:  runList,
}

var (
	listAll      bool
	listArchived bool
	listTag      string
	listType     string
	listPending  bool
)

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().BoolVarP(&listAll, "all", "a", false, "include completed and cancelled tasks")
	listCmd.Flags().BoolVar(&listArchived, "archived", false, "list archived tasks instead")
	listCmd.Flags().StringVar(&listTag, "tag", "", "filter by tag")
	listCmd.Flags().StringVar(&listType, "type", "", "filter by type (todo, reminder)")
	listCmd.Flags().BoolVar(&listPending, "pending", false, "only pending tasks")
}

func runList(cmd *cobra.Command, args []string) error {
	s, err := buildStore()
	if err != nil {
		return err
	}
	defer closeStore(s)

	var tasks []models.Task
	if listArchived {
		tasks, err = s.GetArchivedTasks()
		if err != nil {
			return err
		}
	} else {
		tasks = s.GetAllTasks()
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tSTATUS\tPRIORITY\tDUE\tTITLE")
	shown := 0
	for _, t := range tasks {
		if !listAll && !listArchived && (t.Completed || t.Cancelled) {
			continue
		}
		if listPending && t.Status() != "pending" {
			continue
		}
		if listTag != "" && !t.HasTag(listTag) {
			continue
		}
		if listType != "" && string(t.Type) != listType {
			continue
		}
		due := ""
		if t.Due != nil {
			due = string(*t.Due)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", shortID(t.ID), t.Type, t.Status(), t.Priority, due, t.Title)
		shown++
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if shown == 0 {
		fmt.Println("No tasks found.")
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
