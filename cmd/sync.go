package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Manage GitHub replication",
}

var syncNowCmd = &cobra.Command{
	Use:   "now",
	Short: "Push the current document immediately",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := buildStore()
		if err != nil {
			return err
		}
		defer closeStore(s)

		if !s.IsGitHubSyncConfigured() {
			return fmt.Errorf("github sync is not configured; set sync.enabled, sync.owner, sync.repo, and sync.token")
		}
		if err := s.PushToGitHubNow(); err != nil {
			return fmt.Errorf("push failed: %w", err)
		}
		fmt.Println("Pushed.")
		return nil
	},
}

var syncSetupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Verify credentials and provision the remote repository",
	Long: `Check the configured token, create the target repository if it does
not exist, and seed it with the current task document.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := buildStore()
		if err != nil {
			return err
		}
		defer closeStore(s)

		svc := s.SyncService()
		if svc == nil || !svc.Configured() {
			return fmt.Errorf("github sync is not configured; set sync.enabled, sync.owner, sync.repo, and sync.token")
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		login, err := svc.Identity(ctx)
		if err != nil {
			return fmt.Errorf("token check failed: %w", err)
		}
		fmt.Printf("Authenticated as %s\n", login)

		doc, err := s.SerializeDocument()
		if err != nil {
			return err
		}
		if err := svc.EnsureRepo(ctx, doc); err != nil {
			return err
		}
		config := GetConfig()
		fmt.Printf("Repository %s/%s is ready.\n", config.Sync.Owner, config.Sync.Repo)
		return nil
	},
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show local persistence and remote sync state",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := buildStore()
		if err != nil {
			return err
		}
		defer closeStore(s)

		status := s.GetStatus()
		fmt.Printf("Tasks: %d (%d todos, %d reminders)\n",
			status.Stats.Total, status.Stats.Todos, status.Stats.Reminders)

		for _, src := range status.Sources {
			state := "clean"
			if src.Dirty {
				state = "dirty"
			}
			if src.PendingSave {
				state += ", save pending"
			}
			line := fmt.Sprintf("Source %s: %s", src.SourceID, state)
			if !src.LastSaved.IsZero() {
				line += fmt.Sprintf(" (last saved %s)", src.LastSaved.Format(time.RFC3339))
			}
			fmt.Println(line)
		}

		if !status.Sync.Configured {
			fmt.Println("GitHub sync: disabled")
			return nil
		}
		fmt.Println("GitHub sync: enabled")
		if status.Sync.InFlight {
			fmt.Println("  push in flight")
		}
		if status.Sync.PendingPush {
			fmt.Println("  push pending")
		}
		if !status.Sync.LastPush.IsZero() {
			fmt.Printf("  last push %s\n", status.Sync.LastPush.Format(time.RFC3339))
		}
		if status.Sync.LastError != nil {
			fmt.Printf("  last error: %v\n", status.Sync.LastError)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.AddCommand(syncNowCmd, syncSetupCmd, syncStatusCmd)
}
