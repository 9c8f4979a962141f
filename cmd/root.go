package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/taskdock/taskdock/internal/github"
	"github.com/taskdock/taskdock/store"
)

var (
	// cfgFile is the path to the configuration file.
	cfgFile string
	// verbose enables debug logging.
	verbose bool
	// version is the application version.
	version = "0.3.0"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "taskdock",
	Short: "taskdock keeps your tasks in a local document, replicated to GitHub.",
	Long: `taskdock is a local-first task manager. Tasks live in a single JSON
document on disk, stay queryable through an in-memory view, and are
optimistically replicated to a GitHub repository in the background.`,
	Version: version,
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(InitConfig, initLogging)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./.taskdock/.taskdock.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func initLogging() {
	level := slog.LevelWarn
	if GetConfig().Verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// GetTaskFilePath returns the full path to the task document.
func GetTaskFilePath() string {
	config := GetConfig()
	return filepath.Join(config.Project.RootDir, config.Data.File)
}

// buildStore assembles the task store from the loaded configuration.
func buildStore() (*store.TaskStore, error) {
	config := GetConfig()

	jsonSource := store.NewJSONDataSource(store.JSONSourceOptions{
		Path:      GetTaskFilePath(),
		Format:    config.Data.Format,
		SaveDelay: time.Duration(config.Data.SaveDelayMs) * time.Millisecond,
		Watch:     config.Data.Watch,
	})

	var extra []store.DataSource
	if config.SQLite.Enabled {
		path := config.SQLite.File
		if path != ":memory:" {
			path = filepath.Join(config.Project.RootDir, path)
		}
		extra = append(extra, store.NewSQLiteDataSource(path, nil))
	}

	var syncService *github.SyncService
	if config.Sync.Enabled {
		syncService = github.NewSyncService(github.ServiceOptions{
			PushDelay: time.Duration(config.Sync.PushDelaySec) * time.Second,
		})
	}

	s := store.NewTaskStore(store.Options{
		JSONSource:   jsonSource,
		ExtraSources: extra,
		SourceConfig: store.DataSourceConfig{
			Enabled:            true,
			SyncDirection:      config.Sync.Direction,
			AutoSync:           config.Sync.AutoSync,
			ConflictResolution: config.Sync.ConflictResolution,
		},
		Sync: syncService,
	})

	if err := s.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize store at %s: %w", GetTaskFilePath(), err)
	}

	if syncService != nil {
		creds := github.Credentials{
			Token:  config.Sync.Token,
			Owner:  config.Sync.Owner,
			Repo:   config.Sync.Repo,
			Branch: config.Sync.Branch,
			Path:   config.Sync.Path,
		}
		if err := s.ConfigureGitHubSync(creds, nil, func(err error) {
			slog.Warn("background sync failed", "error", err)
		}); err != nil {
			slog.Warn("github sync disabled", "error", err)
		} else if config.Sync.AutoSync && config.Sync.Schedule != "" {
			if err := syncService.StartSchedule(config.Sync.Schedule); err != nil {
				slog.Warn("sync schedule not armed", "error", err)
			}
		}
	}

	return s, nil
}

// closeStore flushes pending local and remote writes before teardown.
func closeStore(s *store.TaskStore) {
	if err := s.FlushSave(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: flush failed: %v\n", err)
	}
	_ = s.Close()
}
