package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a taskdock project in the current directory",
	RunE:  runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

const defaultConfigYAML = `project:
  rootDir: .taskdock

data:
  file: tasks.json
  format: json
  saveDelayMs: 500
  watch: false

sqlite:
  enabled: false
  file: tasks.db

sync:
  enabled: false
  owner: ""
  repo: ""
  branch: main
  path: tasks.json
  direction: push
  conflictResolution: local-wins
  autoSync: true
  pushDelaySec: 10
`

func runInit(cmd *cobra.Command, args []string) error {
	config := GetConfig()
	rootDir := config.Project.RootDir
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", rootDir, err)
	}

	configPath := filepath.Join(rootDir, configName+".yaml")
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := os.WriteFile(configPath, []byte(defaultConfigYAML), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", configPath, err)
		}
		fmt.Printf("Created %s\n", configPath)
	} else {
		fmt.Printf("Config already exists at %s\n", configPath)
	}

	// Initializing the store creates the task document.
	s, err := buildStore()
	if err != nil {
		return err
	}
	defer closeStore(s)

	fmt.Printf("Task document ready at %s\n", GetTaskFilePath())
	return nil
}
