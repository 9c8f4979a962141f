package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/taskdock/taskdock/types"
)

const (
	configName = ".taskdock"
	envPrefix  = "TASKDOCK"

	defaultRootDir = ".taskdock"
)

// GlobalAppConfig holds the global application configuration instance.
var GlobalAppConfig types.AppConfig

var validate = validator.New()

// GetConfig returns the loaded application configuration.
func GetConfig() *types.AppConfig {
	return &GlobalAppConfig
}

func setDefaults() {
	viper.SetDefault("project.rootDir", defaultRootDir)
	viper.SetDefault("data.file", "tasks.json")
	viper.SetDefault("data.format", "json")
	viper.SetDefault("data.saveDelayMs", 500)
	viper.SetDefault("data.watch", false)
	viper.SetDefault("sqlite.file", "tasks.db")
	viper.SetDefault("sync.branch", "main")
	viper.SetDefault("sync.path", "tasks.json")
	viper.SetDefault("sync.direction", "push")
	viper.SetDefault("sync.conflictResolution", "local-wins")
	viper.SetDefault("sync.pushDelaySec", 10)
}

// InitConfig reads in the config file and matching environment variables.
func InitConfig() {
	// A .env file may carry TASKDOCK_SYNC_TOKEN; absence is fine.
	_ = godotenv.Load()

	viper.SetEnvPrefix(envPrefix)
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults()

	cfgFileFlag := viper.GetString("config")
	if cfgFileFlag != "" {
		viper.SetConfigFile(cfgFileFlag)
	} else {
		viper.SetConfigName(configName)
		viper.SetConfigType("yaml")
		if _, err := os.Stat(defaultRootDir); err == nil {
			viper.AddConfigPath(defaultRootDir)
		}
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home)
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			fmt.Fprintf(os.Stderr, "warning: cannot read config file: %v\n", err)
		}
	}

	if err := viper.Unmarshal(&GlobalAppConfig); err != nil {
		fmt.Fprintf(os.Stderr, "failed to unmarshal configuration: %v\n", err)
		os.Exit(1)
	}
	if err := validate.Struct(&GlobalAppConfig); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
}
