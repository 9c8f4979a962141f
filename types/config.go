package types

// AppConfig represents the complete application configuration.
type AppConfig struct {
	Verbose bool          `mapstructure:"verbose"`
	Config  string        `mapstructure:"config"`
	Project ProjectConfig `mapstructure:"project" validate:"required"`
	Data    DataConfig    `mapstructure:"data" validate:"required"`
	SQLite  SQLiteConfig  `mapstructure:"sqlite"`
	Sync    SyncConfig    `mapstructure:"sync"`
}

// ProjectConfig holds project-related settings.
type ProjectConfig struct {
	RootDir string `mapstructure:"rootDir" validate:"required"`
}

// DataConfig holds settings for the document-backed data source.
type DataConfig struct {
	File   string `mapstructure:"file" validate:"required"`
	Format string `mapstructure:"format" validate:"required,oneof=json yaml toml"`
	// SaveDelayMs controls how long disk writes are debounced.
	SaveDelayMs int `mapstructure:"saveDelayMs" validate:"omitempty,min=0,max=60000"`
	// Watch reloads the document when an external writer modifies it.
	Watch bool `mapstructure:"watch"`
}

// SQLiteConfig holds settings for the optional SQLite data source.
type SQLiteConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	File    string `mapstructure:"file" validate:"required_if=Enabled true"`
}

// SyncConfig holds the remote replication settings. The token may also be
// supplied through TASKDOCK_SYNC_TOKEN or a .env file.
type SyncConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Token   string `mapstructure:"token" validate:"required_if=Enabled true"`
	Owner   string `mapstructure:"owner" validate:"required_if=Enabled true"`
	Repo    string `mapstructure:"repo" validate:"required_if=Enabled true"`
	Branch  string `mapstructure:"branch"`
	// Path of the replicated document inside the remote repository.
	Path string `mapstructure:"path"`
	// Direction is bidirectional or push. Pull-side merge is not
	// implemented; the option surface is kept for forward compatibility.
	Direction string `mapstructure:"direction" validate:"omitempty,oneof=bidirectional push"`
	AutoSync  bool   `mapstructure:"autoSync"`
	// ConflictResolution accepts only local-wins: a conflicting remote
	// revision is refreshed and then overwritten, never merged.
	ConflictResolution string `mapstructure:"conflictResolution" validate:"omitempty,oneof=local-wins"`
	// PushDelaySec controls how long outbound pushes are debounced.
	PushDelaySec int `mapstructure:"pushDelaySec" validate:"omitempty,min=1,max=600"`
	// Schedule is an optional cron expression arming periodic pushes as a
	// safety net while autoSync is on.
	Schedule string `mapstructure:"schedule"`
}
