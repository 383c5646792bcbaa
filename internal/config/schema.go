package config

// Config represents the full anydown configuration
type Config struct {
	Version string `yaml:"version" mapstructure:"version"`

	// Account identity. The password is never stored in config; it is
	// read from the ANYDOWN_PASSWORD environment variable only.
	Account AccountConfig `yaml:"account" mapstructure:"account"`

	// Sync engine tuning
	Sync SyncConfig `yaml:"sync" mapstructure:"sync"`

	// Export output settings
	Output OutputConfig `yaml:"output" mapstructure:"output"`

	// Sync run archive settings
	History HistoryConfig `yaml:"history" mapstructure:"history"`
}

// AccountConfig identifies the Any.do account
type AccountConfig struct {
	Email string `yaml:"email" mapstructure:"email"`
}

// SyncConfig tunes the sync engine
type SyncConfig struct {
	IncrementalDeadlineSeconds int  `yaml:"incremental_deadline_seconds" mapstructure:"incremental_deadline_seconds"`
	FullDeadlineSeconds        int  `yaml:"full_deadline_seconds" mapstructure:"full_deadline_seconds"`
	DisableCaches              bool `yaml:"disable_caches" mapstructure:"disable_caches"`
}

// OutputConfig controls where exports land
type OutputConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// HistoryConfig controls the sync run archive
type HistoryConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	Entries int  `yaml:"entries" mapstructure:"entries"`
}
