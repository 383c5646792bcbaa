package config

import (
	"os"
)

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Version: "1",
		Sync: SyncConfig{
			IncrementalDeadlineSeconds: 10,
			FullDeadlineSeconds:        15,
		},
		Output: OutputConfig{
			Dir: "outputs",
		},
		History: HistoryConfig{
			Enabled: true,
			Entries: 10,
		},
	}
}

// WriteDefault writes the default global configuration to a file
func WriteDefault(path string) error {
	content := `# anydown configuration
version: "1"

# Account identity. The password is never read from this file;
# set the ANYDOWN_PASSWORD environment variable instead.
account:
  email: ""

# Sync engine tuning
sync:
  # How long to wait for a sync job before giving up
  incremental_deadline_seconds: 10
  full_deadline_seconds: 15
  # Bypass the conditional and profile caches (always refetch)
  disable_caches: false

# Export output
output:
  dir: outputs

# Sync run archive (SQLite, shown by "anydown status")
history:
  enabled: true
  entries: 10
`
	return os.WriteFile(path, []byte(content), 0644)
}
