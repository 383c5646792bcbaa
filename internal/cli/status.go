package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/aioue/any.down/internal/config"
	"github.com/aioue/any.down/internal/history"
	"github.com/aioue/any.down/internal/session"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show session and sync status",
	Long: `Display anydown status including:
- Session presence and age
- Last sync watermark
- Recent sync runs`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := newLogger()

	fmt.Println("anydown Status")
	fmt.Println(strings.Repeat("=", 40))

	fmt.Println("\nSession:")
	store := session.NewStore(config.SessionPath(), logger)
	sess, err := store.Load()
	switch {
	case err != nil:
		fmt.Printf("  Status:    unreadable (%s)\n", err)
	case sess == nil || !sess.Authenticated():
		fmt.Println("  Status:    not signed in")
	default:
		fmt.Println("  Status:    signed in")
		if email, ok := sess.Profile["email"].(string); ok && email != "" {
			fmt.Printf("  Account:   %s\n", email)
		}
		if !sess.SavedAt.IsZero() {
			fmt.Printf("  Saved:     %s ago\n", age(sess.SavedAt))
		}
		if sess.LastSyncTimestamp != 0 {
			fmt.Printf("  Last sync: %s ago\n", age(time.UnixMilli(sess.LastSyncTimestamp)))
		} else {
			fmt.Println("  Last sync: never (next sync will be full)")
		}
	}

	fmt.Println("\nConfiguration:")
	fmt.Printf("  Config:    %s\n", config.GlobalConfigPath())
	fmt.Printf("  Output:    %s\n", cfg.Output.Dir)

	if !cfg.History.Enabled {
		return nil
	}

	fmt.Println("\nRecent syncs:")
	if _, err := os.Stat(config.HistoryDBPath()); os.IsNotExist(err) {
		fmt.Println("  (none recorded)")
		return nil
	}
	archive, err := history.NewStorage(config.HistoryDBPath())
	if err != nil {
		fmt.Printf("  archive unavailable (%s)\n", err)
		return nil
	}
	defer archive.Close()

	runs, err := archive.Recent(cfg.History.Entries)
	if err != nil {
		fmt.Printf("  archive unavailable (%s)\n", err)
		return nil
	}
	if len(runs) == 0 {
		fmt.Println("  (none recorded)")
		return nil
	}
	for _, run := range runs {
		var outcome string
		switch {
		case !run.Success:
			outcome = "FAILED: " + run.Error
		case run.Unchanged:
			outcome = "no changes"
		default:
			outcome = fmt.Sprintf("%d tasks, %d lists", run.TaskCount, run.ListCount)
		}
		fmt.Printf("  %s  %-12s %-8s %s\n",
			run.StartedAt.Local().Format("2006-01-02 15:04"),
			run.Mode,
			run.Duration().Round(time.Millisecond),
			outcome)
	}
	return nil
}

// age renders a rough human-readable elapsed time.
func age(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
