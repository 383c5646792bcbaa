package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/aioue/any.down/internal/anydo"
	"github.com/aioue/any.down/internal/config"
	"github.com/aioue/any.down/internal/export"
	"github.com/aioue/any.down/internal/extract"
	"github.com/aioue/any.down/internal/history"
)

var (
	pullForce  bool
	pullFull   bool
	pullOutput string
)

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Sync tasks and export them (the default command)",
	RunE:  runPull,
}

func init() {
	registerPullFlags(pullCmd)
}

func registerPullFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVarP(&pullForce, "force", "f", false, "Re-export even when content is unchanged (implies a full sync)")
	cmd.Flags().BoolVar(&pullFull, "full", false, "Force a full sync instead of incremental")
	cmd.Flags().StringVarP(&pullOutput, "output", "o", "", "Export directory (default from config)")
}

func runPull(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := newLogger()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	client, err := buildClient(cfg, logger)
	if err != nil {
		return err
	}

	if err := ensureAuthenticated(ctx, cfg, client); err != nil {
		return err
	}

	mode := "auto"
	fetch := client.FetchAuto
	if pullFull || pullForce {
		mode = anydo.Full.String()
		fetch = func(ctx context.Context) (*anydo.Dataset, error) {
			return client.Fetch(ctx, anydo.Full)
		}
	}

	started := time.Now()
	ds, err := fetch(ctx)
	finished := time.Now()

	run := history.Run{
		StartedAt:  started,
		FinishedAt: finished,
		Mode:       mode,
	}
	if err != nil {
		run.Error = err.Error()
		recordRun(cfg, logger, &run)
		return describeSyncFailure(err)
	}
	run.Success = true

	if ds.Empty {
		run.Unchanged = true
		recordRun(cfg, logger, &run)
		fmt.Println("No changes since last sync.")
		return nil
	}
	run.TaskCount = len(ds.Tasks)
	run.ListCount = len(ds.Lists)

	outDir := cfg.Output.Dir
	if pullOutput != "" {
		outDir = pullOutput
	}
	writer := export.NewWriter(outDir, logger)

	sess := client.Session()
	prevRaw, prevPretty := sess.LastDataFingerprint, sess.LastPrettyFingerprint
	if pullForce {
		prevRaw, prevPretty = "", ""
	}

	rawRes, err := writer.WriteRaw(ds, prevRaw)
	if err != nil {
		run.Error = err.Error()
		run.Success = false
		recordRun(cfg, logger, &run)
		return err
	}

	proj := extract.Project(ds, finished)
	mdRes, err := writer.WriteMarkdown(proj, prevPretty)
	if err != nil {
		run.Error = err.Error()
		run.Success = false
		recordRun(cfg, logger, &run)
		return err
	}

	// Fingerprints only advance after their artifact actually landed, so a
	// failed export is retried on the next run.
	var newRaw, newPretty string
	if rawRes.Written {
		newRaw = rawRes.Fingerprint
	}
	if mdRes.Written {
		newPretty = mdRes.Fingerprint
	}
	if newRaw != "" || newPretty != "" {
		client.RecordFingerprints(newRaw, newPretty)
	}

	run.Fingerprint = rawRes.Fingerprint
	run.ExportPath = mdRes.Path
	recordRun(cfg, logger, &run)

	fmt.Printf("Synced %d tasks across %d lists in %s\n",
		run.TaskCount, run.ListCount, finished.Sub(started).Round(time.Millisecond))
	switch {
	case rawRes.Written && mdRes.Written:
		fmt.Printf("Exported:\n  %s\n  %s\n", rawRes.Path, mdRes.Path)
	case rawRes.Written:
		fmt.Printf("Exported raw data: %s (rendered view unchanged)\n", rawRes.Path)
	case mdRes.Written:
		fmt.Printf("Exported: %s\n", mdRes.Path)
	default:
		fmt.Println("Content unchanged, nothing exported.")
	}
	return nil
}

// buildClient assembles the Any.do client from config.
func buildClient(cfg *config.Config, logger *slog.Logger) (*anydo.Client, error) {
	return anydo.NewClient(anydo.Config{
		SessionPath:         config.SessionPath(),
		IncrementalDeadline: time.Duration(cfg.Sync.IncrementalDeadlineSeconds) * time.Second,
		FullDeadline:        time.Duration(cfg.Sync.FullDeadlineSeconds) * time.Second,
		DisableCaches:       cfg.Sync.DisableCaches,
		Logger:              logger,
	})
}

// ensureAuthenticated restores the persisted session, or runs the login
// flow when there is none or it has gone stale.
func ensureAuthenticated(ctx context.Context, cfg *config.Config, client *anydo.Client) error {
	err := client.Restore(ctx)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return err
	}
	if !errors.Is(err, anydo.ErrSessionInvalid) {
		return err
	}

	fmt.Println("No valid session, signing in.")
	return runLoginFlow(ctx, cfg, client)
}

func runLoginFlow(ctx context.Context, cfg *config.Config, client *anydo.Client) error {
	email := cfg.Email()
	if email == "" {
		var err error
		email, err = promptLine("Email")
		if err != nil {
			return err
		}
	}

	password := config.PasswordFromEnv()
	if password == "" {
		var err error
		password, err = promptPassword("Password")
		if err != nil {
			return err
		}
	}

	if err := client.Login(ctx, email, password, stdinPrompter{}); err != nil {
		return describeAuthFailure(err)
	}
	fmt.Println("Signed in.")
	return nil
}

func recordRun(cfg *config.Config, logger *slog.Logger, run *history.Run) {
	if !cfg.History.Enabled {
		return
	}
	store, err := history.NewStorage(config.HistoryDBPath())
	if err != nil {
		logger.Warn("failed to open sync archive", "error", err)
		return
	}
	defer store.Close()
	if _, err := store.Record(run); err != nil {
		logger.Warn("failed to record sync run", "error", err)
	}
}

// describeSyncFailure turns engine errors into actionable messages.
func describeSyncFailure(err error) error {
	var timeoutErr *anydo.SyncTimeoutError
	if errors.As(err, &timeoutErr) {
		return fmt.Errorf("sync timed out (%s mode, %s budget); try again or raise the deadline in config: %w",
			timeoutErr.Mode, timeoutErr.Deadline, err)
	}
	var authErr *anydo.AuthError
	if errors.As(err, &authErr) {
		return fmt.Errorf("session rejected mid-sync; run \"anydown login\": %w", err)
	}
	return err
}

// describeAuthFailure turns login errors into actionable messages.
func describeAuthFailure(err error) error {
	switch {
	case errors.Is(err, anydo.ErrAccountNotFound):
		return fmt.Errorf("no Any.do account for that email: %w", err)
	case errors.Is(err, anydo.ErrCodeExhausted):
		return fmt.Errorf("too many wrong verification codes; request a new login: %w", err)
	default:
		return err
	}
}
