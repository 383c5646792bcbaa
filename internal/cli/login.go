package cli

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/aioue/any.down/internal/config"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in to Any.do",
	Long: `Sign in with your Any.do email and password. Any.do emails a one-time
verification code during login; you will be prompted for it.

The email comes from config or ANYDOWN_EMAIL; the password from
ANYDOWN_PASSWORD or an interactive prompt. Neither is ever written to disk.`,
	RunE: runLogin,
}

func runLogin(cmd *cobra.Command, args []string) error {
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

	if err := client.Restore(ctx); err == nil {
		fmt.Println("Already signed in; session is valid.")
		return nil
	} else if ctx.Err() != nil {
		return err
	}

	return runLoginFlow(ctx, cfg, client)
}
