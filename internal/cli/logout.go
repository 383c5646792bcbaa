package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aioue/any.down/internal/config"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Discard the stored session",
	Long:  "Remove the persisted session: cookies, auth token, caches, and sync watermark. The next pull will sign in from scratch and run a full sync.",
	RunE:  runLogout,
}

func runLogout(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	client, err := buildClient(cfg, newLogger())
	if err != nil {
		return err
	}

	client.Logout()
	fmt.Println("Signed out; session cleared.")
	return nil
}
