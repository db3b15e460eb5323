package cli

import (
	"context"

	"github.com/spf13/cobra"

	"messenger-client/internal/app"
)

func init() {
	rootCmd.AddCommand(tuiCmd, webCmd)
}

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Full-screen client: friends, requests and conversations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			return a.RunTUI(ctx)
		})
	},
}

var webCmd = &cobra.Command{
	Use:   "web",
	Short: "Serve the browser client on --web-addr",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			return a.RunWeb(ctx, cmd.OutOrStdout())
		})
	},
}
