package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"messenger-client/internal/app"
	"messenger-client/internal/message"
)

func init() {
	rootCmd.AddCommand(profileCmd)
	profileCmd.AddCommand(profileShowCmd, profileSetCmd, profileAvatarCmd)
	profileSetCmd.Flags().String("first", "", "first name")
	profileSetCmd.Flags().String("sec", "", "second name")
	profileSetCmd.Flags().String("last", "", "last name")
}

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Show or edit the profile",
	Args:  cobra.NoArgs,
	RunE:  profileShowCmd.RunE,
}

var profileShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the profile",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return loggedIn(func(ctx context.Context, a *app.App, me message.Identity) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "id:        %d\n", me.ID)
			fmt.Fprintf(out, "username:  %s\n", me.Username)
			fmt.Fprintf(out, "name:      %s\n", me.DisplayName())
			if me.AvatarPath != "" {
				fmt.Fprintf(out, "avatar:    %s\n", a.API().StaticURL(me.AvatarPath))
			}
			return nil
		})
	},
}

var profileSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Update name fields; omitted flags keep their value",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return loggedIn(func(ctx context.Context, a *app.App, me message.Identity) error {
			p := message.Profile{FirstName: me.FirstName, SecName: me.SecName, LastName: me.LastName}
			flags := cmd.Flags()
			if flags.Changed("first") {
				p.FirstName, _ = flags.GetString("first")
			}
			if flags.Changed("sec") {
				p.SecName, _ = flags.GetString("sec")
			}
			if flags.Changed("last") {
				p.LastName, _ = flags.GetString("last")
			}
			id, err := a.Sessions().UpdateProfile(ctx, p)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "profile saved: %s\n", describe(id))
			return nil
		})
	},
}

var profileAvatarCmd = &cobra.Command{
	Use:   "avatar <image>",
	Short: "Upload a new avatar",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return loggedIn(func(ctx context.Context, a *app.App, _ message.Identity) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			id, err := a.Sessions().UploadAvatar(ctx, filepath.Base(args[0]), f)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "avatar set to %s\n", a.API().StaticURL(id.AvatarPath))
			return nil
		})
	},
}
