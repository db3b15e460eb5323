package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"messenger-client/internal/app"
	"messenger-client/internal/backend"
	"messenger-client/internal/message"
)

func init() {
	rootCmd.AddCommand(loginCmd, logoutCmd, registerCmd, verifyCmd, forgotCmd, resetCmd, changePasswordCmd, whoamiCmd)
	loginCmd.Flags().String("email", "", "account email")
	registerCmd.Flags().String("email", "", "account email")
	registerCmd.Flags().String("username", "", "public username")
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in and cache the session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		return withApp(func(ctx context.Context, a *app.App) error {
			var err error
			if email == "" {
				if email, err = promptLine("Email: "); err != nil {
					return err
				}
			}
			pw, err := promptPassword("Password: ")
			if err != nil {
				return err
			}
			id, err := a.Login(ctx, email, pw)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s\n", describe(id))
			return nil
		})
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the session and forget the cached cookies",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			if _, ok, err := a.Restore(ctx); err != nil || !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "not logged in")
				return nil
			}
			if err := a.Logout(ctx); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "backend logout failed, local session cleared anyway: %v\n", err)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "logged out")
			return nil
		})
	},
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account; a verification token is mailed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		username, _ := cmd.Flags().GetString("username")
		return withApp(func(ctx context.Context, a *app.App) error {
			var err error
			if email == "" {
				if email, err = promptLine("Email: "); err != nil {
					return err
				}
			}
			if username == "" {
				if username, err = promptLine("Username: "); err != nil {
					return err
				}
			}
			pw, err := promptNewPassword()
			if err != nil {
				return err
			}
			id, err := a.API().Register(ctx, backend.Registration{Email: email, Username: username, Password: pw})
			if err != nil {
				return fmt.Errorf("register: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registered %s, check %s for the verification token\n", describe(id), email)
			return nil
		})
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify <token>",
	Short: "Activate an account with the mailed token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			if err := a.API().Verify(ctx, strings.TrimSpace(args[0])); err != nil {
				return fmt.Errorf("verify: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "account verified, you can log in now")
			return nil
		})
	},
}

var forgotCmd = &cobra.Command{
	Use:   "forgot-password <email>",
	Short: "Mail a password reset token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			if err := a.API().ForgotPassword(ctx, args[0]); err != nil {
				return fmt.Errorf("forgot password: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "if the account exists a reset token is on its way")
			return nil
		})
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset-password <token>",
	Short: "Set a new password with a reset token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			pw, err := promptNewPassword()
			if err != nil {
				return err
			}
			if err := a.API().ResetPassword(ctx, strings.TrimSpace(args[0]), pw); err != nil {
				return fmt.Errorf("reset password: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "password reset")
			return nil
		})
	},
}

var changePasswordCmd = &cobra.Command{
	Use:   "change-password",
	Short: "Change the password of the logged in account",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return loggedIn(func(ctx context.Context, a *app.App, _ message.Identity) error {
			old, err := promptPassword("Current password: ")
			if err != nil {
				return err
			}
			pw, err := promptNewPassword()
			if err != nil {
				return err
			}
			if err := a.Sessions().ChangePassword(ctx, old, pw); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "password changed")
			return nil
		})
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the logged in user",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return loggedIn(func(ctx context.Context, a *app.App, me message.Identity) error {
			fmt.Fprintf(cmd.OutOrStdout(), "%s on %s\n", describe(me), a.API().BaseURL())
			return nil
		})
	},
}
