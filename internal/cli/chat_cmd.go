package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"messenger-client/internal/app"
	"messenger-client/internal/message"
)

func init() {
	rootCmd.AddCommand(chatsCmd, openCmd, chatCmd, downloadCmd, downloadsCmd)
	chatCmd.Flags().Bool("plain", false, "no colors and no desktop notifications")
	downloadCmd.Flags().Int("chat", 0, "conversation the file belongs to")
	downloadsCmd.Flags().Int("limit", 20, "number of entries")
}

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "List conversations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return loggedIn(func(ctx context.Context, a *app.App, _ message.Identity) error {
			chats, err := a.Directory().Conversations(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(chats) == 0 {
				fmt.Fprintln(out, "no conversations yet, try `messenger open <friend>`")
			}
			for _, c := range chats {
				last := c.LastMessage
				if r := []rune(last); len(r) > 50 {
					last = string(r[:47]) + "..."
				}
				fmt.Fprintf(out, "%6d  %-16s %s\n", c.ChatID, c.PeerUsername, last)
			}
			return nil
		})
	},
}

var openCmd = &cobra.Command{
	Use:   "open <friend>",
	Short: "Open (or create) the conversation with a friend",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return loggedIn(func(ctx context.Context, a *app.App, _ message.Identity) error {
			dir := a.Directory()
			if err := dir.Refresh(ctx); err != nil {
				return err
			}
			peer, ok := dir.Resolve(args[0])
			if !ok {
				return fmt.Errorf("%q is not in your friends list", args[0])
			}
			chatID, err := dir.CreateOrGetConversation(ctx, peer.ID)
			if err != nil {
				return err
			}
			return a.RunChat(ctx, chatID, peer.DisplayName(), os.Stdin, cmd.OutOrStdout())
		})
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat <chat-id>",
	Short: "Join a conversation in line mode",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		chatID, err := strconv.Atoi(args[0])
		if err != nil || chatID <= 0 {
			return fmt.Errorf("invalid chat id %q", args[0])
		}
		if plain, _ := cmd.Flags().GetBool("plain"); plain {
			cfg.NoColor = true
			cfg.Notify = false
		}
		return loggedIn(func(ctx context.Context, a *app.App, _ message.Identity) error {
			fmt.Fprintln(cmd.ErrOrStderr(), "type a message and press enter, /help for commands")
			return a.RunChat(ctx, chatID, "", os.Stdin, cmd.OutOrStdout())
		})
	},
}

var downloadCmd = &cobra.Command{
	Use:   "download <attachment-path>",
	Short: "Save an attachment into the downloads folder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		chatID, _ := cmd.Flags().GetInt("chat")
		return loggedIn(func(ctx context.Context, a *app.App, _ message.Identity) error {
			d, err := a.Download(ctx, chatID, strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			store, _ := a.Downloads()
			_, path, err := store.Get(d.ID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s (%d bytes, %s) to %s\n", d.Name, d.Size, d.Mime, path)
			return nil
		})
	},
}

var downloadsCmd = &cobra.Command{
	Use:   "downloads",
	Short: "List downloaded attachments",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return withApp(func(ctx context.Context, a *app.App) error {
			store, err := a.Downloads()
			if err != nil {
				return err
			}
			items, err := store.List(limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			loc := a.Location()
			for _, d := range items {
				fmt.Fprintf(out, "%s  %s  chat %-4d %8d  %s\n", d.ID, d.CreatedAt.In(loc).Format("2006-01-02 15:04"), d.ChatID, d.Size, d.Name)
			}
			if len(items) == 0 {
				fmt.Fprintln(out, "nothing downloaded yet")
			}
			return nil
		})
	},
}
