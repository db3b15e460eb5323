package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"messenger-client/internal/app"
	"messenger-client/internal/directory"
	"messenger-client/internal/message"
)

func init() {
	rootCmd.AddCommand(friendsCmd, requestsCmd, searchCmd, addCmd, acceptCmd, declineCmd)
}

var friendsCmd = &cobra.Command{
	Use:   "friends",
	Short: "List friends",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return loggedIn(func(ctx context.Context, a *app.App, _ message.Identity) error {
			friends, err := a.Directory().FetchFriends(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(friends) == 0 {
				fmt.Fprintln(out, "no friends yet, try `messenger search`")
				return nil
			}
			for _, f := range friends {
				fmt.Fprintf(out, "%6d  %s\n", f.Peer.ID, f.Peer.DisplayName())
			}
			return nil
		})
	},
}

var requestsCmd = &cobra.Command{
	Use:   "requests",
	Short: "List pending friend requests",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return loggedIn(func(ctx context.Context, a *app.App, _ message.Identity) error {
			reqs, err := a.Directory().FetchRequests(ctx)
			if err != nil {
				return err
			}
			printRequests(cmd.OutOrStdout(), reqs)
			return nil
		})
	},
}

func printRequests(out io.Writer, reqs directory.Requests) {
	if len(reqs.Incoming)+len(reqs.Outgoing) == 0 {
		fmt.Fprintln(out, "no pending requests")
		return
	}
	for _, e := range reqs.Incoming {
		fmt.Fprintf(out, "request %-5d from %s\n", e.Pending.RequestID, e.Peer.Username)
	}
	for _, e := range reqs.Outgoing {
		fmt.Fprintf(out, "request %-5d to   %s\n", e.Pending.RequestID, e.Peer.Username)
	}
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Find users by username",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return loggedIn(func(ctx context.Context, a *app.App, _ message.Identity) error {
			users, err := a.Directory().Search(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(users) == 0 {
				fmt.Fprintln(out, "no users found")
			}
			for _, u := range users {
				fmt.Fprintf(out, "%6d  %s\n", u.ID, u.Username)
			}
			return nil
		})
	},
}

var addCmd = &cobra.Command{
	Use:   "add <user-id|username>",
	Short: "Send a friend request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return loggedIn(func(ctx context.Context, a *app.App, me message.Identity) error {
			target, err := lookupUser(ctx, a.Directory(), args[0])
			if err != nil {
				return err
			}
			if target.ID == me.ID {
				return fmt.Errorf("cannot befriend yourself")
			}
			if err := a.Directory().SendRequest(ctx, target.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "friend request sent to %s\n", target.Username)
			return nil
		})
	},
}

var acceptCmd = &cobra.Command{
	Use:   "accept <request-id|username>",
	Short: "Accept an incoming friend request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return respond(cmd, args[0], true)
	},
}

var declineCmd = &cobra.Command{
	Use:   "decline <request-id|username>",
	Short: "Decline an incoming request or withdraw an outgoing one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return respond(cmd, args[0], false)
	},
}

func respond(cmd *cobra.Command, token string, accept bool) error {
	return loggedIn(func(ctx context.Context, a *app.App, _ message.Identity) error {
		dir := a.Directory()
		if err := dir.Refresh(ctx); err != nil {
			return err
		}
		edge, incoming, ok := findRequest(dir.Snapshot().Requests, token)
		if !ok {
			return fmt.Errorf("no pending request matches %q", token)
		}
		if accept && !incoming {
			return fmt.Errorf("request %d was sent by you; it can only be declined", edge.Pending.RequestID)
		}
		if err := dir.Respond(ctx, edge.Pending.RequestID, accept); err != nil {
			return err
		}
		verb := "declined"
		switch {
		case accept:
			verb = "accepted"
		case !incoming:
			verb = "withdrew"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s request %d (%s)\n", verb, edge.Pending.RequestID, edge.Peer.Username)
		return nil
	})
}

// findRequest matches a request id or the peer's username, incoming first.
func findRequest(reqs directory.Requests, token string) (message.FriendEdge, bool, bool) {
	token = strings.TrimSpace(token)
	id, idErr := strconv.Atoi(token)
	match := func(e message.FriendEdge) bool {
		if e.Pending == nil {
			return false
		}
		if idErr == nil && e.Pending.RequestID == id {
			return true
		}
		return strings.EqualFold(e.Peer.Username, token)
	}
	for _, e := range reqs.Incoming {
		if match(e) {
			return e, true, true
		}
	}
	for _, e := range reqs.Outgoing {
		if match(e) {
			return e, false, true
		}
	}
	return message.FriendEdge{}, false, false
}

// lookupUser resolves a numeric id directly and a username through search.
func lookupUser(ctx context.Context, dir *directory.Client, token string) (message.Identity, error) {
	token = strings.TrimSpace(token)
	if id, err := strconv.Atoi(token); err == nil {
		return message.Identity{ID: id, Username: token}, nil
	}
	users, err := dir.Search(ctx, token)
	if err != nil {
		return message.Identity{}, err
	}
	for _, u := range users {
		if strings.EqualFold(u.Username, token) {
			return u, nil
		}
	}
	return message.Identity{}, fmt.Errorf("no user named %q", token)
}
