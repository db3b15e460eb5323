package ui

import (
	"context"

	"messenger-client/internal/chat"
	"messenger-client/internal/directory"
	"messenger-client/internal/message"
)

// Controller is what the interactive surfaces need from the app.
type Controller interface {
	Current() (message.Identity, bool)
	Login(ctx context.Context, email, password string) (message.Identity, error)
	Logout(ctx context.Context) error
	Directory() *directory.Client
	// OpenChat dials conversation chatID with obs receiving its events. The
	// session may be returned alongside an error when identify failed.
	OpenChat(ctx context.Context, chatID int, obs chat.Observer) (*chat.Session, error)
	UserName(userID int) string
}
