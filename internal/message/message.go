package message

import (
	"fmt"
	"strings"
	"time"
)

// Identity describes an authenticated user as the backend reports it.
type Identity struct {
	ID         int    `json:"id"`
	Username   string `json:"username"`
	FirstName  string `json:"first_name,omitempty"`
	SecName    string `json:"sec_name,omitempty"`
	LastName   string `json:"last_name,omitempty"`
	AvatarPath string `json:"pic_path,omitempty"`
}

// DisplayName joins the optional name parts, falling back to the username.
func (i Identity) DisplayName() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{i.FirstName, i.SecName, i.LastName} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return i.Username
	}
	return strings.Join(parts, " ")
}

// Direction tells who sent a pending friend request.
type Direction string

const (
	DirectionMine   Direction = "mine"
	DirectionTheirs Direction = "theirs"
)

// PendingRequest marks a friend edge that has not been accepted yet.
type PendingRequest struct {
	RequestID int       `json:"request_id"`
	Direction Direction `json:"direction"`
}

// FriendEdge is one entry in the friend graph of the current user.
type FriendEdge struct {
	Peer    Identity        `json:"peer"`
	Pending *PendingRequest `json:"pending,omitempty"`
}

// Message is a single chat entry of a conversation.
type Message struct {
	Sender       int       `json:"sender"`
	Text         string    `json:"text"`
	IsAttachment bool      `json:"is_picture"`
	CreatedAt    time.Time `json:"created_at"`
	// Freeform is set for payloads that were accepted without a known shape.
	Freeform bool `json:"freeform,omitempty"`
	// Live marks new traffic as opposed to history pages.
	Live bool `json:"-"`
}

// ConversationSummary is a row of the conversations list.
type ConversationSummary struct {
	ChatID       int    `json:"chat_id"`
	LastMessage  string `json:"last_message"`
	PeerUsername string `json:"username"`
}

// Profile carries the editable part of an identity.
type Profile struct {
	Username   string `json:"username,omitempty"`
	FirstName  string `json:"first_name"`
	SecName    string `json:"sec_name"`
	LastName   string `json:"last_name"`
	AvatarPath string `json:"pic_path"`
}

var timestampLayouts = []string{
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	time.RFC3339Nano,
}

// ParseTimestamp accepts the backend's naive UTC timestamps as well as RFC 3339.
func ParseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", raw)
}
