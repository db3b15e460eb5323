package ui

import (
	"time"

	"messenger-client/internal/chat"
	"messenger-client/internal/message"
)

// Notification is an in-app alert for a live message from someone else.
type Notification struct {
	ID        string    `json:"id"`
	Level     string    `json:"level"`
	Title     string    `json:"title"`
	From      string    `json:"from"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Entry is one rendered message line.
type Entry struct {
	Sender     int       `json:"sender"`
	From       string    `json:"from"`
	Mine       bool      `json:"mine"`
	Text       string    `json:"text,omitempty"`
	HTML       string    `json:"html,omitempty"`
	Attachment string    `json:"attachment,omitempty"`
	Path       string    `json:"path,omitempty"`
	Freeform   bool      `json:"freeform,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// DayView is a date header and the entries below it.
type DayView struct {
	Label   string    `json:"label"`
	Day     time.Time `json:"day"`
	Entries []Entry   `json:"entries"`
}

// Status is what a chat view shows around the log: connection state,
// pagination and the staged attachment.
type Status struct {
	ChatID       int    `json:"chat_id"`
	State        string `json:"state"`
	Err          string `json:"error,omitempty"`
	HistoryEnded bool   `json:"history_ended"`
	Cursor       int    `json:"cursor"`
	Pending      string `json:"pending,omitempty"`
}

// Sink is the unified interface every chat surface must satisfy.
type Sink interface {
	ShowMessage(Entry)
	ShowLog([]DayView)
	ShowSystem(string)
	UpdateStatus(Status)
	ShowNotification(Notification)
}

// NameFunc maps a user id to the name shown next to their messages.
type NameFunc func(userID int) string

// NewEntry renders msg for a viewer whose id is self.
func NewEntry(msg message.Message, self int, names NameFunc) Entry {
	e := Entry{
		Sender:    msg.Sender,
		Mine:      !msg.Freeform && msg.Sender == self,
		Freeform:  msg.Freeform,
		CreatedAt: msg.CreatedAt,
	}
	switch {
	case msg.Freeform:
		e.Text = msg.Text
	case msg.IsAttachment:
		e.Attachment = message.AttachmentName(msg.Text)
		e.Path = msg.Text
	default:
		e.Text = msg.Text
	}
	if !msg.Freeform && names != nil {
		e.From = names(msg.Sender)
	}
	return e
}

// BuildDays turns grouped log contents into header-labelled views.
func BuildDays(groups []chat.DayGroup, now time.Time, self int, names NameFunc) []DayView {
	out := make([]DayView, 0, len(groups))
	for _, g := range groups {
		view := DayView{Label: chat.DayLabel(g.Day, now), Day: g.Day, Entries: make([]Entry, 0, len(g.Messages))}
		for _, msg := range g.Messages {
			view.Entries = append(view.Entries, NewEntry(msg, self, names))
		}
		out = append(out, view)
	}
	return out
}
