package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// FrameKind tags outbound stream frames.
type FrameKind string

const (
	FrameIdentify FrameKind = "identify"
	FrameSend     FrameKind = "send"
	FrameLoadMore FrameKind = "load_more"
)

// Frame is one outbound stream frame. The untagged fields mirror the shape the
// backend dispatches on, so a frame is understood with or without the tag.
type Frame struct {
	Kind      FrameKind `json:"kind"`
	UserID    int       `json:"userId,omitempty"`
	Text      string    `json:"text,omitempty"`
	File      string    `json:"file,omitempty"`
	Filename  string    `json:"filename,omitempty"`
	LoadMore  bool      `json:"loadMore,omitempty"`
	Page      int       `json:"page,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
}

func IdentifyFrame(userID int) Frame {
	return Frame{Kind: FrameIdentify, UserID: userID}
}

func TextFrame(text string) Frame {
	return Frame{Kind: FrameSend, Text: text}
}

func AttachmentFrame(encoded, filename string) Frame {
	return Frame{Kind: FrameSend, File: encoded, Filename: filename}
}

func LoadMoreFrame(page int, requestID string) Frame {
	return Frame{Kind: FrameLoadMore, LoadMore: true, Page: page, RequestID: requestID}
}

// EventKind tags inbound stream events after decoding.
type EventKind string

const (
	EventMessage      EventKind = "message"
	EventEndOfHistory EventKind = "end_of_history"
	EventFreeform     EventKind = "freeform"
)

// EndOfHistoryInfo is the info text the backend sends once no older page exists.
const EndOfHistoryInfo = "Все сообщения загружены"

// ErrMalformedEvent is returned for payloads that are not valid JSON.
var ErrMalformedEvent = errors.New("malformed stream event")

// Event is the decoded, tagged form of one inbound stream frame.
type Event struct {
	Kind      EventKind
	Message   Message
	RequestID string
	Raw       json.RawMessage
}

type wireEvent struct {
	Kind      string           `json:"kind"`
	Sender    *json.RawMessage `json:"sender"`
	Text      *string          `json:"text"`
	IsPicture bool             `json:"is_picture"`
	CreatedAt *string          `json:"created_at"`
	Info      string           `json:"info"`
	RequestID string           `json:"request_id"`
}

// DecodeEvent classifies a raw stream payload. Valid JSON payloads that
// match neither the message nor the end-of-history shape come back as
// freeform events stamped with receivedAt.
func DecodeEvent(raw []byte, receivedAt time.Time) (Event, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return Event{}, fmt.Errorf("%w: empty payload", ErrMalformedEvent)
	}
	if !json.Valid([]byte(trimmed)) {
		return Event{}, fmt.Errorf("%w: not json", ErrMalformedEvent)
	}
	var wire wireEvent
	if err := json.Unmarshal([]byte(trimmed), &wire); err != nil {
		return freeform(trimmed, receivedAt), nil
	}
	switch {
	case wire.Kind == string(EventEndOfHistory) || wire.Info == EndOfHistoryInfo:
		return Event{Kind: EventEndOfHistory, RequestID: wire.RequestID, Raw: json.RawMessage(trimmed)}, nil
	case wire.Sender != nil && wire.CreatedAt != nil:
		msg, err := wire.message()
		if err != nil {
			return freeform(trimmed, receivedAt), nil
		}
		return Event{Kind: EventMessage, Message: msg, RequestID: wire.RequestID, Raw: json.RawMessage(trimmed)}, nil
	}
	return freeform(trimmed, receivedAt), nil
}

func (w wireEvent) message() (Message, error) {
	var sender int
	if err := json.Unmarshal(*w.Sender, &sender); err != nil {
		return Message{}, fmt.Errorf("sender: %w", err)
	}
	created, err := ParseTimestamp(*w.CreatedAt)
	if err != nil {
		return Message{}, err
	}
	msg := Message{Sender: sender, IsAttachment: w.IsPicture, CreatedAt: created}
	if w.Text != nil {
		msg.Text = *w.Text
	}
	return msg, nil
}

func freeform(raw string, receivedAt time.Time) Event {
	return Event{
		Kind: EventFreeform,
		Message: Message{
			Text:      raw,
			CreatedAt: receivedAt,
			Freeform:  true,
		},
		Raw: json.RawMessage(raw),
	}
}

// AttachmentName recovers the original file name from a stored attachment
// path of the form "<dir>/<uuid>__$__<name>".
func AttachmentName(path string) string {
	base := path
	if idx := strings.LastIndexAny(base, `/\`); idx >= 0 {
		base = base[idx+1:]
	}
	if idx := strings.Index(base, "__$__"); idx >= 0 {
		return base[idx+len("__$__"):]
	}
	return base
}
