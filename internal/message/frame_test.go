package message

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestDecodeEventMessage(t *testing.T) {
	raw := `{"sender": 7, "text": "hi", "is_picture": false, "created_at": "2024-05-01 12:34:56.123456"}`
	evt, err := DecodeEvent([]byte(raw), time.Now())
	if err != nil {
		t.Fatalf("DecodeEvent error: %v", err)
	}
	if evt.Kind != EventMessage {
		t.Fatalf("expected message event, got %s", evt.Kind)
	}
	want := time.Date(2024, 5, 1, 12, 34, 56, 123456000, time.UTC)
	if !evt.Message.CreatedAt.Equal(want) {
		t.Fatalf("unexpected timestamp %v", evt.Message.CreatedAt)
	}
	if evt.Message.Sender != 7 || evt.Message.Text != "hi" || evt.Message.IsAttachment {
		t.Fatalf("unexpected message %+v", evt.Message)
	}
}

func TestDecodeEventEndOfHistory(t *testing.T) {
	evt, err := DecodeEvent([]byte(`{"info": "Все сообщения загружены"}`), time.Now())
	if err != nil {
		t.Fatalf("DecodeEvent error: %v", err)
	}
	if evt.Kind != EventEndOfHistory {
		t.Fatalf("expected end of history, got %s", evt.Kind)
	}
	tagged, err := DecodeEvent([]byte(`{"kind": "end_of_history", "request_id": "abc"}`), time.Now())
	if err != nil {
		t.Fatalf("DecodeEvent error: %v", err)
	}
	if tagged.Kind != EventEndOfHistory || tagged.RequestID != "abc" {
		t.Fatalf("unexpected tagged event %+v", tagged)
	}
}

func TestDecodeEventFreeform(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	for _, raw := range []string{`{"status": "ok"}`, `[1,2,3]`, `"hello"`, `{"sender": 1, "created_at": "yesterday"}`} {
		evt, err := DecodeEvent([]byte(raw), now)
		if err != nil {
			t.Fatalf("DecodeEvent(%s) error: %v", raw, err)
		}
		if evt.Kind != EventFreeform {
			t.Fatalf("expected freeform for %s, got %s", raw, evt.Kind)
		}
		if !evt.Message.CreatedAt.Equal(now) || evt.Message.Text != raw || !evt.Message.Freeform {
			t.Fatalf("unexpected freeform message %+v", evt.Message)
		}
	}
}

func TestDecodeEventRejectsInvalidJSON(t *testing.T) {
	for _, raw := range []string{"", "   ", "not json", `{"sender":`} {
		if _, err := DecodeEvent([]byte(raw), time.Now()); !errors.Is(err, ErrMalformedEvent) {
			t.Fatalf("expected ErrMalformedEvent for %q, got %v", raw, err)
		}
	}
}

func TestParseTimestampLayouts(t *testing.T) {
	cases := map[string]time.Time{
		"2024-05-01 12:34:56":         time.Date(2024, 5, 1, 12, 34, 56, 0, time.UTC),
		"2024-05-01T12:34:56.5":       time.Date(2024, 5, 1, 12, 34, 56, 500000000, time.UTC),
		"2024-05-01T12:34:56+02:00":   time.Date(2024, 5, 1, 10, 34, 56, 0, time.UTC),
		"2024-05-01 12:34:56.000001 ": time.Date(2024, 5, 1, 12, 34, 56, 1000, time.UTC),
	}
	for raw, want := range cases {
		got, err := ParseTimestamp(raw)
		if err != nil {
			t.Fatalf("ParseTimestamp(%q) error: %v", raw, err)
		}
		if !got.Equal(want) {
			t.Fatalf("ParseTimestamp(%q) = %v, want %v", raw, got, want)
		}
	}
	if _, err := ParseTimestamp("soon"); err == nil {
		t.Fatalf("expected error for garbage timestamp")
	}
}

func TestFramesOmitForeignKeys(t *testing.T) {
	data, err := json.Marshal(TextFrame("hello"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(data), `"file"`) || strings.Contains(string(data), "loadMore") {
		t.Fatalf("text frame leaks other shapes: %s", data)
	}
	data, _ = json.Marshal(AttachmentFrame("aGk=", "a.png"))
	if strings.Contains(string(data), `"text"`) {
		t.Fatalf("attachment frame carries text: %s", data)
	}
	data, _ = json.Marshal(LoadMoreFrame(2, "req"))
	if !strings.Contains(string(data), `"loadMore":true`) || !strings.Contains(string(data), `"page":2`) {
		t.Fatalf("unexpected load more frame: %s", data)
	}
}

func TestDisplayNameAndAttachmentName(t *testing.T) {
	id := Identity{Username: "neo"}
	if id.DisplayName() != "neo" {
		t.Fatalf("expected username fallback")
	}
	id.FirstName, id.LastName = "Thomas", "Anderson"
	if id.DisplayName() != "Thomas Anderson" {
		t.Fatalf("unexpected display name %q", id.DisplayName())
	}
	if got := AttachmentName("uploads/1b2c__$__cat.png"); got != "cat.png" {
		t.Fatalf("unexpected attachment name %q", got)
	}
	if got := AttachmentName("plain.txt"); got != "plain.txt" {
		t.Fatalf("unexpected attachment name %q", got)
	}
}
