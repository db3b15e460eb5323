package chat

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"messenger-client/internal/message"
)

func TestOpenSendsIdentifyAndBecomesActive(t *testing.T) {
	ts := newActiveSession(t)
	state, err := ts.State()
	if state != StateActive || err != nil {
		t.Fatalf("expected active session, got %s %v", state, err)
	}
	frames := ts.stream.frames()
	if len(frames) != 1 || frames[0].Kind != message.FrameIdentify || frames[0].UserID != 42 {
		t.Fatalf("unexpected frames %+v", frames)
	}
	if ts.Self() != 42 {
		t.Fatalf("expected self id 42, got %d", ts.Self())
	}
}

func TestOutOfOrderArrivalDisplaysAscending(t *testing.T) {
	ts := newActiveSession(t)
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	t1, t2, t3 := base, base.Add(time.Minute), base.Add(2*time.Minute)
	ts.deliver(messageJSON(1, "third", t3))
	ts.deliver(messageJSON(1, "first", t1))
	ts.deliver(messageJSON(2, "second", t2))
	for i := 0; i < 3; i++ {
		ts.observer.waitMessage(t)
	}
	msgs := ts.Messages()
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	for i, want := range []string{"first", "second", "third"} {
		if msgs[i].Text != want {
			t.Fatalf("position %d: got %q want %q", i, msgs[i].Text, want)
		}
	}
}

func TestEmptySubmitEmitsNoFrame(t *testing.T) {
	ts := newActiveSession(t)
	for _, text := range []string{"", "   ", "\n\t"} {
		if err := ts.SendText(text); err != nil {
			t.Fatalf("SendText(%q) error: %v", text, err)
		}
	}
	if frames := ts.framesAfterIdentify(t); len(frames) != 0 {
		t.Fatalf("expected no frames, got %+v", frames)
	}
}

func TestSubmitTrimsAndClearsInput(t *testing.T) {
	ts := newActiveSession(t)
	ts.SetInput("  hello there \n")
	if err := ts.Submit(); err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	frames := ts.framesAfterIdentify(t)
	if len(frames) != 1 || frames[0].Text != "hello there" || frames[0].File != "" {
		t.Fatalf("unexpected frames %+v", frames)
	}
	if ts.Input() != "" {
		t.Fatalf("expected input cleared, got %q", ts.Input())
	}
}

func TestStagedAttachmentWinsAndClearsBoth(t *testing.T) {
	ts := newActiveSession(t)
	ts.SetInput("caption that is dropped")
	if err := ts.Stage("/tmp/cat.png", []byte("meow")); err != nil {
		t.Fatalf("Stage error: %v", err)
	}
	if err := ts.Submit(); err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	frames := ts.framesAfterIdentify(t)
	if len(frames) != 1 {
		t.Fatalf("expected exactly one frame, got %d", len(frames))
	}
	f := frames[0]
	if f.Text != "" || f.Filename != "cat.png" || f.File != base64.StdEncoding.EncodeToString([]byte("meow")) {
		t.Fatalf("unexpected attachment frame %+v", f)
	}
	if _, ok := ts.Pending(); ok {
		t.Fatalf("expected staged attachment cleared")
	}
	if ts.Input() != "" {
		t.Fatalf("expected text cleared, got %q", ts.Input())
	}
}

func TestPasteThenRemoveSendsNothing(t *testing.T) {
	ts := newActiveSession(t)
	path := filepath.Join(t.TempDir(), "report.pdf")
	if err := os.WriteFile(path, []byte("%PDF"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if err := ts.StageFile(path); err != nil {
		t.Fatalf("StageFile error: %v", err)
	}
	name, ok := ts.Pending()
	if !ok || name != "report.pdf" {
		t.Fatalf("expected pending report.pdf, got %q %v", name, ok)
	}
	if !ts.Unstage() {
		t.Fatalf("expected Unstage to report a removed attachment")
	}
	if _, ok := ts.Pending(); ok {
		t.Fatalf("expected pending indicator cleared")
	}
	if err := ts.Submit(); err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	if frames := ts.framesAfterIdentify(t); len(frames) != 0 {
		t.Fatalf("expected nothing sent, got %+v", frames)
	}
}

func TestSentinelVisibleDebounced(t *testing.T) {
	ts := newActiveSession(t)
	before := ts.Cursor()
	sent, err := ts.SentinelVisible()
	if err != nil || !sent {
		t.Fatalf("expected first request to be sent, got %v %v", sent, err)
	}
	if ts.Cursor() != before+1 {
		t.Fatalf("expected cursor %d, got %d", before+1, ts.Cursor())
	}
	ts.clock.Advance(200 * time.Millisecond)
	sent, err = ts.SentinelVisible()
	if err != nil || sent {
		t.Fatalf("expected second signal inside cool-down to be ignored, got %v %v", sent, err)
	}
	frames := ts.framesAfterIdentify(t)
	if len(frames) != 1 || !frames[0].LoadMore || frames[0].Page != before+1 || frames[0].RequestID == "" {
		t.Fatalf("unexpected frames %+v", frames)
	}
	ts.clock.Advance(400 * time.Millisecond)
	if sent, _ := ts.SentinelVisible(); !sent {
		t.Fatalf("expected request after cool-down")
	}
	if ts.Cursor() != before+2 {
		t.Fatalf("expected cursor %d, got %d", before+2, ts.Cursor())
	}
}

func TestEndOfHistoryDisablesPagination(t *testing.T) {
	ts := newActiveSession(t)
	ts.deliver(`{"info": "Все сообщения загружены"}`)
	ts.observer.waitHistoryEnd(t)
	if !ts.HistoryEnded() {
		t.Fatalf("expected history ended")
	}
	for i := 0; i < 3; i++ {
		ts.clock.Advance(time.Second)
		if sent, err := ts.RequestMore(); sent || err != nil {
			t.Fatalf("expected no-op request, got %v %v", sent, err)
		}
	}
	if frames := ts.framesAfterIdentify(t); len(frames) != 0 {
		t.Fatalf("expected no load-more frames, got %+v", frames)
	}
	if ts.CanRequestMore() {
		t.Fatalf("expected CanRequestMore false")
	}
}

func TestMismatchedHistoryResponseDropped(t *testing.T) {
	ts := newActiveSession(t)
	if sent, _ := ts.RequestMore(); !sent {
		t.Fatalf("expected request to be sent")
	}
	reqID := ts.framesAfterIdentify(t)[0].RequestID
	at := time.Date(2024, 4, 30, 8, 0, 0, 0, time.UTC)
	ts.deliver(`{"sender": 1, "text": "stale", "created_at": "2024-04-30 08:00:00", "request_id": "other"}`)
	ts.deliver(`{"sender": 1, "text": "fresh", "created_at": "2024-04-30 08:00:01", "request_id": "` + reqID + `"}`)
	msg := ts.observer.waitMessage(t)
	if msg.Text != "fresh" || !msg.CreatedAt.Equal(at.Add(time.Second)) {
		t.Fatalf("unexpected message %+v", msg)
	}
	if got := ts.Metrics().Snapshot().Dropped; got != 1 {
		t.Fatalf("expected one dropped frame, got %d", got)
	}
}

func TestMalformedFrameDroppedSessionStaysActive(t *testing.T) {
	ts := newActiveSession(t)
	ts.deliver("not json at all")
	ts.deliver(`{"status": "typing"}`)
	msg := ts.observer.waitMessage(t)
	if !msg.Freeform || msg.Text != `{"status": "typing"}` || !msg.CreatedAt.Equal(ts.clock.Now()) {
		t.Fatalf("unexpected freeform message %+v", msg)
	}
	if state, _ := ts.State(); state != StateActive {
		t.Fatalf("expected session to stay active, got %s", state)
	}
	snap := ts.Metrics().Snapshot()
	if snap.Dropped != 1 || snap.Received != 1 {
		t.Fatalf("unexpected metrics %s", snap)
	}
}

func TestIdentifyFailureKeepsStreamOpen(t *testing.T) {
	stream := newFakeStream()
	observer := newRecordingObserver()
	fail := true
	whoami := whoamiFunc(func(context.Context) (int, error) {
		if fail {
			return 0, errBoom
		}
		return 9, nil
	})
	s, err := Open(context.Background(), Options{
		ChatID:   1,
		Dial:     func(context.Context, int) (Stream, error) { return stream, nil },
		WhoAmI:   whoami,
		Observer: observer,
	})
	defer s.Close()
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected identify error, got %v", err)
	}
	state, stateErr := s.State()
	if state != StateIdentifying || !errors.Is(stateErr, errBoom) {
		t.Fatalf("expected identifying with error, got %s %v", state, stateErr)
	}
	if stream.isClosed() {
		t.Fatalf("stream must stay open after identify failure")
	}
	if err := s.SendText("hi"); !errors.Is(err, ErrNotActive) {
		t.Fatalf("expected ErrNotActive, got %v", err)
	}
	fail = false
	if err := s.Identify(context.Background()); err != nil {
		t.Fatalf("retry Identify error: %v", err)
	}
	if state, _ := s.State(); state != StateActive {
		t.Fatalf("expected active after retry, got %s", state)
	}
	if frames := stream.frames(); len(frames) != 1 || frames[0].UserID != 9 {
		t.Fatalf("expected single identify frame, got %+v", frames)
	}
}

func TestPeerCloseWhileIdentifyingClosesSession(t *testing.T) {
	stream := newFakeStream()
	observer := newRecordingObserver()
	s, err := Open(context.Background(), Options{
		ChatID:   1,
		Dial:     func(context.Context, int) (Stream, error) { return stream, nil },
		WhoAmI:   whoamiFunc(func(context.Context) (int, error) { return 0, errBoom }),
		Observer: observer,
	})
	defer s.Close()
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected identify error, got %v", err)
	}
	dropped := errors.New("connection reset")
	stream.hangUp(dropped)
	observer.waitState(t, StateClosed)
	state, stateErr := s.State()
	if state != StateClosed || !errors.Is(stateErr, dropped) {
		t.Fatalf("expected closed with transport error, got %s %v", state, stateErr)
	}
	if err := s.Identify(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed on retry, got %v", err)
	}
}

func TestEventsBeforeActiveAreDropped(t *testing.T) {
	stream := newFakeStream()
	observer := newRecordingObserver()
	fail := true
	s, _ := Open(context.Background(), Options{
		ChatID: 1,
		Dial:   func(context.Context, int) (Stream, error) { return stream, nil },
		WhoAmI: whoamiFunc(func(context.Context) (int, error) {
			if fail {
				return 0, errBoom
			}
			return 9, nil
		}),
		Observer: observer,
	})
	defer s.Close()
	stream.in <- []byte(messageJSON(2, "early", time.Now()))
	deadline := time.Now().Add(2 * time.Second)
	for s.Metrics().Snapshot().Dropped != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("expected early event dropped, metrics %s", s.Metrics().Snapshot())
		}
		time.Sleep(5 * time.Millisecond)
	}
	fail = false
	if err := s.Identify(context.Background()); err != nil {
		t.Fatalf("Identify error: %v", err)
	}
	stream.in <- []byte(messageJSON(2, "after", time.Now()))
	if msg := observer.waitMessage(t); msg.Text != "after" {
		t.Fatalf("expected only the post-identify message, got %+v", msg)
	}
	if n := len(s.Messages()); n != 1 {
		t.Fatalf("expected one logged message, got %d", n)
	}
}

func TestLiveMarksOnlyNewTrafficAfterGrace(t *testing.T) {
	ts := newActiveSession(t)
	base := ts.clock.Now()

	// initial page, pushed right after identify
	ts.deliver(messageJSON(2, "page", base.Add(-time.Hour)))
	if msg := ts.observer.waitMessage(t); msg.Live {
		t.Fatalf("initial page must not be live")
	}

	ts.clock.Advance(2 * DefaultLiveGrace)
	// server clock behind ours: created_at still precedes the local open time
	ts.deliver(messageJSON(2, "hello", base.Add(-time.Minute)))
	if msg := ts.observer.waitMessage(t); !msg.Live {
		t.Fatalf("expected new message to be live: %+v", msg)
	}

	ts.deliver(messageJSON(2, "older page", base.Add(-2*time.Hour)))
	if msg := ts.observer.waitMessage(t); msg.Live {
		t.Fatalf("history page after grace must not be live")
	}
}

func TestDialFailureClosesSession(t *testing.T) {
	observer := newRecordingObserver()
	s, err := Open(context.Background(), Options{
		ChatID:   3,
		Dial:     func(context.Context, int) (Stream, error) { return nil, errBoom },
		WhoAmI:   whoamiFunc(func(context.Context) (int, error) { return 1, nil }),
		Observer: observer,
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected dial error, got %v", err)
	}
	state, stateErr := s.State()
	if state != StateClosed || !errors.Is(stateErr, errBoom) {
		t.Fatalf("expected closed with error, got %s %v", state, stateErr)
	}
	if err := s.Identify(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed on identify, got %v", err)
	}
}

func TestPeerCloseEndsSession(t *testing.T) {
	ts := newActiveSession(t)
	ts.stream.hangUp(errBoom)
	ts.observer.waitState(t, StateClosed)
	state, err := ts.State()
	if state != StateClosed || !errors.Is(err, errBoom) {
		t.Fatalf("expected closed with peer error, got %s %v", state, err)
	}
	if err := ts.SendText("anyone?"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestCloseIsTerminal(t *testing.T) {
	ts := newActiveSession(t)
	if err := ts.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if !ts.stream.isClosed() {
		t.Fatalf("expected stream closed")
	}
	if _, err := ts.RequestMore(); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := ts.Close(); err != nil {
		t.Fatalf("second Close error: %v", err)
	}
	if err := ts.Connect(context.Background()); err == nil {
		t.Fatalf("expected closed session to refuse reconnect")
	}
}

func TestSendFailureKeepsComposerAndCursor(t *testing.T) {
	ts := newActiveSession(t)
	ts.stream.setSendErr(errBoom)
	ts.SetInput("retry me")
	if err := ts.Submit(); !errors.Is(err, errBoom) {
		t.Fatalf("expected send error, got %v", err)
	}
	if ts.Input() != "retry me" {
		t.Fatalf("expected composer kept, got %q", ts.Input())
	}
	before := ts.Cursor()
	if sent, err := ts.RequestMore(); sent || !errors.Is(err, errBoom) {
		t.Fatalf("expected failed request, got %v %v", sent, err)
	}
	if ts.Cursor() != before {
		t.Fatalf("expected cursor rolled back to %d, got %d", before, ts.Cursor())
	}
	ts.stream.setSendErr(nil)
	if sent, _ := ts.RequestMore(); !sent {
		t.Fatalf("expected request after transport recovered")
	}
}
