package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"messenger-client/internal/message"
)

type fakeStream struct {
	mu        sync.Mutex
	sent      []message.Frame
	in        chan []byte
	sendErr   error
	err       error
	closed    bool
	closeOnce sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{in: make(chan []byte, 32)}
}

func (f *fakeStream) Send(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	frame, ok := v.(message.Frame)
	if !ok {
		return fmt.Errorf("unexpected frame type %T", v)
	}
	f.sent = append(f.sent, frame)
	return nil
}

func (f *fakeStream) Incoming() <-chan []byte { return f.in }

func (f *fakeStream) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeStream) Close() error {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.closed = true
		f.mu.Unlock()
		close(f.in)
	})
	return nil
}

// hangUp simulates the peer ending the stream.
func (f *fakeStream) hangUp(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
	f.Close()
}

func (f *fakeStream) frames() []message.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]message.Frame, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeStream) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeStream) setSendErr(err error) {
	f.mu.Lock()
	f.sendErr = err
	f.mu.Unlock()
}

type whoamiFunc func(ctx context.Context) (int, error)

func (f whoamiFunc) CurrentUserID(ctx context.Context) (int, error) { return f(ctx) }

type recordingObserver struct {
	messages   chan message.Message
	historyEnd chan struct{}
	states     chan State
	mu         sync.Mutex
	errs       []error
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{
		messages:   make(chan message.Message, 64),
		historyEnd: make(chan struct{}, 8),
		states:     make(chan State, 64),
	}
}

func (o *recordingObserver) OnMessage(msg message.Message) { o.messages <- msg }
func (o *recordingObserver) OnHistoryEnd()                 { o.historyEnd <- struct{}{} }

func (o *recordingObserver) OnState(state State, err error) {
	o.mu.Lock()
	o.errs = append(o.errs, err)
	o.mu.Unlock()
	o.states <- state
}

func (o *recordingObserver) waitMessage(t *testing.T) message.Message {
	t.Helper()
	select {
	case msg := <-o.messages:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
	return message.Message{}
}

func (o *recordingObserver) waitHistoryEnd(t *testing.T) {
	t.Helper()
	select {
	case <-o.historyEnd:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for end of history")
	}
}

func (o *recordingObserver) waitState(t *testing.T, want State) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case got := <-o.states:
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %s", want)
		}
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testSession struct {
	*Session
	stream   *fakeStream
	observer *recordingObserver
	clock    *fakeClock
}

func newActiveSession(t *testing.T) *testSession {
	t.Helper()
	stream := newFakeStream()
	observer := newRecordingObserver()
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	s, err := Open(context.Background(), Options{
		ChatID:   7,
		Dial:     func(context.Context, int) (Stream, error) { return stream, nil },
		WhoAmI:   whoamiFunc(func(context.Context) (int, error) { return 42, nil }),
		Observer: observer,
		Cooldown: 500 * time.Millisecond,
		Location: time.UTC,
		Clock:    clock.Now,
	})
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return &testSession{Session: s, stream: stream, observer: observer, clock: clock}
}

// framesAfterIdentify drops the identify frame every active session starts with.
func (ts *testSession) framesAfterIdentify(t *testing.T) []message.Frame {
	t.Helper()
	frames := ts.stream.frames()
	if len(frames) == 0 || frames[0].Kind != message.FrameIdentify {
		t.Fatalf("expected identify frame first, got %+v", frames)
	}
	return frames[1:]
}

func (ts *testSession) deliver(raw string) {
	ts.stream.in <- []byte(raw)
}

func messageJSON(sender int, text string, at time.Time) string {
	return fmt.Sprintf(`{"sender": %d, "text": %q, "is_picture": false, "created_at": %q}`,
		sender, text, at.UTC().Format("2006-01-02 15:04:05.000000"))
}

var errBoom = errors.New("boom")
