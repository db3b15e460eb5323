package ui

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"messenger-client/internal/backend"
	"messenger-client/internal/chat"
	"messenger-client/internal/directory"
	"messenger-client/internal/message"
)

type fakeStream struct {
	mu        sync.Mutex
	sent      []message.Frame
	sendErr   error
	in        chan []byte
	closeOnce sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{in: make(chan []byte, 32)}
}

func (f *fakeStream) Send(v interface{}) error {
	frame, ok := v.(message.Frame)
	if !ok {
		return fmt.Errorf("unexpected frame %T", v)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, frame)
	return nil
}

func (f *fakeStream) failSends(err error) {
	f.mu.Lock()
	f.sendErr = err
	f.mu.Unlock()
}

func (f *fakeStream) Incoming() <-chan []byte { return f.in }
func (f *fakeStream) Err() error              { return nil }

func (f *fakeStream) Close() error {
	f.closeOnce.Do(func() { close(f.in) })
	return nil
}

func (f *fakeStream) frames() []message.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]message.Frame, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeStream) deliver(sender int, text string, at time.Time) {
	raw, _ := json.Marshal(map[string]interface{}{
		"sender":     sender,
		"text":       text,
		"is_picture": false,
		"created_at": at.UTC().Format("2006-01-02 15:04:05.000000"),
	})
	f.in <- raw
}

type whoami int

func (w whoami) CurrentUserID(context.Context) (int, error) { return int(w), nil }

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func openTestSession(t *testing.T, stream *fakeStream, obs chat.Observer) *chat.Session {
	t.Helper()
	return openClockedSession(t, stream, obs, nil)
}

func openClockedSession(t *testing.T, stream *fakeStream, obs chat.Observer, clock func() time.Time) *chat.Session {
	t.Helper()
	s, err := chat.Open(context.Background(), chat.Options{
		ChatID:   3,
		Dial:     func(context.Context, int) (chat.Stream, error) { return stream, nil },
		WhoAmI:   whoami(1),
		Observer: obs,
		Location: time.UTC,
		Clock:    clock,
	})
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

type recordingSink struct {
	mu       sync.Mutex
	messages []Entry
	logs     [][]DayView
	system   []string
	statuses []Status
	notes    []Notification
}

func (r *recordingSink) ShowMessage(e Entry) {
	r.mu.Lock()
	r.messages = append(r.messages, e)
	r.mu.Unlock()
}

func (r *recordingSink) ShowLog(days []DayView) {
	r.mu.Lock()
	r.logs = append(r.logs, days)
	r.mu.Unlock()
}

func (r *recordingSink) ShowSystem(text string) {
	r.mu.Lock()
	r.system = append(r.system, text)
	r.mu.Unlock()
}

func (r *recordingSink) UpdateStatus(st Status) {
	r.mu.Lock()
	r.statuses = append(r.statuses, st)
	r.mu.Unlock()
}

func (r *recordingSink) ShowNotification(n Notification) {
	r.mu.Lock()
	r.notes = append(r.notes, n)
	r.mu.Unlock()
}

func (r *recordingSink) notifications() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.notes...)
}

func (r *recordingSink) snapshot() ([]Entry, [][]DayView) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.messages...), append([][]DayView(nil), r.logs...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type fakeDirAPI struct {
	friends []message.Identity
}

func (f *fakeDirAPI) Friends(context.Context) ([]message.Identity, error) { return f.friends, nil }
func (f *fakeDirAPI) FriendRequests(context.Context) (backend.FriendRequests, error) {
	return backend.FriendRequests{}, nil
}
func (f *fakeDirAPI) SearchUsers(context.Context, string) ([]message.Identity, error) {
	return nil, nil
}
func (f *fakeDirAPI) AddFriend(context.Context, int) error                  { return nil }
func (f *fakeDirAPI) RespondFriendRequest(context.Context, int, bool) error { return nil }
func (f *fakeDirAPI) CreateChat(_ context.Context, peerID int) (int, error) { return 50 + peerID, nil }
func (f *fakeDirAPI) MyChats(context.Context) ([]message.ConversationSummary, error) {
	return nil, nil
}

type fakeController struct {
	mu      sync.Mutex
	user    message.Identity
	logged  bool
	dir     *directory.Client
	streams []*fakeStream
}

func newFakeController(friends ...message.Identity) *fakeController {
	return &fakeController{dir: directory.New(&fakeDirAPI{friends: friends})}
}

func (c *fakeController) Current() (message.Identity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user, c.logged
}

func (c *fakeController) Login(_ context.Context, email, password string) (message.Identity, error) {
	if password != "secret" {
		return message.Identity{}, fmt.Errorf("bad credentials")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.user = message.Identity{ID: 1, Username: email}
	c.logged = true
	return c.user, nil
}

func (c *fakeController) Logout(context.Context) error {
	c.mu.Lock()
	c.logged = false
	c.mu.Unlock()
	return nil
}

func (c *fakeController) Directory() *directory.Client { return c.dir }

func (c *fakeController) OpenChat(ctx context.Context, chatID int, obs chat.Observer) (*chat.Session, error) {
	stream := newFakeStream()
	c.mu.Lock()
	c.streams = append(c.streams, stream)
	c.mu.Unlock()
	return chat.Open(ctx, chat.Options{
		ChatID:   chatID,
		Dial:     func(context.Context, int) (chat.Stream, error) { return stream, nil },
		WhoAmI:   whoami(1),
		Observer: obs,
		Location: time.UTC,
	})
}

func (c *fakeController) UserName(id int) string {
	if id == 1 {
		return "me"
	}
	return fmt.Sprintf("user%d", id)
}
