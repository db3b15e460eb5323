package ui

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"messenger-client/internal/chat"
	"messenger-client/internal/message"
	"messenger-client/internal/notify"
)

const redrawDelay = 150 * time.Millisecond

// Presenter turns chat.Session callbacks into Sink calls. Messages newer than
// everything on screen are appended; anything older (history pages) triggers
// one debounced full redraw so the view stays in timestamp order.
type Presenter struct {
	sink     Sink
	names    NameFunc
	notifier *notify.Notifier
	title    string
	now      func() time.Time
	delay    time.Duration

	mu      sync.Mutex
	session *chat.Session
	newest  time.Time
	timer   *time.Timer
}

func NewPresenter(sink Sink, names NameFunc) *Presenter {
	return &Presenter{sink: sink, names: names, now: time.Now, delay: redrawDelay}
}

// WithNotifier enables desktop notifications titled title.
func (p *Presenter) WithNotifier(n *notify.Notifier, title string) *Presenter {
	p.notifier = n
	p.title = title
	return p
}

// Attach binds the session whose log is drawn and draws it. Events that
// arrive before Attach are picked up by this first draw.
func (p *Presenter) Attach(s *chat.Session) {
	p.mu.Lock()
	p.session = s
	p.mu.Unlock()
	p.Redraw()
}

// Session returns the attached session, if any.
func (p *Presenter) Session() *chat.Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session
}

// Redraw pushes the whole grouped log and the status bar.
func (p *Presenter) Redraw() {
	p.mu.Lock()
	s := p.session
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	if s == nil {
		p.mu.Unlock()
		return
	}
	msgs := s.Messages()
	if n := len(msgs); n > 0 {
		p.newest = msgs[n-1].CreatedAt
	}
	p.mu.Unlock()
	groups := chat.GroupByDay(msgs, s.Location())
	p.sink.ShowLog(BuildDays(groups, p.now(), s.Self(), p.names))
	p.sink.UpdateStatus(p.Status())
}

func (p *Presenter) OnMessage(msg message.Message) {
	p.mu.Lock()
	s := p.session
	if s == nil {
		p.mu.Unlock()
		return
	}
	if !msg.CreatedAt.After(p.newest) {
		p.scheduleRedrawLocked()
		p.mu.Unlock()
		return
	}
	p.newest = msg.CreatedAt
	p.mu.Unlock()

	self := s.Self()
	entry := NewEntry(msg, self, p.names)
	p.sink.ShowMessage(entry)
	if !notify.ShouldNotify(msg, self) {
		return
	}
	if p.notifier != nil {
		p.notifier.MaybeNotify(p.title, entry.From, msg, self)
	}
	p.sink.ShowNotification(Notification{
		ID:        uuid.NewString(),
		Level:     "message",
		Title:     p.title,
		From:      entry.From,
		Text:      notify.Body(entry.From, msg),
		Timestamp: p.now(),
	})
}

func (p *Presenter) OnHistoryEnd() {
	p.sink.ShowSystem("beginning of conversation")
	p.sink.UpdateStatus(p.Status())
}

func (p *Presenter) OnState(state chat.State, err error) {
	if err != nil {
		p.sink.ShowSystem(fmt.Sprintf("connection %s: %v", state, err))
	}
	// Attach draws the status once the session is known.
	if p.Session() == nil {
		return
	}
	p.sink.UpdateStatus(p.Status())
}

// Status reads the attached session's view state.
func (p *Presenter) Status() Status {
	s := p.Session()
	if s == nil {
		return Status{State: chat.StateConnecting.String()}
	}
	state, err := s.State()
	st := Status{
		ChatID:       s.ChatID(),
		State:        state.String(),
		HistoryEnded: s.HistoryEnded(),
		Cursor:       s.Cursor(),
	}
	if err != nil {
		st.Err = err.Error()
	}
	if name, ok := s.Pending(); ok {
		st.Pending = name
	}
	return st
}

func (p *Presenter) scheduleRedrawLocked() {
	if p.timer != nil {
		return
	}
	p.timer = time.AfterFunc(p.delay, p.Redraw)
}
