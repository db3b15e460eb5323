package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"messenger-client/internal/message"
)

// State is the lifecycle stage of a Session.
type State int

const (
	StateConnecting State = iota
	StateIdentifying
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateIdentifying:
		return "identifying"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var (
	ErrNotActive = errors.New("chat session is not active")
	ErrClosed    = errors.New("chat session is closed")
)

// Stream is the open transport of one conversation.
type Stream interface {
	Send(v interface{}) error
	Incoming() <-chan []byte
	Err() error
	Close() error
}

// DialFunc opens the stream of a conversation.
type DialFunc func(ctx context.Context, chatID int) (Stream, error)

// WhoAmI resolves the id of the authenticated caller.
type WhoAmI interface {
	CurrentUserID(ctx context.Context) (int, error)
}

// Observer is told about every change a view needs to redraw. Callbacks run
// outside the session lock and may call back into the session.
type Observer interface {
	OnMessage(message.Message)
	OnHistoryEnd()
	OnState(State, error)
}

// Options configures a Session.
type Options struct {
	ChatID   int
	Dial     DialFunc
	WhoAmI   WhoAmI
	Observer Observer
	Cooldown time.Duration
	Location *time.Location
	Metrics  *Metrics
	Clock    func() time.Time

	// LiveGrace is how long after identify inbound messages are still taken
	// as the initial history page. Defaults to DefaultLiveGrace.
	LiveGrace time.Duration
}

const DefaultLiveGrace = time.Second

// Session is one open conversation view: its stream, its ordered log and its
// backward pagination. A closed session is never reused.
type Session struct {
	chatID    int
	dial      DialFunc
	whoami    WhoAmI
	observer  Observer
	loc       *time.Location
	metrics   *Metrics
	clock     func() time.Time
	liveGrace time.Duration

	mu       sync.Mutex
	state    State
	err      error
	stream   Stream
	self     int
	openedAt time.Time
	log      Log
	pager    *Pager
	composer Composer
}

func New(opts Options) *Session {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewMetrics()
	}
	grace := opts.LiveGrace
	if grace <= 0 {
		grace = DefaultLiveGrace
	}
	return &Session{
		chatID:    opts.ChatID,
		dial:      opts.Dial,
		whoami:    opts.WhoAmI,
		observer:  opts.Observer,
		loc:       loc,
		metrics:   metrics,
		clock:     clock,
		liveGrace: grace,
		state:     StateConnecting,
		pager:     NewPager(opts.Cooldown),
	}
}

// Open builds a session and runs Connect. The session is returned even when
// Connect fails so the caller can render its state or retry Identify.
func Open(ctx context.Context, opts Options) (*Session, error) {
	s := New(opts)
	return s, s.Connect(ctx)
}

// Connect dials the stream and identifies the caller on it. A dial failure
// closes the session; an identify failure leaves it in StateIdentifying with
// the stream still open.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateConnecting {
		s.mu.Unlock()
		return fmt.Errorf("connect: session already %s", s.state)
	}
	s.mu.Unlock()

	stream, err := s.dial(ctx, s.chatID)
	if err != nil {
		err = fmt.Errorf("connect chat %d: %w", s.chatID, err)
		s.setState(StateClosed, err)
		return err
	}

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		_ = stream.Close()
		return ErrClosed
	}
	s.stream = stream
	s.state = StateIdentifying
	s.mu.Unlock()
	s.notifyState(StateIdentifying, nil)
	go s.dispatch(stream)

	return s.Identify(ctx)
}

// Identify asks the backend who the caller is and announces that id on the
// stream. It may be called again after a failure.
func (s *Session) Identify(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateActive:
		s.mu.Unlock()
		return nil
	case StateClosed:
		s.mu.Unlock()
		return ErrClosed
	case StateConnecting:
		s.mu.Unlock()
		return fmt.Errorf("identify: stream not connected")
	}
	s.mu.Unlock()

	id, err := s.whoami.CurrentUserID(ctx)
	if err != nil {
		return s.identifyFailed(err)
	}

	s.mu.Lock()
	if s.state != StateIdentifying {
		state := s.state
		s.mu.Unlock()
		if state == StateActive {
			return nil
		}
		return ErrClosed
	}
	if err := s.stream.Send(message.IdentifyFrame(id)); err != nil {
		s.mu.Unlock()
		return s.identifyFailed(err)
	}
	s.metrics.IncSent()
	s.self = id
	s.openedAt = s.clock()
	s.state = StateActive
	s.err = nil
	s.mu.Unlock()

	s.notifyState(StateActive, nil)
	return nil
}

func (s *Session) identifyFailed(err error) error {
	err = fmt.Errorf("identify: %w", err)
	s.mu.Lock()
	if s.state == StateIdentifying {
		s.err = err
	}
	s.mu.Unlock()
	s.notifyState(StateIdentifying, err)
	return err
}

// dispatch drains the stream from Connect on, so a peer close is noticed in
// any state. Events are only applied once the session is active.
func (s *Session) dispatch(stream Stream) {
	for raw := range stream.Incoming() {
		s.handle(raw)
	}
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	s.err = stream.Err()
	err := s.err
	s.mu.Unlock()
	if err != nil {
		log.Printf("chat %d stream ended: %v", s.chatID, err)
	}
	s.notifyState(StateClosed, err)
}

func (s *Session) handle(raw []byte) {
	now := s.clock()
	evt, err := message.DecodeEvent(raw, now)
	if err != nil {
		s.metrics.IncDropped()
		log.Printf("chat %d: dropping frame: %v", s.chatID, err)
		return
	}
	s.mu.Lock()
	if s.state != StateActive {
		state := s.state
		s.mu.Unlock()
		s.metrics.IncDropped()
		log.Printf("chat %d: dropping event while %s", s.chatID, state)
		return
	}
	if !s.pager.Accept(evt.RequestID) {
		s.mu.Unlock()
		s.metrics.IncDropped()
		log.Printf("chat %d: dropping late history response %s", s.chatID, evt.RequestID)
		return
	}
	switch evt.Kind {
	case message.EventEndOfHistory:
		s.pager.Exhaust()
		s.mu.Unlock()
		s.metrics.IncReceived()
		if s.observer != nil {
			s.observer.OnHistoryEnd()
		}
	default:
		msg := evt.Message
		msg.Live = s.isLive(msg, now)
		s.log.Insert(msg)
		s.mu.Unlock()
		s.metrics.IncReceived()
		if s.observer != nil {
			s.observer.OnMessage(msg)
		}
	}
}

// isLive reports whether msg is new traffic rather than history: it must
// extend the log and arrive after the grace window that covers the page the
// backend pushes on identify. received is on the local clock.
func (s *Session) isLive(msg message.Message, received time.Time) bool {
	if msg.Freeform {
		return false
	}
	if newest, ok := s.log.Newest(); ok && !msg.CreatedAt.After(newest.CreatedAt) {
		return false
	}
	return !received.Before(s.openedAt.Add(s.liveGrace))
}

// SetInput replaces the composer text.
func (s *Session) SetInput(text string) {
	s.mu.Lock()
	s.composer.SetText(text)
	s.mu.Unlock()
}

// Input returns the composer text.
func (s *Session) Input() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.composer.Text()
}

// Stage puts an attachment into the pending slot.
func (s *Session) Stage(name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.composer.Stage(name, data)
}

// StageFile stages a file from disk.
func (s *Session) StageFile(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.composer.StageFile(path)
}

// Unstage removes the pending attachment without sending anything.
func (s *Session) Unstage() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.composer.Unstage()
}

// Pending returns the name of the staged attachment.
func (s *Session) Pending() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.composer.Pending()
}

// Submit sends the composer contents as one frame and clears it. With nothing
// to send it returns without emitting a frame. On a transport error the
// composer keeps its contents.
func (s *Session) Submit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return s.inactiveErr()
	}
	frame, ok := s.composer.frame()
	if !ok {
		return nil
	}
	if err := s.stream.Send(frame); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	s.metrics.IncSent()
	s.composer.clear()
	return nil
}

// SendText sets the input to text and submits it.
func (s *Session) SendText(text string) error {
	s.SetInput(text)
	return s.Submit()
}

// RequestMore asks for the next older page. It reports whether a frame was
// sent; it sends nothing once history is exhausted or while the previous
// request is inside its cool-down.
func (s *Session) RequestMore() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return false, s.inactiveErr()
	}
	frame, ok := s.pager.Begin(s.clock())
	if !ok {
		return false, nil
	}
	if err := s.stream.Send(frame); err != nil {
		s.pager.Abort()
		return false, fmt.Errorf("request history: %w", err)
	}
	s.metrics.IncSent()
	return true, nil
}

// SentinelVisible is the view hook for the "load more" marker scrolling
// into view.
func (s *Session) SentinelVisible() (bool, error) {
	return s.RequestMore()
}

// Close tears the stream down. The session stays closed.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	s.err = nil
	stream := s.stream
	s.mu.Unlock()

	var err error
	if stream != nil {
		err = stream.Close()
	}
	s.notifyState(StateClosed, nil)
	return err
}

func (s *Session) inactiveErr() error {
	if s.state == StateClosed {
		return ErrClosed
	}
	return ErrNotActive
}

func (s *Session) setState(state State, err error) {
	s.mu.Lock()
	s.state = state
	s.err = err
	s.mu.Unlock()
	s.notifyState(state, err)
}

func (s *Session) notifyState(state State, err error) {
	if s.observer != nil {
		s.observer.OnState(state, err)
	}
}

func (s *Session) ChatID() int              { return s.chatID }
func (s *Session) Metrics() *Metrics        { return s.metrics }
func (s *Session) Location() *time.Location { return s.loc }

// State returns the lifecycle stage and the last error: why the session
// closed, or why identification failed.
func (s *Session) State() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.err
}

// Self is the id announced on identify; zero before StateActive.
func (s *Session) Self() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.self
}

// Messages returns the ordered log.
func (s *Session) Messages() []message.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log.Messages()
}

// Groups returns the log grouped by calendar date.
func (s *Session) Groups() []DayGroup {
	return GroupByDay(s.Messages(), s.loc)
}

// HistoryEnded reports whether the backend has no older messages left.
func (s *Session) HistoryEnded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pager.Exhausted()
}

// Cursor is the number of history pages requested so far, the initial one
// included.
func (s *Session) Cursor() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pager.Cursor()
}

// CanRequestMore reports whether RequestMore would send a frame right now.
func (s *Session) CanRequestMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateActive && !s.pager.Exhausted() && !s.pager.InFlight(s.clock())
}
