package chat

import (
	"time"

	"github.com/google/uuid"

	"messenger-client/internal/message"
)

// DefaultCooldown is the minimum gap between two history requests.
const DefaultCooldown = 500 * time.Millisecond

// Pager tracks backward pagination for one conversation. The first page is
// pushed by the backend on identify, so the cursor starts at 1.
type Pager struct {
	cursor    int
	exhausted bool
	current   string
	sentAt    time.Time
	cooldown  time.Duration
}

func NewPager(cooldown time.Duration) *Pager {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Pager{cursor: 1, cooldown: cooldown}
}

func (p *Pager) Cursor() int     { return p.cursor }
func (p *Pager) Exhausted() bool { return p.exhausted }
func (p *Pager) Current() string { return p.current }

// InFlight reports whether the last request is still inside its cool-down.
func (p *Pager) InFlight(now time.Time) bool {
	return p.current != "" && now.Sub(p.sentAt) < p.cooldown
}

// Begin advances the cursor and returns the frame for the next page, or false
// when history is exhausted or a request is still in flight.
func (p *Pager) Begin(now time.Time) (message.Frame, bool) {
	if p.exhausted || p.InFlight(now) {
		return message.Frame{}, false
	}
	p.cursor++
	p.current = uuid.NewString()
	p.sentAt = now
	return message.LoadMoreFrame(p.cursor, p.current), true
}

// Abort rolls back a Begin whose frame could not be sent.
func (p *Pager) Abort() {
	if p.current == "" {
		return
	}
	p.cursor--
	p.current = ""
	p.sentAt = time.Time{}
}

// Exhaust disables pagination for the rest of the session.
func (p *Pager) Exhaust() {
	p.exhausted = true
	p.current = ""
}

// Accept reports whether a response carrying requestID belongs to the latest
// request. Untagged responses are always accepted.
func (p *Pager) Accept(requestID string) bool {
	return requestID == "" || requestID == p.current
}
