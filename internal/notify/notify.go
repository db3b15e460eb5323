package notify

import (
	"fmt"
	"log"
	"sync"

	"github.com/gen2brain/beeep"

	"messenger-client/internal/message"
)

const maxBodyLen = 100

// SendFunc delivers a desktop notification. beeep.Notify by default.
type SendFunc func(title, body, icon string) error

// Notifier raises desktop notifications for live messages from other users.
// History pages and our own echoes are ignored.
type Notifier struct {
	enabled bool
	icon    string
	send    SendFunc

	mu   sync.Mutex
	sent int
}

func New(enabled bool, icon string) *Notifier {
	return &Notifier{enabled: enabled, icon: icon, send: beeep.Notify}
}

// WithSender swaps the delivery function, mostly for tests.
func (n *Notifier) WithSender(fn SendFunc) *Notifier {
	n.send = fn
	return n
}

// ShouldNotify reports whether msg is live traffic from someone else. Live is
// set by the chat session on arrival.
func ShouldNotify(msg message.Message, self int) bool {
	return msg.Live && !msg.Freeform && msg.Sender != self
}

// MaybeNotify sends a notification for msg when it qualifies. It returns
// whether one was sent. Delivery errors are logged, never returned.
func (n *Notifier) MaybeNotify(title, from string, msg message.Message, self int) bool {
	if n == nil || !n.enabled || n.send == nil {
		return false
	}
	if !ShouldNotify(msg, self) {
		return false
	}
	if err := n.send(title, Body(from, msg), n.icon); err != nil {
		log.Printf("desktop notification failed: %v", err)
		return false
	}
	n.mu.Lock()
	n.sent++
	n.mu.Unlock()
	return true
}

func (n *Notifier) Sent() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sent
}

// Body renders the notification text, truncated for the desktop popup.
func Body(from string, msg message.Message) string {
	content := msg.Text
	if msg.IsAttachment {
		content = "sent a file: " + message.AttachmentName(msg.Text)
	}
	if r := []rune(content); len(r) > maxBodyLen {
		content = string(r[:maxBodyLen-3]) + "..."
	}
	return fmt.Sprintf("%s: %s", from, content)
}
