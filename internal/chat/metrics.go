package chat

import (
	"fmt"
	"sync"
)

// Metrics counts stream traffic for the `/stats` command.
type Metrics struct {
	mu       sync.Mutex
	sent     int
	received int
	dropped  int
}

func NewMetrics() *Metrics { return &Metrics{} }

func (m *Metrics) IncSent()     { m.mu.Lock(); m.sent++; m.mu.Unlock() }
func (m *Metrics) IncReceived() { m.mu.Lock(); m.received++; m.mu.Unlock() }
func (m *Metrics) IncDropped()  { m.mu.Lock(); m.dropped++; m.mu.Unlock() }

func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MetricsSnapshot{Sent: m.sent, Received: m.received, Dropped: m.dropped}
}

type MetricsSnapshot struct {
	Sent     int
	Received int
	Dropped  int
}

func (s MetricsSnapshot) String() string {
	return fmt.Sprintf("sent=%d received=%d dropped=%d", s.Sent, s.Received, s.Dropped)
}
