package chat

import (
	"sort"
	"time"

	"messenger-client/internal/message"
)

// Log keeps a conversation's messages ordered by creation time. Messages with
// equal timestamps keep their arrival order.
type Log struct {
	items []message.Message
}

// Insert places msg after every message created at or before it.
func (l *Log) Insert(msg message.Message) {
	i := sort.Search(len(l.items), func(i int) bool {
		return l.items[i].CreatedAt.After(msg.CreatedAt)
	})
	l.items = append(l.items, message.Message{})
	copy(l.items[i+1:], l.items[i:])
	l.items[i] = msg
}

func (l *Log) Len() int { return len(l.items) }

// Newest returns the last message in display order.
func (l *Log) Newest() (message.Message, bool) {
	if len(l.items) == 0 {
		return message.Message{}, false
	}
	return l.items[len(l.items)-1], true
}

// Messages returns a copy of the ordered log.
func (l *Log) Messages() []message.Message {
	out := make([]message.Message, len(l.items))
	copy(out, l.items)
	return out
}

// DayGroup is the set of messages sharing one calendar date.
type DayGroup struct {
	Day      time.Time
	Messages []message.Message
}

// GroupByDay splits an ordered slice into calendar-date groups in loc.
func GroupByDay(msgs []message.Message, loc *time.Location) []DayGroup {
	if loc == nil {
		loc = time.Local
	}
	var groups []DayGroup
	for _, msg := range msgs {
		local := msg.CreatedAt.In(loc)
		day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
		if n := len(groups); n > 0 && groups[n-1].Day.Equal(day) {
			groups[n-1].Messages = append(groups[n-1].Messages, msg)
			continue
		}
		groups = append(groups, DayGroup{Day: day, Messages: []message.Message{msg}})
	}
	return groups
}

// DayLabel renders a group header relative to now.
func DayLabel(day, now time.Time) string {
	now = now.In(day.Location())
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, day.Location())
	switch {
	case day.Equal(today):
		return "Today"
	case day.Equal(today.AddDate(0, 0, -1)):
		return "Yesterday"
	case day.Year() == now.Year():
		return day.Format("January 2")
	}
	return day.Format("January 2, 2006")
}
