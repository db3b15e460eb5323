package ui

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"messenger-client/internal/chat"
)

const (
	ansiReset = "\x1b[0m"
	ansiTime  = "\x1b[36m"
	ansiName  = "\x1b[33m"
	ansiMine  = "\x1b[35m"
	ansiSys   = "\x1b[32m"
	ansiDay   = "\x1b[1m"
)

// CLIDisplay renders chat events as plain lines.
type CLIDisplay struct {
	out   io.Writer
	color bool
	loc   *time.Location
	now   func() time.Time

	mu        sync.Mutex
	lastDay   time.Time
	lastState string
}

func NewCLIDisplay(out io.Writer, color bool, loc *time.Location) *CLIDisplay {
	if out == nil {
		out = os.Stdout
	}
	if loc == nil {
		loc = time.Local
	}
	return &CLIDisplay{out: out, color: color, loc: loc, now: time.Now}
}

func (c *CLIDisplay) ShowMessage(e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.separatorFor(e.CreatedAt)
	fmt.Fprintln(c.out, c.formatLine(e))
}

func (c *CLIDisplay) ShowLog(days []DayView) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastDay = time.Time{}
	for _, d := range days {
		c.printSeparator(d.Label)
		for _, e := range d.Entries {
			fmt.Fprintln(c.out, c.formatLine(e))
		}
		c.lastDay = d.Day
	}
}

func (c *CLIDisplay) ShowSystem(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts := c.now().In(c.loc).Format("15:04")
	if c.color {
		fmt.Fprintf(c.out, "%s%s%s %sSYSTEM%s: %s\n", ansiTime, ts, ansiReset, ansiSys, ansiReset, text)
		return
	}
	fmt.Fprintf(c.out, "%s SYSTEM: %s\n", ts, text)
}

// UpdateStatus only prints connection changes; pagination and the pending
// attachment are shown on request.
func (c *CLIDisplay) UpdateStatus(st Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st.State == c.lastState {
		return
	}
	c.lastState = st.State
	line := fmt.Sprintf("[chat %d] %s", st.ChatID, st.State)
	if c.color {
		fmt.Fprintf(c.out, "%s%s%s\n", ansiSys, line, ansiReset)
		return
	}
	fmt.Fprintln(c.out, line)
}

// ShowNotification rings the terminal bell. The message line itself has
// already been printed; plain output stays free of control bytes.
func (c *CLIDisplay) ShowNotification(Notification) {
	if !c.color {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprint(c.out, "\a")
}

func (c *CLIDisplay) separatorFor(at time.Time) {
	local := at.In(c.loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc)
	if day.Equal(c.lastDay) {
		return
	}
	c.lastDay = day
	c.printSeparator(chat.DayLabel(day, c.now()))
}

func (c *CLIDisplay) printSeparator(label string) {
	line := fmt.Sprintf("──── %s ────", label)
	if c.color {
		fmt.Fprintf(c.out, "%s%s%s\n", ansiDay, line, ansiReset)
		return
	}
	fmt.Fprintln(c.out, line)
}

func (c *CLIDisplay) formatLine(e Entry) string {
	ts := e.CreatedAt.In(c.loc).Format("15:04")
	body := e.Text
	if e.Attachment != "" {
		body = fmt.Sprintf("[file: %s]", e.Attachment)
	}
	from := e.From
	if e.Freeform {
		from = "*"
	}
	if !c.color {
		return fmt.Sprintf("%s %s: %s", ts, from, body)
	}
	nameColor := ansiName
	if e.Mine {
		nameColor = ansiMine
	}
	return fmt.Sprintf("%s%s%s %s%s%s: %s", ansiTime, ts, ansiReset, nameColor, from, ansiReset, body)
}

// ShouldUseColor determines if ANSI coloring should be enabled for CLI output.
func ShouldUseColor(disable bool) bool {
	if disable {
		return false
	}
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	if runtime.GOOS == "windows" {
		if os.Getenv("WT_SESSION") != "" || os.Getenv("ANSICON") != "" || strings.EqualFold(os.Getenv("ConEmuANSI"), "ON") {
			return true
		}
		return false
	}
	return true
}
