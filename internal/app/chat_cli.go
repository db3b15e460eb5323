package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"messenger-client/internal/chat"
	"messenger-client/internal/message"
	"messenger-client/internal/ui"
)

const chatCommands = "commands: /file <path> /send /unstage /pending /more /retry /download [name] /stats /quit"

var errQuit = errors.New("quit")

// lineChat drives one conversation from line-oriented input.
type lineChat struct {
	app       *App
	session   *chat.Session
	sink      ui.Sink
	presenter *ui.Presenter
}

// RunChat opens chatID and reads lines from in until EOF, /quit or ctx ends.
func (a *App) RunChat(ctx context.Context, chatID int, title string, in io.Reader, out io.Writer) error {
	if _, err := a.RequireLogin(ctx); err != nil {
		return err
	}
	if _, err := a.dir.FetchFriends(ctx); err != nil {
		log.Printf("friends unavailable for sender names: %v", err)
	}
	if title == "" {
		title = fmt.Sprintf("Chat %d", chatID)
	}
	display := ui.NewCLIDisplay(out, ui.ShouldUseColor(a.cfg.NoColor), a.loc)
	presenter := ui.NewPresenter(display, a.UserName).WithNotifier(a.notifier, title)
	s, err := a.OpenChat(ctx, chatID, presenter)
	if s == nil {
		return err
	}
	defer s.Close()
	presenter.Attach(s)
	if err != nil {
		display.ShowSystem(fmt.Sprintf("%v (type /retry to identify again)", err))
	}

	lc := &lineChat{app: a, session: s, sink: display, presenter: presenter}
	lines := make(chan string)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go func() {
		readErr <- readLines(in, lines, done)
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			return err
		case line := <-lines:
			if err := lc.ProcessLine(ctx, line); errors.Is(err, errQuit) {
				return nil
			}
		}
	}
}

func readLines(reader io.Reader, lines chan<- string, done <-chan struct{}) error {
	buf := bufio.NewReader(reader)
	for {
		line, err := buf.ReadString('\n')
		if line != "" {
			select {
			case lines <- line:
			case <-done:
				return nil
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("stdin: %w", err)
		}
	}
}

// ProcessLine sends plain lines and runs slash commands.
func (lc *lineChat) ProcessLine(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if strings.HasPrefix(line, "/") {
		return lc.handleCommand(ctx, line)
	}
	lc.session.SetInput(line)
	name, staged := lc.session.Pending()
	if lc.submit() && staged {
		lc.sink.ShowSystem(fmt.Sprintf("sent %s; the text was not sent with it", name))
	}
	return nil
}

// submit sends whatever the composer holds. A staged attachment wins over
// the text, and both are cleared.
func (lc *lineChat) submit() bool {
	if err := lc.session.Submit(); err != nil {
		lc.sink.ShowSystem(fmt.Sprintf("send failed: %v", err))
		return false
	}
	return true
}

func (lc *lineChat) handleCommand(ctx context.Context, line string) error {
	parts := strings.Fields(line)
	switch parts[0] {
	case "/file":
		if len(parts) < 2 {
			lc.sink.ShowSystem("usage: /file <path>")
			return nil
		}
		path := strings.TrimSpace(strings.TrimPrefix(line, parts[0]))
		if err := lc.session.StageFile(path); err != nil {
			lc.sink.ShowSystem(fmt.Sprintf("attach failed: %v", err))
			return nil
		}
		name, _ := lc.session.Pending()
		lc.sink.ShowSystem(fmt.Sprintf("staged %s (/send to send, /unstage to remove)", name))
	case "/send":
		if _, ok := lc.session.Pending(); !ok && lc.session.Input() == "" {
			lc.sink.ShowSystem("nothing staged")
			return nil
		}
		lc.submit()
	case "/unstage":
		if lc.session.Unstage() {
			lc.sink.ShowSystem("attachment removed")
		} else {
			lc.sink.ShowSystem("nothing staged")
		}
	case "/pending":
		if name, ok := lc.session.Pending(); ok {
			lc.sink.ShowSystem(fmt.Sprintf("pending: %s", name))
		} else {
			lc.sink.ShowSystem("nothing staged")
		}
	case "/more":
		if lc.session.HistoryEnded() {
			lc.sink.ShowSystem("beginning of conversation")
			return nil
		}
		if !lc.session.CanRequestMore() {
			lc.sink.ShowSystem("still loading, try again shortly")
			return nil
		}
		if _, err := lc.session.SentinelVisible(); err != nil {
			lc.sink.ShowSystem(fmt.Sprintf("load more failed: %v", err))
		}
	case "/retry":
		if err := lc.session.Identify(ctx); err != nil {
			lc.sink.ShowSystem(err.Error())
		}
	case "/download":
		name := ""
		if len(parts) >= 2 {
			name = strings.TrimSpace(strings.TrimPrefix(line, parts[0]))
		}
		path, ok := findAttachment(lc.session.Messages(), name)
		if !ok {
			lc.sink.ShowSystem("no matching attachment in this conversation")
			return nil
		}
		d, err := lc.app.Download(ctx, lc.session.ChatID(), path)
		if err != nil {
			lc.sink.ShowSystem(fmt.Sprintf("download failed: %v", err))
			return nil
		}
		lc.sink.ShowSystem(fmt.Sprintf("saved %s (%d bytes) as %s", d.Name, d.Size, d.ID))
	case "/stats":
		st := lc.presenter.Status()
		lc.sink.ShowSystem(fmt.Sprintf("%s | %s | pages=%d", lc.app.metrics.Snapshot(), st.State, st.Cursor))
	case "/quit":
		lc.sink.ShowSystem("bye")
		return errQuit
	default:
		lc.sink.ShowSystem(chatCommands)
	}
	return nil
}

// findAttachment returns the newest attachment path whose display name
// matches name, or the newest attachment when name is empty.
func findAttachment(msgs []message.Message, name string) (string, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		msg := msgs[i]
		if !msg.IsAttachment || msg.Freeform {
			continue
		}
		if name == "" || strings.EqualFold(message.AttachmentName(msg.Text), name) {
			return msg.Text, true
		}
	}
	return "", false
}
