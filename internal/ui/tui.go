package ui

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"messenger-client/internal/chat"
	"messenger-client/internal/directory"
	"messenger-client/internal/message"
	"messenger-client/internal/notify"
)

const (
	sentinelLine   = "[gray]▲ load more (PgUp)[-]"
	historyEndLine = "[gray]── beginning of conversation ──[-]"
	chatHelp       = " Enter:Send | PgUp:Older | Ctrl-O:Attach | Ctrl-R:Remove file | Esc:Back "
	friendsHelp    = " Enter:Open/Accept | d:Decline | /:Search | F2:Chats | F5:Refresh | Ctrl-C:Quit "
)

// TUIDisplay is the full-screen client: friends, conversations and one open
// chat at a time.
type TUIDisplay struct {
	app      *tview.Application
	pages    *tview.Pages
	ctrl     Controller
	notifier *notify.Notifier

	friends  *tview.List
	requests *tview.List
	results  *tview.List
	search   *tview.InputField
	chats    *tview.List
	status   *tview.TextView

	chatView   *tview.TextView
	input      *tview.InputField
	chatStatus *tview.TextView

	mu        sync.Mutex
	presenter *Presenter
	session   *chat.Session
	ended     bool
	once      sync.Once
}

func NewTUIDisplay(ctrl Controller, notifier *notify.Notifier) *TUIDisplay {
	t := &TUIDisplay{
		app:      tview.NewApplication(),
		pages:    tview.NewPages(),
		ctrl:     ctrl,
		notifier: notifier,
	}
	t.pages.AddPage("friends", t.friendsPage(), true, true)
	t.pages.AddPage("chats", t.chatsPage(), true, false)
	t.pages.AddPage("chat", t.chatPage(), true, false)
	t.app.SetRoot(t.pages, true).EnableMouse(true)
	t.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyF1:
			t.pages.SwitchToPage("friends")
			return nil
		case tcell.KeyF2:
			t.showChats()
			return nil
		}
		return event
	})
	return t
}

func (t *TUIDisplay) Run(ctx context.Context) error {
	dir := t.ctrl.Directory()
	dir.OnChange(func(snap directory.Snapshot) {
		if snap.Status != directory.StatusLoading {
			t.renderDirectory(snap)
		}
	})
	defer dir.OnChange(nil)
	go func() {
		<-ctx.Done()
		t.Stop()
	}()
	go t.refreshFriends()
	err := t.app.Run()
	t.Stop()
	return err
}

func (t *TUIDisplay) Stop() {
	t.once.Do(func() {
		t.closeChat()
		t.app.Stop()
	})
}

func (t *TUIDisplay) friendsPage() tview.Primitive {
	t.friends = tview.NewList().ShowSecondaryText(false)
	t.friends.SetBorder(true).SetTitle(" Friends ")
	t.requests = tview.NewList()
	t.requests.SetBorder(true).SetTitle(" Requests ")
	t.results = tview.NewList().ShowSecondaryText(false)
	t.results.SetBorder(true).SetTitle(" Search results ")
	t.search = tview.NewInputField().SetLabel("Search: ").SetFieldWidth(0)
	t.status = tview.NewTextView().SetDynamicColors(true).SetText(friendsHelp)

	t.search.SetDoneFunc(func(key tcell.Key) {
		switch key {
		case tcell.KeyEnter:
			go t.runSearch(t.search.GetText())
		case tcell.KeyEsc:
			t.app.SetFocus(t.friends)
		}
	})
	t.requests.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Rune() == 'd' {
			t.respondSelected(false)
			return nil
		}
		return event
	})

	lists := tview.NewFlex().
		AddItem(t.friends, 0, 1, true).
		AddItem(t.requests, 0, 1, false).
		AddItem(t.results, 0, 1, false)
	layout := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(lists, 0, 1, true).
		AddItem(t.search, 1, 0, false).
		AddItem(t.status, 1, 0, false)
	focus := []tview.Primitive{t.friends, t.requests, t.results}
	layout.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch {
		case event.Key() == tcell.KeyTab:
			for i, p := range focus {
				if p.HasFocus() {
					t.app.SetFocus(focus[(i+1)%len(focus)])
					return nil
				}
			}
			t.app.SetFocus(t.friends)
			return nil
		case event.Key() == tcell.KeyF5:
			go t.refreshFriends()
			return nil
		case event.Rune() == '/' && !t.search.HasFocus():
			t.app.SetFocus(t.search)
			return nil
		}
		return event
	})
	return layout
}

func (t *TUIDisplay) chatsPage() tview.Primitive {
	t.chats = tview.NewList()
	t.chats.SetBorder(true).SetTitle(" Conversations ")
	return t.chats
}

func (t *TUIDisplay) chatPage() tview.Primitive {
	t.chatView = tview.NewTextView().SetDynamicColors(true).SetScrollable(true)
	t.chatView.SetBorder(true)
	t.input = tview.NewInputField().SetLabel("> ").SetFieldWidth(0)
	t.chatStatus = tview.NewTextView().SetDynamicColors(true).SetText(chatHelp)

	t.input.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		go t.submit(t.input.GetText())
	})

	layout := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(t.chatView, 0, 1, false).
		AddItem(t.input, 1, 0, true).
		AddItem(t.chatStatus, 1, 0, false)
	layout.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyEsc:
			go t.closeChat()
			t.pages.SwitchToPage("friends")
			return nil
		case tcell.KeyPgUp:
			row, col := t.chatView.GetScrollOffset()
			if row <= 0 {
				go t.sentinelVisible()
				return nil
			}
			t.chatView.ScrollTo(row-10, col)
			return nil
		case tcell.KeyPgDn:
			row, col := t.chatView.GetScrollOffset()
			t.chatView.ScrollTo(row+10, col)
			return nil
		case tcell.KeyCtrlO:
			t.promptAttach()
			return nil
		case tcell.KeyCtrlR:
			go func() {
				if s := t.currentSession(); s != nil && s.Unstage() {
					t.ShowSystem("attachment removed")
					t.refreshStatus()
				}
			}()
			return nil
		}
		return event
	})
	return layout
}

func (t *TUIDisplay) refreshFriends() {
	if err := t.ctrl.Directory().Refresh(context.Background()); err != nil {
		t.setStatus(fmt.Sprintf("[red]%v[-]", err))
	}
}

func (t *TUIDisplay) renderDirectory(snap directory.Snapshot) {
	t.app.QueueUpdateDraw(func() {
		t.friends.Clear()
		for _, f := range snap.Friends {
			peer := f.Peer
			t.friends.AddItem(peer.DisplayName(), "", 0, func() { go t.openWith(peer) })
		}
		t.requests.Clear()
		for _, r := range snap.Requests.Incoming {
			t.requests.AddItem("← "+r.Peer.Username, "Enter: accept, d: decline", 0, nil)
		}
		for _, r := range snap.Requests.Outgoing {
			t.requests.AddItem("→ "+r.Peer.Username, "Enter: withdraw", 0, nil)
		}
		t.requests.SetSelectedFunc(func(i int, _, _ string, _ rune) {
			t.respondAt(snap.Requests, i, true)
		})
	})
}

func (t *TUIDisplay) respondSelected(accept bool) {
	snap := t.ctrl.Directory().Snapshot()
	t.respondAt(snap.Requests, t.requests.GetCurrentItem(), accept)
}

// respondAt accepts or declines the i-th request row. Outgoing rows follow
// the incoming ones and can only be withdrawn.
func (t *TUIDisplay) respondAt(reqs directory.Requests, i int, accept bool) {
	var edge message.FriendEdge
	switch {
	case i >= 0 && i < len(reqs.Incoming):
		edge = reqs.Incoming[i]
	case i >= len(reqs.Incoming) && i < len(reqs.Incoming)+len(reqs.Outgoing):
		edge = reqs.Outgoing[i-len(reqs.Incoming)]
		accept = false
	default:
		return
	}
	if edge.Pending == nil {
		return
	}
	go func() {
		if err := t.ctrl.Directory().Respond(context.Background(), edge.Pending.RequestID, accept); err != nil {
			t.setStatus(fmt.Sprintf("[red]%v[-]", err))
		}
	}()
}

func (t *TUIDisplay) runSearch(query string) {
	users, err := t.ctrl.Directory().Search(context.Background(), query)
	if err != nil {
		t.setStatus(fmt.Sprintf("[red]%v[-]", err))
		return
	}
	t.app.QueueUpdateDraw(func() {
		t.results.Clear()
		if len(users) == 0 {
			t.results.AddItem("no users found", "", 0, nil)
		}
		for _, u := range users {
			user := u
			t.results.AddItem(user.Username, "", 0, func() {
				go func() {
					if err := t.ctrl.Directory().SendRequest(context.Background(), user.ID); err != nil {
						t.setStatus(fmt.Sprintf("[red]%v[-]", err))
					} else {
						t.setStatus(fmt.Sprintf("request sent to %s", user.Username))
					}
				}()
			})
		}
		t.app.SetFocus(t.results)
	})
}

func (t *TUIDisplay) showChats() {
	go func() {
		chats, err := t.ctrl.Directory().Conversations(context.Background())
		if err != nil {
			t.setStatus(fmt.Sprintf("[red]%v[-]", err))
			return
		}
		t.app.QueueUpdateDraw(func() {
			t.chats.Clear()
			for _, c := range chats {
				id := c.ChatID
				t.chats.AddItem(c.PeerUsername, c.LastMessage, 0, func() { go t.openChat(id, "") })
			}
			t.pages.SwitchToPage("chats")
			t.app.SetFocus(t.chats)
		})
	}()
}

func (t *TUIDisplay) openWith(peer message.Identity) {
	id, err := t.ctrl.Directory().CreateOrGetConversation(context.Background(), peer.ID)
	if err != nil {
		t.setStatus(fmt.Sprintf("[red]%v[-]", err))
		return
	}
	t.openChat(id, peer.DisplayName())
}

func (t *TUIDisplay) openChat(chatID int, title string) {
	t.closeChat()
	if title == "" {
		title = fmt.Sprintf("chat %d", chatID)
	}
	presenter := NewPresenter(t, t.ctrl.UserName).WithNotifier(t.notifier, title)
	t.mu.Lock()
	t.presenter = presenter
	t.ended = false
	t.mu.Unlock()
	t.app.QueueUpdateDraw(func() {
		t.chatView.Clear()
		t.chatView.SetTitle(" " + title + " ")
		t.pages.SwitchToPage("chat")
		t.app.SetFocus(t.input)
	})
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	s, err := t.ctrl.OpenChat(ctx, chatID, presenter)
	if s == nil {
		t.ShowSystem(fmt.Sprintf("open chat failed: %v", err))
		return
	}
	t.mu.Lock()
	t.session = s
	t.mu.Unlock()
	presenter.Attach(s)
	if err != nil {
		t.ShowSystem(err.Error())
	}
}

func (t *TUIDisplay) closeChat() {
	t.mu.Lock()
	s := t.session
	t.session = nil
	t.presenter = nil
	t.mu.Unlock()
	if s != nil {
		_ = s.Close()
	}
}

func (t *TUIDisplay) currentSession() *chat.Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.session
}

func (t *TUIDisplay) submit(text string) {
	s := t.currentSession()
	if s == nil {
		return
	}
	s.SetInput(text)
	if err := s.Submit(); err != nil {
		t.ShowSystem(fmt.Sprintf("send failed: %v", err))
		t.refreshStatus()
		return
	}
	t.app.QueueUpdateDraw(func() {
		if t.input.GetText() == text {
			t.input.SetText("")
		}
	})
	t.refreshStatus()
}

func (t *TUIDisplay) sentinelVisible() {
	s := t.currentSession()
	if s == nil || s.HistoryEnded() {
		return
	}
	if !s.CanRequestMore() {
		t.setChatStatus("[gray]still loading older messages[-]")
		return
	}
	if _, err := s.SentinelVisible(); err != nil {
		t.ShowSystem(fmt.Sprintf("load more failed: %v", err))
	}
}

func (t *TUIDisplay) promptAttach() {
	field := tview.NewInputField().SetLabel("Attach file: ").SetFieldWidth(0)
	field.SetBorder(true)
	field.SetDoneFunc(func(key tcell.Key) {
		path := strings.TrimSpace(field.GetText())
		t.pages.RemovePage("attach")
		t.app.SetFocus(t.input)
		if key != tcell.KeyEnter || path == "" {
			return
		}
		go func() {
			s := t.currentSession()
			if s == nil {
				return
			}
			if err := s.StageFile(path); err != nil {
				t.ShowSystem(fmt.Sprintf("attach failed: %v", err))
			}
			t.refreshStatus()
		}()
	})
	modal := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(nil, 0, 1, false).
		AddItem(tview.NewFlex().AddItem(nil, 0, 1, false).AddItem(field, 60, 0, true).AddItem(nil, 0, 1, false), 3, 0, true).
		AddItem(nil, 0, 1, false)
	t.pages.AddPage("attach", modal, true, true)
	t.app.SetFocus(field)
}

func (t *TUIDisplay) refreshStatus() {
	t.mu.Lock()
	p := t.presenter
	t.mu.Unlock()
	if p != nil {
		t.UpdateStatus(p.Status())
	}
}

func (t *TUIDisplay) setChatStatus(text string) {
	t.app.QueueUpdateDraw(func() {
		t.chatStatus.SetText(" " + text + " |" + chatHelp)
	})
}

func (t *TUIDisplay) setStatus(text string) {
	t.app.QueueUpdateDraw(func() {
		t.status.SetText(text + " |" + friendsHelp)
	})
}

func (t *TUIDisplay) ShowMessage(e Entry) {
	line := formatTUILine(e)
	t.app.QueueUpdateDraw(func() {
		fmt.Fprintln(t.chatView, line)
		t.chatView.ScrollToEnd()
	})
}

func (t *TUIDisplay) ShowLog(days []DayView) {
	lines := renderTUIDays(days)
	t.mu.Lock()
	ended := t.ended
	t.mu.Unlock()
	t.app.QueueUpdateDraw(func() {
		t.chatView.Clear()
		head := sentinelLine
		if ended {
			head = historyEndLine
		}
		fmt.Fprintln(t.chatView, head)
		for _, l := range lines {
			fmt.Fprintln(t.chatView, l)
		}
	})
}

func (t *TUIDisplay) ShowSystem(text string) {
	content := fmt.Sprintf("[green]>>> %s[-]", tview.Escape(text))
	t.app.QueueUpdateDraw(func() {
		fmt.Fprintln(t.chatView, content)
		t.chatView.ScrollToEnd()
	})
}

func (t *TUIDisplay) UpdateStatus(st Status) {
	t.mu.Lock()
	redraw := st.HistoryEnded && !t.ended
	t.ended = st.HistoryEnded
	p := t.presenter
	t.mu.Unlock()
	if redraw && p != nil {
		go p.Redraw()
	}
	text := fmt.Sprintf(" %s", st.State)
	if st.Pending != "" {
		text += fmt.Sprintf(" | [orange]📎 %s[-] (Ctrl-R removes)", tview.Escape(st.Pending))
	}
	if st.Err != "" {
		text += fmt.Sprintf(" | [red]%s[-]", tview.Escape(st.Err))
	}
	t.app.QueueUpdateDraw(func() {
		t.chatStatus.SetText(text + " |" + chatHelp)
	})
}

// ShowNotification flags the message on the friends page, which stays
// reachable with F1 while the chat is open.
func (t *TUIDisplay) ShowNotification(n Notification) {
	t.setStatus(fmt.Sprintf("[orange]✉ %s: %s[-]", tview.Escape(n.Title), tview.Escape(n.Text)))
}

func renderTUIDays(days []DayView) []string {
	var lines []string
	for _, d := range days {
		lines = append(lines, fmt.Sprintf("[::b]──── %s ────[::-]", d.Label))
		for _, e := range d.Entries {
			lines = append(lines, formatTUILine(e))
		}
	}
	return lines
}

func formatTUILine(e Entry) string {
	ts := e.CreatedAt.Local().Format("15:04")
	if e.Freeform {
		return fmt.Sprintf("[yellow]%s[-] [gray]* %s[-]", ts, tview.Escape(e.Text))
	}
	color := "lightgreen"
	if e.Mine {
		color = "violet"
	}
	body := tview.Escape(e.Text)
	if e.Attachment != "" {
		body = fmt.Sprintf("[orange][file: %s][-]", tview.Escape(e.Attachment))
	}
	return fmt.Sprintf("[yellow]%s[-] [%s]%s[-]: %s", ts, color, tview.Escape(e.From), body)
}
