package app

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"messenger-client/internal/authutil"
	"messenger-client/internal/backend"
	"messenger-client/internal/chat"
	"messenger-client/internal/config"
	"messenger-client/internal/crypto"
	"messenger-client/internal/directory"
	"messenger-client/internal/message"
	"messenger-client/internal/network"
	"messenger-client/internal/notify"
	"messenger-client/internal/session"
	"messenger-client/internal/storage"
	"messenger-client/internal/ui"
)

// App owns the long-lived client components. It is built once per process
// and handed to whichever surface runs: a one-shot command, the line chat,
// the TUI or the web bridge.
type App struct {
	cfg *config.Config
	loc *time.Location

	api       *backend.Client
	sessionDB *storage.SessionStore
	sessions  *session.Store
	dir       *directory.Client
	notifier  *notify.Notifier
	issuer    *authutil.Issuer
	dialer    *network.Dialer
	metrics   *chat.Metrics

	downloadsOnce sync.Once
	downloads     *storage.DownloadStore
	downloadsErr  error

	ctx          context.Context
	cancel       context.CancelFunc
	shutdownOnce sync.Once
}

// New wires every dependency according to cfg. cfg must be finalized.
func New(cfg *config.Config) (*App, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	api, err := backend.New(cfg.ServerURL, nil)
	if err != nil {
		return nil, err
	}
	box, err := crypto.NewBox(cfg.Secret)
	if err != nil {
		return nil, err
	}
	db, err := storage.OpenSessionStore(cfg.SessionDB, box)
	if err != nil {
		return nil, fmt.Errorf("open session cache %s: %w", cfg.SessionDB, err)
	}
	issuer, err := authutil.NewIssuer(cfg.BridgeSecret, 0)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &App{
		cfg:       cfg,
		loc:       loc,
		api:       api,
		sessionDB: db,
		sessions:  session.New(api, db),
		dir:       directory.New(api),
		notifier:  notify.New(cfg.Notify, ""),
		issuer:    issuer,
		metrics:   chat.NewMetrics(),
		ctx:       ctx,
		cancel:    cancel,
	}
	a.dialer = &network.Dialer{Header: a.streamHeader}
	a.sessions.OnChange(func(_ message.Identity, loggedIn bool) {
		if !loggedIn {
			a.dir.Reset()
		}
	})
	log.Printf("client ready (server:%s encryption:%t)", api.BaseURL(), box.Enabled())
	return a, nil
}

func (a *App) Config() *config.Config       { return a.cfg }
func (a *App) API() *backend.Client         { return a.api }
func (a *App) Sessions() *session.Store     { return a.sessions }
func (a *App) Directory() *directory.Client { return a.dir }
func (a *App) Notifier() *notify.Notifier   { return a.notifier }
func (a *App) Issuer() *authutil.Issuer     { return a.issuer }
func (a *App) Location() *time.Location     { return a.loc }
func (a *App) Metrics() *chat.Metrics       { return a.metrics }
func (a *App) Context() context.Context     { return a.ctx }

// Restore brings back the cached login, if it is still valid.
func (a *App) Restore(ctx context.Context) (message.Identity, bool, error) {
	return a.sessions.Restore(ctx)
}

// RequireLogin restores the cached session and fails when there is none.
func (a *App) RequireLogin(ctx context.Context) (message.Identity, error) {
	if id, ok := a.sessions.Current(); ok {
		return id, nil
	}
	id, ok, err := a.sessions.Restore(ctx)
	if err != nil {
		return message.Identity{}, err
	}
	if !ok {
		return message.Identity{}, fmt.Errorf("%w: run `messenger login` first", session.ErrNotLoggedIn)
	}
	return id, nil
}

func (a *App) Current() (message.Identity, bool) {
	return a.sessions.Current()
}

func (a *App) Login(ctx context.Context, email, password string) (message.Identity, error) {
	return a.sessions.Login(ctx, email, password)
}

func (a *App) Logout(ctx context.Context) error {
	return a.sessions.Logout(ctx)
}

// OpenChat connects to conversation chatID. The session comes back with an
// error when only identification failed, so the caller can show it and retry.
func (a *App) OpenChat(ctx context.Context, chatID int, obs chat.Observer) (*chat.Session, error) {
	if _, ok := a.sessions.Current(); !ok {
		return nil, session.ErrNotLoggedIn
	}
	return chat.Open(ctx, chat.Options{
		ChatID:   chatID,
		Dial:     a.dial,
		WhoAmI:   a.api,
		Observer: obs,
		Cooldown: a.cfg.PageCooldown,
		Location: a.loc,
		Metrics:  a.metrics,
	})
}

// UserName labels message senders: ourselves, then friends, then the raw id.
func (a *App) UserName(userID int) string {
	if id, ok := a.sessions.Current(); ok && id.ID == userID {
		return id.Username
	}
	for _, f := range a.dir.Snapshot().Friends {
		if f.Peer.ID == userID {
			return f.Peer.Username
		}
	}
	return fmt.Sprintf("user %d", userID)
}

func (a *App) dial(ctx context.Context, chatID int) (chat.Stream, error) {
	conn, err := a.dialer.Dial(ctx, a.api.ChatURL(chatID))
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (a *App) streamHeader() http.Header {
	h := http.Header{}
	if cookie := a.api.CookieHeader(); cookie != "" {
		h.Set("Cookie", cookie)
	}
	return h
}

// Downloads opens the downloads database on first use. The TUI and a
// one-shot command can then run side by side until one of them downloads.
func (a *App) Downloads() (*storage.DownloadStore, error) {
	a.downloadsOnce.Do(func() {
		a.downloads, a.downloadsErr = storage.OpenDownloadStore(a.cfg.DownloadsDB, a.cfg.DownloadsDir)
	})
	return a.downloads, a.downloadsErr
}

// RunTUI runs the full-screen client until ctx ends or the user quits. Log
// output goes to the configured log file while the screen is taken.
func (a *App) RunTUI(ctx context.Context) error {
	restore, err := redirectLog(a.cfg.LogFile)
	if err != nil {
		return err
	}
	defer restore()
	if _, err := a.RequireLogin(ctx); err != nil {
		return err
	}
	return ui.NewTUIDisplay(a, a.notifier).Run(ctx)
}

// RunWeb serves the browser client. When a session is already active the
// printed URL carries a token so the page opens logged in.
func (a *App) RunWeb(ctx context.Context, out io.Writer) error {
	if _, _, err := a.Restore(ctx); err != nil {
		log.Printf("restore session: %v", err)
	}
	wb := ui.NewWebBridge(a.cfg.WebAddr, a, a.issuer, a.notifier)
	link := fmt.Sprintf("http://%s/", wb.Addr())
	if token, err := wb.IssueLocalToken(); err == nil {
		link += "?token=" + token
	}
	fmt.Fprintf(out, "open %s\n", link)
	return wb.Run(ctx)
}

// Shutdown cancels background work and releases the databases.
func (a *App) Shutdown() {
	if a == nil {
		return
	}
	a.shutdownOnce.Do(func() {
		a.cancel()
		if a.downloads != nil {
			_ = a.downloads.Close()
		}
		if a.sessionDB != nil {
			_ = a.sessionDB.Close()
		}
	})
}

// WaitForShutdown cancels the app context on SIGINT/SIGTERM and returns the
// context surfaces should run under.
func WaitForShutdown(app *App) context.Context {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sig:
			log.Println("shutting down...")
			app.cancel()
		case <-app.ctx.Done():
		}
		signal.Stop(sig)
	}()
	return app.ctx
}

func redirectLog(path string) (func(), error) {
	if path == "" {
		log.SetOutput(io.Discard)
		return func() { log.SetOutput(os.Stderr) }, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	log.SetOutput(f)
	return func() {
		log.SetOutput(os.Stderr)
		_ = f.Close()
	}, nil
}
