package ui

import (
	"context"
	"embed"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog"
	"github.com/gorilla/websocket"

	"messenger-client/internal/authutil"
	"messenger-client/internal/chat"
	"messenger-client/internal/message"
	"messenger-client/internal/notify"
)

//go:embed webui/static
var webFS embed.FS

const maxStageBytes = chat.MaxAttachmentBytes*4/3 + 1024

// WebBridge serves a browser front end for the logged-in session: a JSON API
// over the directory and a websocket per open conversation.
type WebBridge struct {
	addr     string
	srv      *http.Server
	ctrl     Controller
	issuer   *authutil.Issuer
	notifier *notify.Notifier
	md       *Renderer
	upgrader websocket.Upgrader

	clientsMu sync.Mutex
	clients   map[*wsClient]struct{}
}

func NewWebBridge(addr string, ctrl Controller, issuer *authutil.Issuer, notifier *notify.Notifier) *WebBridge {
	wb := &WebBridge{
		addr:     addr,
		ctrl:     ctrl,
		issuer:   issuer,
		notifier: notifier,
		md:       NewRenderer(),
		clients:  make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	wb.srv = &http.Server{Addr: addr, Handler: wb.Router()}
	return wb
}

// Router wires up chi routes and middleware.
func (wb *WebBridge) Router() http.Handler {
	logger := httplog.NewLogger("messenger-web", httplog.Options{JSON: false})
	r := chi.NewRouter()
	r.Use(httplog.RequestLogger(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"http://" + wb.addr, "http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/", wb.handleIndex)
	r.Post("/api/login", wb.handleLogin)
	r.Group(func(r chi.Router) {
		r.Use(wb.authenticated)
		r.Post("/api/logout", wb.handleLogout)
		r.Get("/api/me", wb.handleMe)
		r.Get("/api/friends", wb.handleFriends)
		r.Get("/api/requests", wb.handleRequests)
		r.Get("/api/search", wb.handleSearch)
		r.Post("/api/friends/request", wb.handleSendRequest)
		r.Post("/api/friends/respond", wb.handleRespond)
		r.Get("/api/chats", wb.handleChats)
		r.Post("/api/chats/open", wb.handleOpenChat)
		r.Get("/ws/chat/{id}", wb.handleChatWS)
	})
	return r
}

func (wb *WebBridge) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		wb.Close()
	}()
	log.Printf("web ui listening on http://%s", wb.addr)
	if err := wb.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (wb *WebBridge) Close() {
	_ = wb.srv.Shutdown(context.Background())
	wb.clientsMu.Lock()
	clients := make([]*wsClient, 0, len(wb.clients))
	for c := range wb.clients {
		clients = append(clients, c)
	}
	wb.clientsMu.Unlock()
	for _, c := range clients {
		c.close()
	}
}

// Addr exposes the bound address so other layers can build public URLs.
func (wb *WebBridge) Addr() string {
	return wb.addr
}

func (wb *WebBridge) handleIndex(w http.ResponseWriter, r *http.Request) {
	data, err := webFS.ReadFile("webui/static/index.html")
	if err != nil {
		http.Error(w, "missing assets", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(data)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string           `json:"token"`
	User  message.Identity `json:"user"`
}

func (wb *WebBridge) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	id, err := wb.ctrl.Login(r.Context(), strings.TrimSpace(req.Email), req.Password)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	wb.issueToken(w, id)
}

func (wb *WebBridge) handleMe(w http.ResponseWriter, r *http.Request) {
	id, _ := wb.ctrl.Current()
	wb.writeJSON(w, http.StatusOK, id)
}

func (wb *WebBridge) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := wb.ctrl.Logout(r.Context()); err != nil {
		log.Printf("bridge logout: %v", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (wb *WebBridge) handleFriends(w http.ResponseWriter, r *http.Request) {
	dir := wb.ctrl.Directory()
	if _, err := dir.FetchFriends(r.Context()); err != nil {
		wb.writeError(w, err)
		return
	}
	wb.writeJSON(w, http.StatusOK, dir.Snapshot())
}

func (wb *WebBridge) handleRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := wb.ctrl.Directory().FetchRequests(r.Context())
	if err != nil {
		wb.writeError(w, err)
		return
	}
	wb.writeJSON(w, http.StatusOK, reqs)
}

func (wb *WebBridge) handleSearch(w http.ResponseWriter, r *http.Request) {
	users, err := wb.ctrl.Directory().Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		wb.writeError(w, err)
		return
	}
	wb.writeJSON(w, http.StatusOK, users)
}

func (wb *WebBridge) handleSendRequest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID int `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID <= 0 {
		http.Error(w, "user_id required", http.StatusBadRequest)
		return
	}
	dir := wb.ctrl.Directory()
	if err := dir.SendRequest(r.Context(), req.UserID); err != nil {
		wb.writeError(w, err)
		return
	}
	wb.writeJSON(w, http.StatusOK, dir.Snapshot())
}

func (wb *WebBridge) handleRespond(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RequestID int  `json:"request_id"`
		Accept    bool `json:"accept"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RequestID <= 0 {
		http.Error(w, "request_id required", http.StatusBadRequest)
		return
	}
	dir := wb.ctrl.Directory()
	if err := dir.Respond(r.Context(), req.RequestID, req.Accept); err != nil {
		wb.writeError(w, err)
		return
	}
	wb.writeJSON(w, http.StatusOK, dir.Snapshot())
}

func (wb *WebBridge) handleChats(w http.ResponseWriter, r *http.Request) {
	chats, err := wb.ctrl.Directory().Conversations(r.Context())
	if err != nil {
		wb.writeError(w, err)
		return
	}
	wb.writeJSON(w, http.StatusOK, chats)
}

func (wb *WebBridge) handleOpenChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PeerID int `json:"peer_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PeerID <= 0 {
		http.Error(w, "peer_id required", http.StatusBadRequest)
		return
	}
	id, err := wb.ctrl.Directory().CreateOrGetConversation(r.Context(), req.PeerID)
	if err != nil {
		wb.writeError(w, err)
		return
	}
	wb.writeJSON(w, http.StatusOK, map[string]int{"chat_id": id})
}

func (wb *WebBridge) handleChatWS(w http.ResponseWriter, r *http.Request) {
	chatID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || chatID <= 0 {
		http.Error(w, "invalid chat id", http.StatusBadRequest)
		return
	}
	conn, err := wb.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade: %v", err)
		return
	}
	client := &wsClient{conn: conn, md: wb.md}
	presenter := NewPresenter(client, wb.ctrl.UserName).WithNotifier(wb.notifier, fmt.Sprintf("Chat %d", chatID))
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	session, err := wb.ctrl.OpenChat(ctx, chatID, presenter)
	cancel()
	if session == nil {
		client.send(webEvent{Kind: "error", Text: fmt.Sprintf("open chat %d: %v", chatID, err)})
		_ = conn.Close()
		return
	}
	if err != nil {
		client.send(webEvent{Kind: "error", Text: err.Error()})
	}
	client.session = session
	wb.register(client)
	presenter.Attach(session)
	go wb.readLoop(client, presenter)
}

func (wb *WebBridge) readLoop(c *wsClient, p *Presenter) {
	defer wb.unregister(c)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd wsCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			c.send(webEvent{Kind: "error", Text: "invalid command"})
			continue
		}
		if err := wb.apply(c.session, cmd); err != nil {
			c.send(webEvent{Kind: "error", Text: err.Error()})
		}
		st := p.Status()
		c.UpdateStatus(st)
	}
}

type wsCommand struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	Name string `json:"name,omitempty"`
	Data string `json:"data,omitempty"`
}

func (wb *WebBridge) apply(s *chat.Session, cmd wsCommand) error {
	switch cmd.Type {
	case "send":
		s.SetInput(cmd.Text)
		return s.Submit()
	case "stage":
		if len(cmd.Data) > maxStageBytes {
			return fmt.Errorf("attachment exceeds %d bytes", chat.MaxAttachmentBytes)
		}
		data, err := base64.StdEncoding.DecodeString(cmd.Data)
		if err != nil {
			return fmt.Errorf("decode attachment: %w", err)
		}
		return s.Stage(cmd.Name, data)
	case "unstage":
		s.Unstage()
		return nil
	case "more":
		_, err := s.SentinelVisible()
		return err
	}
	return fmt.Errorf("unknown command %q", cmd.Type)
}

func (wb *WebBridge) register(c *wsClient) {
	wb.clientsMu.Lock()
	wb.clients[c] = struct{}{}
	wb.clientsMu.Unlock()
}

func (wb *WebBridge) unregister(c *wsClient) {
	wb.clientsMu.Lock()
	delete(wb.clients, c)
	wb.clientsMu.Unlock()
	c.close()
}

type authKey struct{}

func (wb *WebBridge) authenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := wb.requireAuth(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), authKey{}, claims)))
	})
}

// requireAuth accepts a bearer header or, for websockets, ?token=. The token
// must belong to whoever is logged in right now.
func (wb *WebBridge) requireAuth(r *http.Request) (*authutil.Claims, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		parts := strings.Fields(r.Header.Get("Authorization"))
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			return nil, fmt.Errorf("missing authorization")
		}
		token = parts[1]
	}
	claims, err := wb.issuer.Validate(token)
	if err != nil {
		return nil, err
	}
	cur, ok := wb.ctrl.Current()
	if !ok || cur.ID != claims.UserID {
		return nil, fmt.Errorf("session changed, log in again")
	}
	return claims, nil
}

func (wb *WebBridge) issueToken(w http.ResponseWriter, id message.Identity) {
	token, err := wb.issuer.Issue(id.ID, id.Username)
	if err != nil {
		http.Error(w, "token issue failed", http.StatusInternalServerError)
		return
	}
	wb.writeJSON(w, http.StatusOK, loginResponse{Token: token, User: id})
}

// IssueLocalToken lets the process that started the bridge open the page
// already logged in.
func (wb *WebBridge) IssueLocalToken() (string, error) {
	id, ok := wb.ctrl.Current()
	if !ok {
		return "", fmt.Errorf("not logged in")
	}
	return wb.issuer.Issue(id.ID, id.Username)
}

func (wb *WebBridge) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("json write: %v", err)
	}
}

func (wb *WebBridge) writeError(w http.ResponseWriter, err error) {
	wb.writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
}

type webEvent struct {
	Kind         string        `json:"kind"`
	Entry        *Entry        `json:"entry,omitempty"`
	Days         []DayView     `json:"days,omitempty"`
	Text         string        `json:"text,omitempty"`
	Status       *Status       `json:"status,omitempty"`
	Notification *Notification `json:"notification,omitempty"`
}

// wsClient is the Sink of one browser tab viewing one conversation.
type wsClient struct {
	conn    *websocket.Conn
	md      *Renderer
	session *chat.Session

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (c *wsClient) ShowMessage(e Entry) {
	e = c.render(e)
	c.send(webEvent{Kind: "message", Entry: &e})
}

func (c *wsClient) ShowLog(days []DayView) {
	out := make([]DayView, len(days))
	for i, d := range days {
		out[i] = DayView{Label: d.Label, Day: d.Day, Entries: make([]Entry, len(d.Entries))}
		for j, e := range d.Entries {
			out[i].Entries[j] = c.render(e)
		}
	}
	c.send(webEvent{Kind: "log", Days: out})
}

func (c *wsClient) ShowSystem(text string) {
	c.send(webEvent{Kind: "system", Text: text})
}

func (c *wsClient) UpdateStatus(st Status) {
	c.send(webEvent{Kind: "status", Status: &st})
}

func (c *wsClient) ShowNotification(n Notification) {
	c.send(webEvent{Kind: "notification", Notification: &n})
}

func (c *wsClient) render(e Entry) Entry {
	if e.Attachment == "" && e.Text != "" && !e.Freeform {
		e.HTML = c.md.Render(e.Text)
	}
	return e
}

func (c *wsClient) send(evt webEvent) {
	data, err := json.Marshal(evt)
	if err != nil {
		log.Printf("web event encode: %v", err)
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Printf("web send: %v", err)
	}
}

func (c *wsClient) close() {
	c.closeOnce.Do(func() {
		if c.session != nil {
			_ = c.session.Close()
		}
		_ = c.conn.Close()
	})
}
