package ui

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"messenger-client/internal/authutil"
	"messenger-client/internal/directory"
	"messenger-client/internal/message"
)

func newTestBridge(t *testing.T) (*fakeController, *authutil.Issuer, *httptest.Server) {
	t.Helper()
	ctrl := newFakeController(message.Identity{ID: 2, Username: "bob"})
	issuer, err := authutil.NewIssuer("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	wb := NewWebBridge("127.0.0.1:0", ctrl, issuer, nil)
	srv := httptest.NewServer(wb.Router())
	t.Cleanup(srv.Close)
	return ctrl, issuer, srv
}

func login(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	body, _ := json.Marshal(loginRequest{Email: "alice", Password: "secret"})
	resp, err := http.Post(srv.URL+"/api/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status %d", resp.StatusCode)
	}
	var out loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	if out.Token == "" || out.User.ID != 1 {
		t.Fatalf("unexpected login response %+v", out)
	}
	return out.Token
}

func authGet(t *testing.T, url, token string) *http.Response {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, url, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	return resp
}

func TestBridgeLoginThenFriends(t *testing.T) {
	_, _, srv := newTestBridge(t)
	token := login(t, srv)

	resp := authGet(t, srv.URL+"/api/friends", token)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("friends status %d", resp.StatusCode)
	}
	var snap directory.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if len(snap.Friends) != 1 || snap.Friends[0].Peer.Username != "bob" {
		t.Fatalf("unexpected friends %+v", snap.Friends)
	}
}

func TestBridgeRejectsMissingAndForeignTokens(t *testing.T) {
	_, issuer, srv := newTestBridge(t)
	resp := authGet(t, srv.URL+"/api/friends", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	login(t, srv)
	other, err := issuer.Issue(9, "mallory")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	resp = authGet(t, srv.URL+"/api/friends", other)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for another user's token, got %d", resp.StatusCode)
	}
}

func TestBridgeBadCredentials(t *testing.T) {
	_, _, srv := newTestBridge(t)
	body, _ := json.Marshal(loginRequest{Email: "alice", Password: "nope"})
	resp, err := http.Post(srv.URL+"/api/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestBridgeChatSocketSendsText(t *testing.T) {
	ctrl, _, srv := newTestBridge(t)
	token := login(t, srv)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat/5?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var evt webEvent
		if err := conn.ReadJSON(&evt); err != nil {
			t.Fatalf("read event: %v", err)
		}
		if evt.Kind == "log" {
			break
		}
	}

	if err := conn.WriteJSON(wsCommand{Type: "send", Text: "hi **there**"}); err != nil {
		t.Fatalf("write command: %v", err)
	}
	waitFor(t, "text frame", func() bool {
		ctrl.mu.Lock()
		defer ctrl.mu.Unlock()
		if len(ctrl.streams) != 1 {
			return false
		}
		for _, f := range ctrl.streams[0].frames() {
			if f.Kind == message.FrameSend && f.Text == "hi **there**" {
				return true
			}
		}
		return false
	})
}

func readUntil(t *testing.T, conn *websocket.Conn, match func(webEvent) bool) webEvent {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var evt webEvent
		if err := conn.ReadJSON(&evt); err != nil {
			t.Fatalf("read event: %v", err)
		}
		if match(evt) {
			return evt
		}
	}
}

func TestBridgePastedFileStagesAndUnstages(t *testing.T) {
	ctrl, _, srv := newTestBridge(t)
	token := login(t, srv)

	resp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	page, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !bytes.Contains(page, []byte(`getElementById("composer").onpaste`)) {
		t.Fatalf("page does not stage pasted files")
	}

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat/5?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	defer conn.Close()
	readUntil(t, conn, func(e webEvent) bool { return e.Kind == "log" })

	data := base64.StdEncoding.EncodeToString([]byte("\x89PNG"))
	if err := conn.WriteJSON(wsCommand{Type: "stage", Name: "image.png", Data: data}); err != nil {
		t.Fatalf("write stage: %v", err)
	}
	evt := readUntil(t, conn, func(e webEvent) bool { return e.Kind == "status" && e.Status != nil && e.Status.Pending != "" })
	if evt.Status.Pending != "image.png" {
		t.Fatalf("expected pending image.png, got %+v", evt.Status)
	}

	if err := conn.WriteJSON(wsCommand{Type: "unstage"}); err != nil {
		t.Fatalf("write unstage: %v", err)
	}
	readUntil(t, conn, func(e webEvent) bool { return e.Kind == "status" && e.Status != nil && e.Status.Pending == "" })

	ctrl.mu.Lock()
	frames := ctrl.streams[0].frames()
	ctrl.mu.Unlock()
	if len(frames) != 1 || frames[0].Kind != message.FrameIdentify {
		t.Fatalf("removing the staged file must send nothing, got %+v", frames)
	}
}

func TestRendererSanitises(t *testing.T) {
	r := NewRenderer()
	out := r.Render("**bold** <script>alert(1)</script> https://example.com")
	if !strings.Contains(out, "<strong>bold</strong>") {
		t.Fatalf("markdown not rendered: %q", out)
	}
	if strings.Contains(out, "<script>") {
		t.Fatalf("script tag survived sanitising: %q", out)
	}
	if !strings.Contains(out, `href="https://example.com"`) {
		t.Fatalf("bare link not linkified: %q", out)
	}
}
