package network

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// Dialer opens conversation streams. Header is consulted on every dial so
// freshly issued session cookies are picked up.
type Dialer struct {
	Header           func() http.Header
	HandshakeTimeout time.Duration
}

// Dial connects to a websocket url and starts its read loop.
func (d *Dialer) Dial(ctx context.Context, url string) (*Conn, error) {
	ws := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}
	if ws.HandshakeTimeout <= 0 {
		ws.HandshakeTimeout = 10 * time.Second
	}
	var header http.Header
	if d.Header != nil {
		header = d.Header()
	}
	raw, resp, err := ws.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return NewConn(raw), nil
}

// Conn is one open stream. A single goroutine reads frames into Incoming;
// writes are serialised by a mutex.
type Conn struct {
	ws       *websocket.Conn
	writeMu  sync.Mutex
	incoming chan []byte
	done     chan struct{}

	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
	closing   bool
}

// NewConn wraps an established websocket and starts reading from it.
func NewConn(ws *websocket.Conn) *Conn {
	c := &Conn{
		ws:       ws,
		incoming: make(chan []byte, 128),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Incoming delivers raw text frames. It is closed once the stream ends.
func (c *Conn) Incoming() <-chan []byte {
	return c.incoming
}

// Err reports why the stream ended. It is nil while open and after a close
// initiated by either side.
func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Conn) readLoop() {
	defer func() {
		close(c.done)
		close(c.incoming)
	}()
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			c.errMu.Lock()
			if !c.closing && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.err = err
				log.Printf("stream read error from %s: %v", c.ws.RemoteAddr(), err)
			}
			c.errMu.Unlock()
			return
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		c.incoming <- data
	}
}

// Send writes v as one JSON text frame.
func (c *Conn) Send(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ErrClosed is returned by Send after the stream has ended.
var ErrClosed = errors.New("stream closed")

// Close sends a close frame and tears the connection down. It is safe to
// call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.errMu.Lock()
		c.closing = true
		c.errMu.Unlock()
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}
