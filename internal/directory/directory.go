package directory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"messenger-client/internal/backend"
	"messenger-client/internal/message"
)

// API is the slice of the backend the directory needs.
type API interface {
	Friends(ctx context.Context) ([]message.Identity, error)
	FriendRequests(ctx context.Context) (backend.FriendRequests, error)
	SearchUsers(ctx context.Context, query string) ([]message.Identity, error)
	AddFriend(ctx context.Context, receiverID int) error
	RespondFriendRequest(ctx context.Context, requestID int, accept bool) error
	CreateChat(ctx context.Context, peerID int) (int, error)
	MyChats(ctx context.Context) ([]message.ConversationSummary, error)
}

// Status is the load state shown next to the friend list.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusLoading   Status = "loading"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Requests holds pending friend requests split by direction.
type Requests struct {
	Outgoing []message.FriendEdge `json:"outgoing"`
	Incoming []message.FriendEdge `json:"incoming"`
}

// Snapshot is a copy of the friend graph as last fetched.
type Snapshot struct {
	Friends   []message.FriendEdge `json:"friends"`
	Requests  Requests             `json:"requests"`
	Status    Status               `json:"status"`
	Err       string               `json:"error,omitempty"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// Client caches the friend graph. Every mutation is followed by a wholesale
// refresh of friends and requests; nothing is patched locally.
type Client struct {
	api API

	mu       sync.RWMutex
	snap     Snapshot
	onChange func(Snapshot)
}

func New(api API) *Client {
	return &Client{api: api, snap: Snapshot{Status: StatusIdle}}
}

// OnChange registers a callback run after every snapshot update.
func (c *Client) OnChange(fn func(Snapshot)) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// FetchFriends loads the accepted friends.
func (c *Client) FetchFriends(ctx context.Context) ([]message.FriendEdge, error) {
	c.setStatus(StatusLoading, nil)
	ids, err := c.api.Friends(ctx)
	if err != nil {
		c.setStatus(StatusFailed, err)
		return nil, fmt.Errorf("fetch friends: %w", err)
	}
	edges := make([]message.FriendEdge, 0, len(ids))
	for _, id := range ids {
		edges = append(edges, message.FriendEdge{Peer: id})
	}
	sortEdges(edges)
	c.update(func(s *Snapshot) {
		s.Friends = edges
		s.markLoaded()
	})
	return copyEdges(edges), nil
}

// FetchRequests loads pending requests in both directions.
func (c *Client) FetchRequests(ctx context.Context) (Requests, error) {
	c.setStatus(StatusLoading, nil)
	raw, err := c.api.FriendRequests(ctx)
	if err != nil {
		c.setStatus(StatusFailed, err)
		return Requests{}, fmt.Errorf("fetch requests: %w", err)
	}
	reqs := Requests{Outgoing: raw.Outgoing, Incoming: raw.Incoming}
	sortEdges(reqs.Outgoing)
	sortEdges(reqs.Incoming)
	c.update(func(s *Snapshot) {
		s.Requests = reqs
		s.markLoaded()
	})
	return Requests{Outgoing: copyEdges(reqs.Outgoing), Incoming: copyEdges(reqs.Incoming)}, nil
}

// Refresh replaces friends and requests with fresh copies from the backend.
func (c *Client) Refresh(ctx context.Context) error {
	if _, err := c.FetchFriends(ctx); err != nil {
		return err
	}
	_, err := c.FetchRequests(ctx)
	return err
}

// Search finds users by username substring. A blank query matches nobody.
func (c *Client) Search(ctx context.Context, query string) ([]message.Identity, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []message.Identity{}, nil
	}
	users, err := c.api.SearchUsers(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}
	return users, nil
}

// SendRequest asks targetID to become a friend.
func (c *Client) SendRequest(ctx context.Context, targetID int) error {
	if err := c.api.AddFriend(ctx, targetID); err != nil {
		return fmt.Errorf("send friend request: %w", err)
	}
	return c.refreshAfter(ctx, "send friend request")
}

// Respond accepts or declines a pending request. Declining an outgoing
// request withdraws it.
func (c *Client) Respond(ctx context.Context, requestID int, accept bool) error {
	if err := c.api.RespondFriendRequest(ctx, requestID, accept); err != nil {
		return fmt.Errorf("respond to request %d: %w", requestID, err)
	}
	return c.refreshAfter(ctx, "respond to request")
}

// CreateOrGetConversation returns the conversation id shared with peerID.
func (c *Client) CreateOrGetConversation(ctx context.Context, peerID int) (int, error) {
	id, err := c.api.CreateChat(ctx, peerID)
	if err != nil {
		return 0, fmt.Errorf("open conversation with %d: %w", peerID, err)
	}
	return id, nil
}

// Conversations lists the current user's conversations.
func (c *Client) Conversations(ctx context.Context) ([]message.ConversationSummary, error) {
	chats, err := c.api.MyChats(ctx)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	sort.SliceStable(chats, func(i, j int) bool { return chats[i].ChatID < chats[j].ChatID })
	return chats, nil
}

// Resolve finds a friend or request peer by numeric id or username.
func (c *Client) Resolve(token string) (message.Identity, bool) {
	token = strings.TrimSpace(token)
	if token == "" {
		return message.Identity{}, false
	}
	id, idErr := strconv.Atoi(token)
	c.mu.RLock()
	defer c.mu.RUnlock()
	groups := [][]message.FriendEdge{c.snap.Friends, c.snap.Requests.Incoming, c.snap.Requests.Outgoing}
	for _, edges := range groups {
		for _, e := range edges {
			if idErr == nil && e.Peer.ID == id {
				return e.Peer, true
			}
			if strings.EqualFold(e.Peer.Username, token) {
				return e.Peer, true
			}
		}
	}
	return message.Identity{}, false
}

// Snapshot returns a copy of the cached friend graph.
func (c *Client) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.copySnapshot()
}

// Reset forgets the cached graph, e.g. after logout.
func (c *Client) Reset() {
	c.update(func(s *Snapshot) { *s = Snapshot{Status: StatusIdle} })
}

func (c *Client) refreshAfter(ctx context.Context, action string) error {
	if err := c.Refresh(ctx); err != nil {
		return fmt.Errorf("%s succeeded but refresh failed: %w", action, err)
	}
	return nil
}

func (c *Client) setStatus(status Status, err error) {
	c.update(func(s *Snapshot) {
		s.Status = status
		s.Err = ""
		if err != nil {
			s.Err = err.Error()
		}
	})
}

func (c *Client) update(mutate func(*Snapshot)) {
	c.mu.Lock()
	mutate(&c.snap)
	snap := c.copySnapshot()
	fn := c.onChange
	c.mu.Unlock()
	if fn != nil {
		fn(snap)
	}
}

func (s *Snapshot) markLoaded() {
	s.Status = StatusSucceeded
	s.Err = ""
	s.UpdatedAt = time.Now()
}

func (c *Client) copySnapshot() Snapshot {
	out := c.snap
	out.Friends = copyEdges(c.snap.Friends)
	out.Requests = Requests{
		Outgoing: copyEdges(c.snap.Requests.Outgoing),
		Incoming: copyEdges(c.snap.Requests.Incoming),
	}
	return out
}

func copyEdges(in []message.FriendEdge) []message.FriendEdge {
	if in == nil {
		return nil
	}
	out := make([]message.FriendEdge, len(in))
	copy(out, in)
	return out
}

func sortEdges(edges []message.FriendEdge) {
	sort.SliceStable(edges, func(i, j int) bool {
		return strings.ToLower(edges[i].Peer.Username) < strings.ToLower(edges[j].Peer.Username)
	})
}
