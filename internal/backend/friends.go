package backend

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"messenger-client/internal/message"
)

type userRow struct {
	ID        int    `json:"id"`
	ReqID     int    `json:"req_id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	SecName   string `json:"sec_name"`
	LastName  string `json:"last_name"`
	PicPath   string `json:"pic_path"`
}

func (r userRow) identity() message.Identity {
	return message.Identity{
		ID:         r.ID,
		Username:   r.Username,
		FirstName:  r.FirstName,
		SecName:    r.SecName,
		LastName:   r.LastName,
		AvatarPath: r.PicPath,
	}
}

// Friends lists accepted friends.
func (c *Client) Friends(ctx context.Context) ([]message.Identity, error) {
	var rows []userRow
	if err := c.doJSON(ctx, http.MethodGet, "/show_my_friends", nil, nil, &rows); err != nil {
		return nil, err
	}
	out := make([]message.Identity, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.identity())
	}
	return out, nil
}

// FriendRequests holds pending requests split by direction.
type FriendRequests struct {
	Outgoing []message.FriendEdge
	Incoming []message.FriendEdge
}

// FriendRequests lists pending requests sent by and to the current user.
func (c *Client) FriendRequests(ctx context.Context) (FriendRequests, error) {
	var payload struct {
		Mine   []userRow `json:"my_request"`
		Theirs []userRow `json:"request_to_me"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/my_friend_requests", nil, nil, &payload); err != nil {
		return FriendRequests{}, err
	}
	return FriendRequests{
		Outgoing: pendingEdges(payload.Mine, message.DirectionMine),
		Incoming: pendingEdges(payload.Theirs, message.DirectionTheirs),
	}, nil
}

func pendingEdges(rows []userRow, dir message.Direction) []message.FriendEdge {
	out := make([]message.FriendEdge, 0, len(rows))
	for _, r := range rows {
		out = append(out, message.FriendEdge{
			Peer:    r.identity(),
			Pending: &message.PendingRequest{RequestID: r.ReqID, Direction: dir},
		})
	}
	return out
}

// SearchUsers matches usernames by substring. No match is an empty list.
func (c *Client) SearchUsers(ctx context.Context, query string) ([]message.Identity, error) {
	var rows []userRow
	err := c.doJSON(ctx, http.MethodGet, "/search_users", url.Values{"username": {query}}, nil, &rows)
	if IsStatus(err, http.StatusNotFound) {
		return []message.Identity{}, nil
	}
	if err != nil {
		return nil, err
	}
	out := make([]message.Identity, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.identity())
	}
	return out, nil
}

// AddFriend sends a friend request to receiverID.
func (c *Client) AddFriend(ctx context.Context, receiverID int) error {
	body := map[string]int{"sender_id": 0, "receiver_id": receiverID}
	return c.doJSON(ctx, http.MethodPost, "/add_friend", nil, body, nil)
}

// RespondFriendRequest accepts or declines a request. Declining one's own
// outgoing request withdraws it.
func (c *Client) RespondFriendRequest(ctx context.Context, requestID int, accept bool) error {
	body := map[string]interface{}{"req_id": requestID, "isAsepted": accept}
	return c.doJSON(ctx, http.MethodPost, "/accept_friend_request", nil, body, nil)
}

// CreateChat returns the conversation with peerID, creating it if needed.
func (c *Client) CreateChat(ctx context.Context, peerID int) (int, error) {
	var out struct {
		ChatID int    `json:"chat_id"`
		Status string `json:"status"`
	}
	q := url.Values{"second_user_id": {strconv.Itoa(peerID)}}
	if err := c.doJSON(ctx, http.MethodPost, "/create_chat", q, nil, &out); err != nil {
		return 0, err
	}
	return out.ChatID, nil
}

// MyChats lists the conversations of the current user.
func (c *Client) MyChats(ctx context.Context) ([]message.ConversationSummary, error) {
	var out struct {
		Chats  []message.ConversationSummary `json:"chats"`
		Status string                        `json:"status"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/my_chats", nil, nil, &out); err != nil {
		return nil, err
	}
	if out.Chats == nil {
		return []message.ConversationSummary{}, nil
	}
	return out.Chats, nil
}
