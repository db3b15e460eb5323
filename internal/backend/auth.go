package backend

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"messenger-client/internal/message"
)

// Login exchanges credentials for a session cookie.
func (c *Client) Login(ctx context.Context, email, password string) error {
	form := url.Values{}
	form.Set("username", email)
	form.Set("password", password)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/auth/jwt/login", nil), strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, nil)
}

// Logout invalidates the session cookie on the backend.
func (c *Client) Logout(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/auth/jwt/logout", nil, nil, nil)
}

// Registration is the payload of a new account.
type Registration struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// Register creates an account. The backend mails a verification token.
func (c *Client) Register(ctx context.Context, reg Registration) (message.Identity, error) {
	var out message.Identity
	err := c.doJSON(ctx, http.MethodPost, "/auth/register", nil, reg, &out)
	return out, err
}

// Verify activates an account with the mailed token.
func (c *Client) Verify(ctx context.Context, token string) error {
	return c.doJSON(ctx, http.MethodPost, "/verify", nil, map[string]string{"token": token}, nil)
}

func (c *Client) ForgotPassword(ctx context.Context, email string) error {
	return c.doJSON(ctx, http.MethodPost, "/forgot-password", nil, map[string]string{"email": email}, nil)
}

func (c *Client) ResetPassword(ctx context.Context, token, newPassword string) error {
	body := map[string]string{"token": token, "new_password": newPassword}
	return c.doJSON(ctx, http.MethodPost, "/reset-password", nil, body, nil)
}

func (c *Client) ChangePassword(ctx context.Context, oldPassword, newPassword string) error {
	body := map[string]string{"old_password": oldPassword, "new_password": newPassword}
	return c.doJSON(ctx, http.MethodPost, "/change-password", nil, body, nil)
}

// CurrentUserID is the "who am I" lookup used before identifying on a stream.
func (c *Client) CurrentUserID(ctx context.Context) (int, error) {
	var id int
	if err := c.doJSON(ctx, http.MethodGet, "/current_user_get", nil, nil, &id); err != nil {
		return 0, err
	}
	return id, nil
}
