package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"messenger-client/internal/message"
)

// Me returns the profile of the logged in user. The backend answers 404 when
// the user has not filled in their profile yet.
func (c *Client) Me(ctx context.Context) (message.Profile, error) {
	var out message.Profile
	err := c.doJSON(ctx, http.MethodGet, "/protected-route", nil, nil, &out)
	return out, err
}

// UserInfo returns the editable profile fields without the username.
func (c *Client) UserInfo(ctx context.Context) (message.Profile, error) {
	var out message.Profile
	err := c.doJSON(ctx, http.MethodGet, "/user_info_show", nil, nil, &out)
	return out, err
}

// UpdateUserInfo creates or updates the profile fields.
func (c *Client) UpdateUserInfo(ctx context.Context, p message.Profile) (message.Profile, error) {
	body := map[string]string{
		"first_name": p.FirstName,
		"sec_name":   p.SecName,
		"last_name":  p.LastName,
		"pic_path":   p.AvatarPath,
	}
	var out message.Profile
	err := c.doJSON(ctx, http.MethodPost, "/user_info_add", nil, body, &out)
	return out, err
}

// Upload is the backend's answer to an avatar upload.
type Upload struct {
	Filename string `json:"filename"`
	URL      string `json:"url"`
}

// UploadAvatar sends an image as multipart form field "file".
func (c *Client) UploadAvatar(ctx context.Context, name string, src io.Reader) (Upload, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(name))
	if err != nil {
		return Upload{}, err
	}
	if _, err := io.Copy(part, src); err != nil {
		return Upload{}, fmt.Errorf("buffer avatar: %w", err)
	}
	if err := mw.Close(); err != nil {
		return Upload{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/upload", nil), &buf)
	if err != nil {
		return Upload{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	var out Upload
	err = c.do(req, &out)
	return out, err
}

// UploadAvatarFile opens path and uploads it.
func (c *Client) UploadAvatarFile(ctx context.Context, path string) (Upload, error) {
	f, err := os.Open(path)
	if err != nil {
		return Upload{}, err
	}
	defer f.Close()
	return c.UploadAvatar(ctx, path, f)
}

// Download streams a server-relative static file into dst.
func (c *Client) Download(ctx context.Context, path string, dst io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.StaticURL(path), nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("download %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(resp.Body)
		return 0, &APIError{Status: resp.StatusCode, Detail: decodeDetail(data)}
	}
	return io.Copy(dst, resp.Body)
}
