package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"messenger-client/internal/backend"
	"messenger-client/internal/message"
	"messenger-client/internal/storage"
)

// ErrNotLoggedIn is returned by operations that need an authenticated user.
var ErrNotLoggedIn = errors.New("not logged in")

// API is the part of the backend the session store talks to.
type API interface {
	BaseURL() string
	Cookies() []*http.Cookie
	SetCookies([]*http.Cookie)
	ClearCookies()
	Login(ctx context.Context, email, password string) error
	Logout(ctx context.Context) error
	CurrentUserID(ctx context.Context) (int, error)
	Me(ctx context.Context) (message.Profile, error)
	UpdateUserInfo(ctx context.Context, p message.Profile) (message.Profile, error)
	UploadAvatar(ctx context.Context, name string, src io.Reader) (backend.Upload, error)
	ChangePassword(ctx context.Context, oldPassword, newPassword string) error
}

// Cache persists the session between runs. *storage.SessionStore satisfies it.
type Cache interface {
	Save(storage.SessionRecord) error
	Load() (storage.SessionRecord, error)
	Clear() error
}

// Store is the process-wide record of who is logged in. It is created once
// by the app and passed to whoever needs it.
type Store struct {
	api   API
	cache Cache
	now   func() time.Time

	mu       sync.RWMutex
	current  *message.Identity
	onChange func(message.Identity, bool)
}

func New(api API, cache Cache) *Store {
	return &Store{api: api, cache: cache, now: time.Now}
}

// OnChange registers a callback run after login, logout and profile edits.
func (s *Store) OnChange(fn func(message.Identity, bool)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

func (s *Store) Current() (message.Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return message.Identity{}, false
	}
	return *s.current, true
}

// Set replaces the in-memory identity and persists it with the current
// cookies.
func (s *Store) Set(id message.Identity) error {
	s.setCurrent(&id)
	return s.persist(id)
}

// Clear forgets the identity in memory and on disk.
func (s *Store) Clear() error {
	s.setCurrent(nil)
	if s.cache == nil {
		return nil
	}
	return s.cache.Clear()
}

// Restore reloads cached cookies and checks with the backend that they still
// work. Any failure clears the cache.
func (s *Store) Restore(ctx context.Context) (message.Identity, bool, error) {
	if s.cache == nil {
		return message.Identity{}, false, nil
	}
	rec, err := s.cache.Load()
	if errors.Is(err, storage.ErrNoSession) {
		return message.Identity{}, false, nil
	}
	if err != nil {
		s.discard()
		return message.Identity{}, false, fmt.Errorf("load cached session: %w", err)
	}
	if rec.Server != "" && rec.Server != s.api.BaseURL() {
		log.Printf("cached session belongs to %s, ignoring", rec.Server)
		s.discard()
		return message.Identity{}, false, nil
	}
	s.api.SetCookies(storage.CookiesToHTTP(rec.Cookies, s.now()))
	id, err := s.resolveIdentity(ctx, rec.Identity.Username)
	if err != nil {
		s.discard()
		if backend.IsStatus(err, http.StatusUnauthorized) {
			return message.Identity{}, false, nil
		}
		return message.Identity{}, false, fmt.Errorf("verify cached session: %w", err)
	}
	if err := s.Set(id); err != nil {
		log.Printf("refresh session cache failed: %v", err)
	}
	return id, true, nil
}

// Login authenticates with email and password and caches the result.
func (s *Store) Login(ctx context.Context, email, password string) (message.Identity, error) {
	if err := s.api.Login(ctx, email, password); err != nil {
		return message.Identity{}, fmt.Errorf("login: %w", err)
	}
	id, err := s.resolveIdentity(ctx, email)
	if err != nil {
		s.api.ClearCookies()
		return message.Identity{}, fmt.Errorf("load profile: %w", err)
	}
	if err := s.Set(id); err != nil {
		return id, fmt.Errorf("cache session: %w", err)
	}
	return id, nil
}

// Logout always clears local state, even when the backend call fails.
func (s *Store) Logout(ctx context.Context) error {
	err := s.api.Logout(ctx)
	s.discard()
	if err != nil && !backend.IsStatus(err, http.StatusUnauthorized) {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// UpdateProfile saves the name fields and keeps the cached identity in step.
func (s *Store) UpdateProfile(ctx context.Context, p message.Profile) (message.Identity, error) {
	cur, ok := s.Current()
	if !ok {
		return message.Identity{}, ErrNotLoggedIn
	}
	if p.AvatarPath == "" {
		p.AvatarPath = cur.AvatarPath
	}
	saved, err := s.api.UpdateUserInfo(ctx, p)
	if err != nil {
		return message.Identity{}, fmt.Errorf("update profile: %w", err)
	}
	cur.FirstName = saved.FirstName
	cur.SecName = saved.SecName
	cur.LastName = saved.LastName
	cur.AvatarPath = saved.AvatarPath
	return cur, s.Set(cur)
}

// UploadAvatar uploads an image and points the profile at it.
func (s *Store) UploadAvatar(ctx context.Context, name string, src io.Reader) (message.Identity, error) {
	cur, ok := s.Current()
	if !ok {
		return message.Identity{}, ErrNotLoggedIn
	}
	up, err := s.api.UploadAvatar(ctx, name, src)
	if err != nil {
		return message.Identity{}, fmt.Errorf("upload avatar: %w", err)
	}
	path := up.URL
	if path == "" {
		path = up.Filename
	}
	return s.UpdateProfile(ctx, message.Profile{
		FirstName:  cur.FirstName,
		SecName:    cur.SecName,
		LastName:   cur.LastName,
		AvatarPath: path,
	})
}

func (s *Store) ChangePassword(ctx context.Context, oldPassword, newPassword string) error {
	if _, ok := s.Current(); !ok {
		return ErrNotLoggedIn
	}
	if err := s.api.ChangePassword(ctx, oldPassword, newPassword); err != nil {
		return fmt.Errorf("change password: %w", err)
	}
	return nil
}

// resolveIdentity asks the backend who the cookies belong to. Users without
// profile info get a bare identity named after fallback.
func (s *Store) resolveIdentity(ctx context.Context, fallback string) (message.Identity, error) {
	userID, err := s.api.CurrentUserID(ctx)
	if err != nil {
		return message.Identity{}, err
	}
	id := message.Identity{ID: userID, Username: fallback}
	prof, err := s.api.Me(ctx)
	switch {
	case err == nil:
		id.Username = prof.Username
		id.FirstName = prof.FirstName
		id.SecName = prof.SecName
		id.LastName = prof.LastName
		id.AvatarPath = prof.AvatarPath
	case backend.IsStatus(err, http.StatusNotFound):
	default:
		return message.Identity{}, err
	}
	return id, nil
}

func (s *Store) persist(id message.Identity) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Save(storage.SessionRecord{
		Server:   s.api.BaseURL(),
		Identity: id,
		Cookies:  storage.CookiesFromHTTP(s.api.Cookies()),
		SavedAt:  s.now().UTC(),
	})
}

func (s *Store) discard() {
	s.api.ClearCookies()
	if err := s.Clear(); err != nil {
		log.Printf("clear session cache failed: %v", err)
	}
}

func (s *Store) setCurrent(id *message.Identity) {
	s.mu.Lock()
	s.current = id
	fn := s.onChange
	s.mu.Unlock()
	if fn == nil {
		return
	}
	if id == nil {
		fn(message.Identity{}, false)
		return
	}
	fn(*id, true)
}
