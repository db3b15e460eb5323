package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"messenger-client/internal/crypto"
	"messenger-client/internal/message"
)

const sessionBucket = "session"

var (
	identityKey = []byte("identity")
	cookiesKey  = []byte("cookies")
	serverKey   = []byte("server")
	savedAtKey  = []byte("saved_at")
)

// ErrNoSession is returned by Load when nothing has been cached yet.
var ErrNoSession = errors.New("no cached session")

// Cookie is the persisted form of an auth cookie.
type Cookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Path     string    `json:"path,omitempty"`
	Domain   string    `json:"domain,omitempty"`
	Expires  time.Time `json:"expires,omitempty"`
	Secure   bool      `json:"secure,omitempty"`
	HTTPOnly bool      `json:"http_only,omitempty"`
}

// SessionRecord is what survives a restart: who we were and the cookies
// that proved it.
type SessionRecord struct {
	Server   string
	Identity message.Identity
	Cookies  []Cookie
	SavedAt  time.Time
}

// SessionStore caches the logged-in identity and its cookies in BoltDB.
// The cookie blob goes through box, which passes data through unchanged
// when no secret is configured.
type SessionStore struct {
	db  *bbolt.DB
	box *crypto.Box
}

func OpenSessionStore(path string, box *crypto.Box) (*SessionStore, error) {
	db, err := openBolt(path, sessionBucket)
	if err != nil {
		return nil, err
	}
	return &SessionStore{db: db, box: box}, nil
}

func (s *SessionStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SessionStore) Save(rec SessionRecord) error {
	if s == nil || s.db == nil {
		return nil
	}
	ident, err := json.Marshal(rec.Identity)
	if err != nil {
		return err
	}
	rawCookies, err := json.Marshal(rec.Cookies)
	if err != nil {
		return err
	}
	sealed, err := s.box.Seal(rawCookies)
	if err != nil {
		return fmt.Errorf("seal cookies: %w", err)
	}
	if rec.SavedAt.IsZero() {
		rec.SavedAt = time.Now().UTC()
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(sessionBucket))
		if err := bucket.Put(identityKey, ident); err != nil {
			return err
		}
		if err := bucket.Put(cookiesKey, sealed); err != nil {
			return err
		}
		if err := bucket.Put(serverKey, []byte(rec.Server)); err != nil {
			return err
		}
		return bucket.Put(savedAtKey, []byte(rec.SavedAt.Format(time.RFC3339Nano)))
	})
}

func (s *SessionStore) Load() (SessionRecord, error) {
	if s == nil || s.db == nil {
		return SessionRecord{}, ErrNoSession
	}
	var rec SessionRecord
	var sealed []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(sessionBucket))
		ident := bucket.Get(identityKey)
		if ident == nil {
			return ErrNoSession
		}
		if err := json.Unmarshal(ident, &rec.Identity); err != nil {
			return fmt.Errorf("decode identity: %w", err)
		}
		sealed = append([]byte(nil), bucket.Get(cookiesKey)...)
		rec.Server = string(bucket.Get(serverKey))
		if ts := bucket.Get(savedAtKey); ts != nil {
			rec.SavedAt, _ = time.Parse(time.RFC3339Nano, string(ts))
		}
		return nil
	})
	if err != nil {
		return SessionRecord{}, err
	}
	if len(sealed) > 0 {
		raw, err := s.box.Open(sealed)
		if err != nil {
			return SessionRecord{}, fmt.Errorf("open cookies: %w", err)
		}
		if err := json.Unmarshal(raw, &rec.Cookies); err != nil {
			return SessionRecord{}, fmt.Errorf("decode cookies: %w", err)
		}
	}
	return rec, nil
}

// Clear drops the cached session. Clearing an empty store is not an error.
func (s *SessionStore) Clear() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket([]byte(sessionBucket)); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
			return err
		}
		_, err := tx.CreateBucketIfNotExists([]byte(sessionBucket))
		return err
	})
}

// CookiesFromHTTP converts jar cookies for persistence.
func CookiesFromHTTP(in []*http.Cookie) []Cookie {
	out := make([]Cookie, 0, len(in))
	for _, c := range in {
		out = append(out, Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Path:     c.Path,
			Domain:   c.Domain,
			Expires:  c.Expires,
			Secure:   c.Secure,
			HTTPOnly: c.HttpOnly,
		})
	}
	return out
}

// CookiesToHTTP drops cookies that expired while we were away.
func CookiesToHTTP(in []Cookie, now time.Time) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(in))
	for _, c := range in {
		if !c.Expires.IsZero() && c.Expires.Before(now) {
			continue
		}
		out = append(out, &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Path:     c.Path,
			Domain:   c.Domain,
			Expires:  c.Expires,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		})
	}
	return out
}

func openBolt(path, bucket string) (*bbolt.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
