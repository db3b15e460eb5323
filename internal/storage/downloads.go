package storage

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"messenger-client/internal/message"
)

const downloadsBucket = "downloads"

// Download describes an attachment fetched from a conversation.
type Download struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Source    string    `json:"source"`
	ChatID    int       `json:"chat_id,omitempty"`
	Size      int64     `json:"size"`
	Mime      string    `json:"mime,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type downloadEntry struct {
	Download
	Path string `json:"path"`
}

// DownloadStore keeps downloaded attachments on disk with their metadata in
// BoltDB.
type DownloadStore struct {
	db  *bbolt.DB
	dir string
}

func OpenDownloadStore(dbPath, dir string) (*DownloadStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := openBolt(dbPath, downloadsBucket)
	if err != nil {
		return nil, err
	}
	return &DownloadStore{db: db, dir: dir}, nil
}

func (s *DownloadStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *DownloadStore) Dir() string { return s.dir }

// Save copies src to disk. source is the backend path the bytes came from;
// the display name is recovered from it.
func (s *DownloadStore) Save(source string, chatID int, src io.Reader) (Download, error) {
	if s == nil || s.db == nil {
		return Download{}, fmt.Errorf("download store not initialized")
	}
	name := sanitizeFileName(message.AttachmentName(source))
	if name == "" {
		name = "attachment.bin"
	}
	id := uuid.NewString()
	path := filepath.Join(s.dir, id+"_"+name)
	dst, err := os.Create(path)
	if err != nil {
		return Download{}, err
	}
	size, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return Download{}, err
	}
	entry := downloadEntry{
		Download: Download{
			ID:        id,
			Name:      name,
			Source:    source,
			ChatID:    chatID,
			Size:      size,
			Mime:      detectMime(path),
			CreatedAt: time.Now().UTC(),
		},
		Path: path,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return Download{}, err
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(downloadsBucket)).Put([]byte(entry.ID), data)
	})
	if err != nil {
		return Download{}, err
	}
	return entry.Download, nil
}

// List returns the newest downloads first.
func (s *DownloadStore) List(limit int) ([]Download, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	var out []Download
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(downloadsBucket)).ForEach(func(_, v []byte) error {
			var entry downloadEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return nil
			}
			out = append(out, entry.Download)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *DownloadStore) Get(id string) (Download, string, error) {
	if s == nil || s.db == nil {
		return Download{}, "", fmt.Errorf("download store not initialized")
	}
	var entry downloadEntry
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(downloadsBucket)).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("download %s not found", id)
		}
		return json.Unmarshal(data, &entry)
	})
	if err != nil {
		return Download{}, "", err
	}
	return entry.Download, entry.Path, nil
}

func (s *DownloadStore) Open(id string) (Download, *os.File, error) {
	d, path, err := s.Get(id)
	if err != nil {
		return Download{}, nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return Download{}, nil, err
	}
	return d, f, nil
}

func sanitizeFileName(name string) string {
	cleaned := strings.TrimSpace(filepath.Base(strings.ReplaceAll(name, "\\", "/")))
	switch cleaned {
	case "", ".", "..", "/":
		return ""
	}
	if cleaned == string(filepath.Separator) {
		return ""
	}
	return cleaned
}

func detectMime(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	buf := make([]byte, 512)
	n, _ := f.Read(buf)
	return http.DetectContentType(buf[:n])
}
