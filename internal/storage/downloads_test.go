package storage

import (
	"io"
	"path/filepath"
	"strings"
	"testing"
)

func TestDownloadStoreSaveAndOpen(t *testing.T) {
	base := t.TempDir()
	store, err := OpenDownloadStore(filepath.Join(base, "downloads.db"), filepath.Join(base, "files"))
	if err != nil {
		t.Fatalf("OpenDownloadStore error: %v", err)
	}
	defer store.Close()

	src := "static/chat_pic/0b6c3d6e-1111-2222-3333-444455556666__$__report.txt"
	d, err := store.Save(src, 7, strings.NewReader("hello world"))
	if err != nil {
		t.Fatalf("save error: %v", err)
	}
	if d.Name != "report.txt" {
		t.Fatalf("expected original name, got %s", d.Name)
	}
	if d.Size != int64(len("hello world")) || d.ChatID != 7 || d.Source != src {
		t.Fatalf("unexpected record %+v", d)
	}
	if !strings.HasPrefix(d.Mime, "text/plain") {
		t.Fatalf("unexpected mime %q", d.Mime)
	}

	list, err := store.List(10)
	if err != nil || len(list) != 1 || list[0].ID != d.ID {
		t.Fatalf("list error: %v %+v", err, list)
	}

	_, file, err := store.Open(d.ID)
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	if string(data) != "hello world" {
		t.Fatalf("unexpected file contents: %s", data)
	}
	if _, _, err := store.Get("missing"); err == nil {
		t.Fatalf("expected error for unknown id")
	}
}

func TestSanitizeFileName(t *testing.T) {
	if got := sanitizeFileName("../../etc/passwd"); got != "passwd" {
		t.Fatalf("expected base filename, got %s", got)
	}
	if got := sanitizeFileName(`C:\Users\me\a.png`); got != "a.png" {
		t.Fatalf("expected windows path stripped, got %s", got)
	}
	if got := sanitizeFileName("\\"); got != "" {
		t.Fatalf("expected empty for root tokens, got %s", got)
	}
}
