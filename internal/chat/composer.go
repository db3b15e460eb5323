package chat

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"messenger-client/internal/message"
)

// MaxAttachmentBytes bounds a staged attachment.
const MaxAttachmentBytes = 25 << 20

// Attachment is a file staged for the next send.
type Attachment struct {
	Name string
	Data []byte
}

// Composer holds the input text and at most one staged attachment.
type Composer struct {
	text   string
	staged *Attachment
}

func (c *Composer) SetText(text string) { c.text = text }
func (c *Composer) Text() string        { return c.text }

// Stage replaces any staged attachment.
func (c *Composer) Stage(name string, data []byte) error {
	name = strings.TrimSpace(filepath.Base(name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return fmt.Errorf("attachment needs a file name")
	}
	if len(data) > MaxAttachmentBytes {
		return fmt.Errorf("attachment %s exceeds %d bytes", name, MaxAttachmentBytes)
	}
	c.staged = &Attachment{Name: name, Data: data}
	return nil
}

// StageFile reads path from disk and stages it.
func (c *Composer) StageFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	if info.Size() > MaxAttachmentBytes {
		return fmt.Errorf("attachment %s exceeds %d bytes", info.Name(), MaxAttachmentBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return c.Stage(path, data)
}

// Unstage drops the staged attachment and reports whether there was one.
func (c *Composer) Unstage() bool {
	had := c.staged != nil
	c.staged = nil
	return had
}

// Pending returns the name shown in the pending-attachment indicator.
func (c *Composer) Pending() (string, bool) {
	if c.staged == nil {
		return "", false
	}
	return c.staged.Name, true
}

// frame builds the outbound frame, or false when there is nothing to send.
// A staged attachment wins over text.
func (c *Composer) frame() (message.Frame, bool) {
	if c.staged != nil {
		encoded := base64.StdEncoding.EncodeToString(c.staged.Data)
		return message.AttachmentFrame(encoded, c.staged.Name), true
	}
	text := strings.TrimSpace(c.text)
	if text == "" {
		return message.Frame{}, false
	}
	return message.TextFrame(text), true
}

func (c *Composer) clear() {
	c.text = ""
	c.staged = nil
}
