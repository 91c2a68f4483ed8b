package domain

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// MaxAttachmentSize is the client-side upload gate. Files above it never
// produce a PendingAttachment and never reach the upload endpoint.
const MaxAttachmentSize = 10 << 20

var imageExts = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// PendingAttachment is a user-selected file staged before send. It is cleared
// on send or explicit cancel.
type PendingAttachment struct {
	Path string
	Name string
	Size int64
	// Preview is a data URI rendered for image attachments, empty otherwise.
	Preview string
}

// IsImageName reports whether the file name carries an image extension the
// widget renders inline.
func IsImageName(name string) bool {
	_, ok := imageExts[strings.ToLower(filepath.Ext(name))]
	return ok
}

// NewPendingAttachment stages a local file for upload, enforcing the size
// gate and rendering an inline preview for images.
func NewPendingAttachment(path string) (*PendingAttachment, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat attachment: %w", err)
	}
	if info.Size() > MaxAttachmentSize {
		return nil, ErrAttachmentTooLarge
	}

	att := &PendingAttachment{
		Path: path,
		Name: filepath.Base(path),
		Size: info.Size(),
	}

	if mime, ok := imageExts[strings.ToLower(filepath.Ext(path))]; ok {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read attachment: %w", err)
		}
		att.Preview = "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(raw)
	}

	return att, nil
}

// DefaultContent is the message body used when a file is sent without text.
func (a *PendingAttachment) DefaultContent(fileType MessageType) string {
	if fileType == MessageImage {
		return "Shared an image"
	}
	return "Shared file: " + a.Name
}
