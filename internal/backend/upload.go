package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"

	"github.com/google/uuid"

	"chatdesk/internal/domain"
)

// UploadResult is the stored-file descriptor returned by the upload endpoint.
type UploadResult struct {
	FileURL  string             `json:"file_url"`
	FileName string             `json:"file_name"`
	FileType domain.MessageType `json:"file_type"`
}

// Upload sends a staged attachment as multipart form data. The 10 MiB gate is
// enforced again here so no oversized file ever leaves the client, even if a
// caller staged the attachment by hand.
func (c *Client) Upload(ctx context.Context, att *domain.PendingAttachment) (*UploadResult, error) {
	if att.Size > domain.MaxAttachmentSize {
		return nil, domain.ErrAttachmentTooLarge
	}

	file, err := os.Open(att.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open attachment: %w", err)
	}
	defer file.Close()

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)
	go func() {
		part, err := form.CreateFormFile("file", att.Name)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, file); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(form.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", pr)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.upload.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var detail struct {
			Detail string `json:"detail"`
		}
		json.NewDecoder(resp.Body).Decode(&detail)
		return nil, &APIError{Status: resp.StatusCode, Detail: detail.Detail}
	}

	var result UploadResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode upload response: %w", err)
	}
	return &result, nil
}
