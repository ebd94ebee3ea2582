package share

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"coloringpage/internal/pkg/payload"
)

// WebhookSharer отправляет готовую раскраску на настроенный webhook
// как multipart-форму с файлом. Пустой URL означает, что шаринг
// недоступен.
type WebhookSharer struct {
	httpClient *http.Client
	logger     *slog.Logger
	url        string
}

func NewWebhookSharer(url string, logger *slog.Logger) *WebhookSharer {
	return &WebhookSharer{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
		url:        url,
	}
}

func (w *WebhookSharer) Available() bool {
	return w.url != ""
}

func (w *WebhookSharer) Share(ctx context.Context, title, caption string, p payload.Payload) error {
	if !w.Available() {
		return ErrUnsupported
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	if err := writer.WriteField("title", title); err != nil {
		return fmt.Errorf("failed to write title: %w", err)
	}
	if err := writer.WriteField("caption", caption); err != nil {
		return fmt.Errorf("failed to write caption: %w", err)
	}

	part, err := writer.CreateFormFile("file", p.FileName(FileStem))
	if err != nil {
		return fmt.Errorf("failed to create file part: %w", err)
	}
	if _, err := part.Write(p.Data); err != nil {
		return fmt.Errorf("failed to write file part: %w", err)
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := w.httpClient.Do(req)
	if err != nil {
		// обрыв по инициативе клиента — это отмена, а не сбой
		if errors.Is(err, context.Canceled) {
			return ErrCanceled
		}
		w.logger.Error("Share request failed", "error", err)
		return fmt.Errorf("error when execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		w.logger.Error("Share webhook returned error", "status", resp.Status, "body", string(respBody))
		return fmt.Errorf("unexpected status code: %s", resp.Status)
	}

	w.logger.Info("Shared processed image", "size", len(p.Data), "mimeType", p.MimeType)
	return nil
}
