package acquire

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"coloringpage/internal/pkg/payload"
)

// ErrNoImage — входные данные не удалось распознать как изображение.
// Сессия в этом случае просто остаётся без оригинала.
var ErrNoImage = errors.New("no image available")

var formatMimeTypes = map[string]string{
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"webp": "image/webp",
}

type Acquirer struct {
	maxDimension int
	logger       *slog.Logger
}

// NewAcquirer создаёт обработчик входных изображений. maxDimension > 0
// ограничивает большую сторону картинки, 0 — без ограничения.
func NewAcquirer(maxDimension int, logger *slog.Logger) *Acquirer {
	return &Acquirer{maxDimension: maxDimension, logger: logger}
}

// Acquire декодирует локально выбранный файл в Payload. Никаких сетевых
// вызовов: формат определяется по содержимому, заявленный клиентом
// MIME-тип игнорируется. Слишком большие изображения уменьшаются,
// чтобы не выйти за лимит запроса к внешней модели.
func (a *Acquirer) Acquire(data []byte) (payload.Payload, error) {
	if len(data) == 0 {
		return payload.Payload{}, ErrNoImage
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		a.logger.Debug("Can not decode image config", "error", err)
		return payload.Payload{}, ErrNoImage
	}

	mimeType, ok := formatMimeTypes[format]
	if !ok {
		a.logger.Debug("Unsupported image format", "format", format)
		return payload.Payload{}, ErrNoImage
	}

	if a.maxDimension <= 0 || (cfg.Width <= a.maxDimension && cfg.Height <= a.maxDimension) {
		return payload.New(data, mimeType), nil
	}

	a.logger.Debug("Downscale input image",
		"width", cfg.Width, "height", cfg.Height, "maxDimension", a.maxDimension)

	resized, resizedMime, err := a.downscale(data, format)
	if err != nil {
		a.logger.Debug("Can not downscale image", "error", err)
		return payload.Payload{}, ErrNoImage
	}

	return payload.New(resized, resizedMime), nil
}

func (a *Acquirer) downscale(data []byte, format string) ([]byte, string, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}

	fit := imaging.Fit(src, a.maxDimension, a.maxDimension, imaging.Lanczos)

	// PNG сохраняем как PNG (прозрачность), остальное перекодируем в JPEG
	buf := new(bytes.Buffer)
	if format == "png" {
		if err := imaging.Encode(buf, fit, imaging.PNG); err != nil {
			return nil, "", fmt.Errorf("failed to encode image: %w", err)
		}
		return buf.Bytes(), "image/png", nil
	}

	if err := imaging.Encode(buf, fit, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		return nil, "", fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), "image/jpeg", nil
}
