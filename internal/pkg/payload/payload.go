package payload

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// Payload содержит закодированное изображение: байты и MIME-тип.
// Значение заменяется целиком, поля никогда не мутируются.
type Payload struct {
	Data     []byte
	MimeType string
}

func New(data []byte, mimeType string) Payload {
	return Payload{Data: data, MimeType: mimeType}
}

func (p Payload) IsEmpty() bool {
	return len(p.Data) == 0
}

// ToDataURL кодирует изображение в data-URL для передачи в JSON
func (p Payload) ToDataURL() string {
	if p.IsEmpty() {
		return ""
	}
	return fmt.Sprintf("data:%s;base64,%s", p.MimeType, base64.StdEncoding.EncodeToString(p.Data))
}

// FromDataURL разбирает строку вида data:image/png;base64,....
func FromDataURL(dataURL string) (Payload, error) {
	if !strings.HasPrefix(dataURL, "data:") {
		return Payload{}, fmt.Errorf("not a data URL")
	}

	rest := dataURL[len("data:"):]
	sep := strings.Index(rest, ",")
	if sep < 0 {
		return Payload{}, fmt.Errorf("malformed data URL: no comma separator")
	}

	meta := rest[:sep]
	mimeType := meta
	isBase64 := false
	if idx := strings.Index(meta, ";"); idx >= 0 {
		mimeType = meta[:idx]
		isBase64 = strings.Contains(meta[idx:], "base64")
	}
	if mimeType == "" {
		mimeType = "text/plain"
	}

	var data []byte
	var err error
	if isBase64 {
		data, err = base64.StdEncoding.DecodeString(rest[sep+1:])
		if err != nil {
			return Payload{}, fmt.Errorf("error when decode Base64: %w", err)
		}
	} else {
		data = []byte(rest[sep+1:])
	}

	return Payload{Data: data, MimeType: mimeType}, nil
}

// FileExtension возвращает расширение файла по MIME-типу
func (p Payload) FileExtension() string {
	switch p.MimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	}
	return ".img"
}

// FileName собирает имя файла для скачивания/шаринга
func (p Payload) FileName(stem string) string {
	return stem + p.FileExtension()
}
