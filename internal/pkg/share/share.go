package share

import (
	"context"
	"errors"

	"coloringpage/internal/pkg/payload"
)

// Фиксированные заголовок и подпись для шаринга и имя файла для скачивания
const (
	Title    = "Coloring Page"
	Caption  = "Check out this coloring page I made!"
	FileStem = "coloring-page"
)

var (
	// ErrCanceled — пользователь сам отменил шаринг, это не ошибка
	ErrCanceled = errors.New("share canceled")

	// ErrUnsupported — платформа не предоставляет возможность шаринга
	ErrUnsupported = errors.New("sharing is not available")
)

// MsgShareFailure — запасное сообщение, когда у ошибки шаринга нет своего
const MsgShareFailure = "Share failed."

// Sharer — подключаемая возможность платформы. В тестах подменяется
// заглушкой, наличие проверяется до показа кнопки шаринга.
type Sharer interface {
	Available() bool
	Share(ctx context.Context, title, caption string, p payload.Payload) error
}

// NoSharer — платформа без шаринга
type NoSharer struct{}

func (NoSharer) Available() bool { return false }

func (NoSharer) Share(ctx context.Context, title, caption string, p payload.Payload) error {
	return ErrUnsupported
}
