package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"coloringpage/internal/pkg/acquire"
	"coloringpage/internal/pkg/gemini"
	"coloringpage/internal/pkg/metrics"
	"coloringpage/internal/pkg/payload"
	"coloringpage/internal/pkg/prompt"
)

// State — фаза жизненного цикла операции генерации.
// Состояния взаимоисключающие.
type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateError   State = "error"
	StateReady   State = "ready"
)

const (
	METRIC_GENERATE = "GENERATE_"
	ProviderGemini  = "GEMINI"
)

// Фиксированные сообщения об ошибках, видимые пользователю
const (
	MsgNoInput           = "no image to convert"
	MsgNoImageReturned   = "The model did not return an image. Please try again."
	MsgGenericFailure    = "Image generation failed."
	MsgAlreadyGenerating = "generation already in progress"
)

var (
	ErrNotFound   = errors.New("session not found")
	ErrInFlight   = errors.New(MsgAlreadyGenerating)
	ErrNoOriginal = errors.New(MsgNoInput)
	ErrNoResult   = errors.New("no processed image available")
)

// Generator — единственный внешний вызов сессии: одно изображение плюс
// инструкция на вход, одно изображение на выход
type Generator interface {
	GenerateImage(ctx context.Context, original payload.Payload, instruction string) (payload.Payload, error)
}

// Session хранит пару изображений, выбранные опции и состояние
// текущей операции. Все переходы делаются менеджером под замком сессии.
type Session struct {
	Id        string
	Original  payload.Payload
	Processed payload.Payload
	Options   prompt.Options
	State     State
	ErrorMsg  string

	// seq растёт при каждом запуске генерации и при сбросе; результат
	// запроса применяется только если его метка всё ещё совпадает
	seq uint64
}

// Snapshot — копия наблюдаемого состояния сессии для REST-слоя
type Snapshot struct {
	Id           string
	State        State
	ErrorMsg     string
	Options      prompt.Options
	HasOriginal  bool
	HasProcessed bool
}

type Manager struct {
	sessions  *cache.Cache
	idMutex   *IdMutex
	generator Generator
	acquirer  *acquire.Acquirer
	metrics   *metrics.AppMetrics
	logger    *slog.Logger
	provider  string
}

func NewManager(generator Generator,
	acquirer *acquire.Acquirer,
	ttl time.Duration,
	appMetrics *metrics.AppMetrics,
	logger *slog.Logger) *Manager {

	return &Manager{
		sessions:  cache.New(ttl, 2*ttl),
		idMutex:   NewIdMutex(),
		generator: generator,
		acquirer:  acquirer,
		metrics:   appMetrics,
		logger:    logger,
		provider:  ProviderGemini,
	}
}

// CreateSession заводит новую сессию с опциями по умолчанию
func (m *Manager) CreateSession() Snapshot {
	s := &Session{
		Id:      m.generateId(),
		Options: prompt.DefaultOptions(),
		State:   StateIdle,
	}
	m.sessions.SetDefault(s.Id, s)
	m.logger.Info("Session created", "sessionId", s.Id)
	return snapshotOf(s)
}

func (m *Manager) GetSession(id string) (Snapshot, error) {
	lock := m.idMutex.GetLock(id)
	defer m.idMutex.ReleaseLock(id)
	lock.Lock()
	defer lock.Unlock()

	s, err := m.getSession(id)
	if err != nil {
		return Snapshot{}, err
	}
	return snapshotOf(s), nil
}

// AcquireImage декодирует выбранный пользователем файл и делает его
// оригиналом сессии. Успешный приём очищает прежний результат и ошибку,
// опции стиля не трогает. Неудачная расшифровка оставляет сессию как была.
func (m *Manager) AcquireImage(id string, data []byte) (Snapshot, error) {
	original, err := m.acquirer.Acquire(data)
	if err != nil {
		m.logger.Debug("Acquire failed", "sessionId", id, "error", err)
		return Snapshot{}, err
	}

	lock := m.idMutex.GetLock(id)
	defer m.idMutex.ReleaseLock(id)
	lock.Lock()
	defer lock.Unlock()

	s, err := m.getSession(id)
	if err != nil {
		return Snapshot{}, err
	}

	s.Original = original
	s.Processed = payload.Payload{}
	s.ErrorMsg = ""
	s.State = StateIdle
	s.seq++ // незавершённая генерация теперь не должна примениться
	m.sessions.SetDefault(s.Id, s)

	m.logger.Info("Original image acquired", "sessionId", s.Id, "mimeType", original.MimeType, "size", len(original.Data))
	return snapshotOf(s), nil
}

// SetOptions заменяет опции стиля целиком
func (m *Manager) SetOptions(id string, opts prompt.Options) (Snapshot, error) {
	if err := opts.Validate(); err != nil {
		return Snapshot{}, err
	}

	lock := m.idMutex.GetLock(id)
	defer m.idMutex.ReleaseLock(id)
	lock.Lock()
	defer lock.Unlock()

	s, err := m.getSession(id)
	if err != nil {
		return Snapshot{}, err
	}

	s.Options = opts
	m.sessions.SetDefault(s.Id, s)
	return snapshotOf(s), nil
}

// Generate выполняет один запрос к внешней модели. Повторный вызов при
// активной генерации отклоняется. Неудача не затирает результат прошлой
// успешной генерации.
func (m *Manager) Generate(ctx context.Context, id string) (Snapshot, error) {
	original, options, seq, err := m.beginGenerate(id)
	if err != nil {
		return Snapshot{}, err
	}

	instruction := prompt.BuildInstruction(options)
	m.logger.Info("Start generation", "sessionId", id, "seq", seq)

	generateMetric := m.metrics.GetRequestTypeMetricsSafe(METRIC_GENERATE + m.provider)

	result, genErr := m.generator.GenerateImage(ctx, original, instruction)
	if genErr != nil {
		generateMetric.IncrementErrorRequest()
	} else {
		generateMetric.IncrementSuccessRequest()
		m.metrics.IncrementDaily(METRIC_GENERATE + m.provider)
	}

	return m.settleGenerate(id, seq, result, genErr)
}

// beginGenerate переводит сессию в loading и помечает запрос номером
func (m *Manager) beginGenerate(id string) (payload.Payload, prompt.Options, uint64, error) {
	lock := m.idMutex.GetLock(id)
	defer m.idMutex.ReleaseLock(id)
	lock.Lock()
	defer lock.Unlock()

	s, err := m.getSession(id)
	if err != nil {
		return payload.Payload{}, prompt.Options{}, 0, err
	}

	if s.State == StateLoading {
		return payload.Payload{}, prompt.Options{}, 0, ErrInFlight
	}

	if s.Original.IsEmpty() {
		s.State = StateError
		s.ErrorMsg = MsgNoInput
		m.sessions.SetDefault(s.Id, s)
		return payload.Payload{}, prompt.Options{}, 0, ErrNoOriginal
	}

	s.State = StateLoading
	s.ErrorMsg = ""
	s.seq++
	m.sessions.SetDefault(s.Id, s)

	return s.Original, s.Options, s.seq, nil
}

// settleGenerate применяет итог запроса, если сессию за это время не
// сбросили и не перегрузили новым изображением. Устаревший итог
// отбрасывается молча.
func (m *Manager) settleGenerate(id string, seq uint64, result payload.Payload, genErr error) (Snapshot, error) {
	lock := m.idMutex.GetLock(id)
	defer m.idMutex.ReleaseLock(id)
	lock.Lock()
	defer lock.Unlock()

	s, err := m.getSession(id)
	if err != nil {
		return Snapshot{}, err
	}

	if s.seq != seq {
		m.logger.Debug("Discard stale generation result", "sessionId", id, "seq", seq, "currentSeq", s.seq)
		return snapshotOf(s), nil
	}

	if genErr != nil {
		s.State = StateError
		s.ErrorMsg = generationErrorMessage(genErr)
		// s.Processed не трогаем: прошлый успешный результат остаётся
		m.sessions.SetDefault(s.Id, s)
		m.logger.Error("Generation failed", "sessionId", id, "error", genErr)
		return snapshotOf(s), nil
	}

	s.Processed = result
	s.State = StateReady
	s.ErrorMsg = ""
	m.sessions.SetDefault(s.Id, s)
	m.logger.Info("Generation completed", "sessionId", id, "mimeType", result.MimeType, "size", len(result.Data))
	return snapshotOf(s), nil
}

// Reset возвращает сессию к исходному состоянию. Идемпотентен.
func (m *Manager) Reset(id string) (Snapshot, error) {
	lock := m.idMutex.GetLock(id)
	defer m.idMutex.ReleaseLock(id)
	lock.Lock()
	defer lock.Unlock()

	s, err := m.getSession(id)
	if err != nil {
		return Snapshot{}, err
	}

	s.Original = payload.Payload{}
	s.Processed = payload.Payload{}
	s.ErrorMsg = ""
	s.State = StateIdle
	s.seq++ // незавершённая генерация после сброса отбрасывается
	m.sessions.SetDefault(s.Id, s)

	m.logger.Info("Session reset", "sessionId", id)
	return snapshotOf(s), nil
}

// Result отдаёт обработанное изображение для скачивания или шаринга
func (m *Manager) Result(id string) (payload.Payload, error) {
	lock := m.idMutex.GetLock(id)
	defer m.idMutex.ReleaseLock(id)
	lock.Lock()
	defer lock.Unlock()

	s, err := m.getSession(id)
	if err != nil {
		return payload.Payload{}, err
	}

	if s.Processed.IsEmpty() {
		return payload.Payload{}, ErrNoResult
	}
	return s.Processed, nil
}

// PurgeExpired выметает просроченные сессии из кэша
func (m *Manager) PurgeExpired() {
	before := m.sessions.ItemCount()
	m.sessions.DeleteExpired()
	after := m.sessions.ItemCount()
	if before != after {
		m.logger.Debug("Purge expired sessions", "purged", before-after, "left", after)
	}
}

func (m *Manager) SessionCount() int {
	return m.sessions.ItemCount()
}

func (m *Manager) getSession(id string) (*Session, error) {
	item, ok := m.sessions.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return item.(*Session), nil
}

func (m *Manager) generateId() string {
	return "s" + uuid.NewString()
}

// generationErrorMessage выбирает текст для пользователя: сообщение API
// без технических обёрток, фиксированный текст когда сообщения нет
func generationErrorMessage(err error) string {
	if errors.Is(err, gemini.ErrNoImageReturned) {
		return MsgNoImageReturned
	}
	var svcErr *gemini.ServiceError
	if errors.As(err, &svcErr) {
		return svcErr.Message
	}
	msg := err.Error()
	if msg == "" {
		return MsgGenericFailure
	}
	return msg
}

func snapshotOf(s *Session) Snapshot {
	return Snapshot{
		Id:           s.Id,
		State:        s.State,
		ErrorMsg:     s.ErrorMsg,
		Options:      s.Options,
		HasOriginal:  !s.Original.IsEmpty(),
		HasProcessed: !s.Processed.IsEmpty(),
	}
}
