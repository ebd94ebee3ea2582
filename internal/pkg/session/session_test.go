package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coloringpage/internal/pkg/acquire"
	"coloringpage/internal/pkg/gemini"
	"coloringpage/internal/pkg/metrics"
	"coloringpage/internal/pkg/payload"
	"coloringpage/internal/pkg/prompt"
)

// generatorStub позволяет подменить внешний вызов в тестах
type generatorStub struct {
	generateFn func(ctx context.Context, original payload.Payload, instruction string) (payload.Payload, error)
}

func (g *generatorStub) GenerateImage(ctx context.Context, original payload.Payload, instruction string) (payload.Payload, error) {
	return g.generateFn(ctx, original, instruction)
}

func okGenerator(result payload.Payload) *generatorStub {
	return &generatorStub{generateFn: func(ctx context.Context, original payload.Payload, instruction string) (payload.Payload, error) {
		return result, nil
	}}
}

func failGenerator(err error) *generatorStub {
	return &generatorStub{generateFn: func(ctx context.Context, original payload.Payload, instruction string) (payload.Payload, error) {
		return payload.Payload{}, err
	}}
}

func newTestManager(generator Generator) *Manager {
	logger := slog.Default()
	return NewManager(generator, acquire.NewAcquirer(0, logger), time.Hour, metrics.NewAppMetrics(), logger)
}

// testJPEG — минимальная валидная картинка для Acquire
func testJPEG(t *testing.T) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	require.NoError(t, jpeg.Encode(buf, img, nil))
	return buf.Bytes()
}

func acquired(t *testing.T, m *Manager) string {
	t.Helper()
	snap := m.CreateSession()
	_, err := m.AcquireImage(snap.Id, testJPEG(t))
	require.NoError(t, err)
	return snap.Id
}

func TestCreateSession(t *testing.T) {
	m := newTestManager(okGenerator(payload.Payload{}))

	snap := m.CreateSession()

	assert.NotEmpty(t, snap.Id)
	assert.Equal(t, StateIdle, snap.State)
	assert.Equal(t, prompt.DefaultOptions(), snap.Options)
	assert.False(t, snap.HasOriginal)
	assert.False(t, snap.HasProcessed)
}

func TestGetSession_NotFound(t *testing.T) {
	m := newTestManager(okGenerator(payload.Payload{}))

	_, err := m.GetSession("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAcquireImage(t *testing.T) {
	m := newTestManager(okGenerator(payload.New([]byte("out"), "image/png")))
	id := acquired(t, m)

	// выставим опции и получим результат
	_, err := m.SetOptions(id, prompt.Options{Thickness: prompt.ThicknessBold, RemoveGrays: true})
	require.NoError(t, err)
	_, err = m.Generate(context.Background(), id)
	require.NoError(t, err)

	// новый оригинал очищает результат и ошибку, но не опции
	snap, err := m.AcquireImage(id, testJPEG(t))
	require.NoError(t, err)

	assert.True(t, snap.HasOriginal)
	assert.False(t, snap.HasProcessed)
	assert.Equal(t, StateIdle, snap.State)
	assert.Empty(t, snap.ErrorMsg)
	assert.Equal(t, prompt.ThicknessBold, snap.Options.Thickness)
	assert.True(t, snap.Options.RemoveGrays)
}

func TestAcquireImage_BadInputLeavesSessionUntouched(t *testing.T) {
	m := newTestManager(okGenerator(payload.New([]byte("out"), "image/png")))
	id := acquired(t, m)

	_, err := m.Generate(context.Background(), id)
	require.NoError(t, err)

	_, err = m.AcquireImage(id, []byte("not an image"))
	assert.ErrorIs(t, err, acquire.ErrNoImage)

	snap, err := m.GetSession(id)
	require.NoError(t, err)
	assert.True(t, snap.HasOriginal)
	assert.True(t, snap.HasProcessed)
	assert.Equal(t, StateReady, snap.State)
}

func TestSetOptions_Invalid(t *testing.T) {
	m := newTestManager(okGenerator(payload.Payload{}))
	snap := m.CreateSession()

	_, err := m.SetOptions(snap.Id, prompt.Options{Thickness: "extra-bold"})
	assert.Error(t, err)
}

func TestGenerate_Success(t *testing.T) {
	result := payload.New([]byte("coloring"), "image/png")
	m := newTestManager(okGenerator(result))
	id := acquired(t, m)

	snap, err := m.Generate(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, StateReady, snap.State)
	assert.True(t, snap.HasProcessed)
	assert.Empty(t, snap.ErrorMsg)

	got, err := m.Result(id)
	require.NoError(t, err)
	assert.Equal(t, result, got)
}

func TestGenerate_UsesInstructionFromOptions(t *testing.T) {
	var gotInstruction string
	gen := &generatorStub{generateFn: func(ctx context.Context, original payload.Payload, instruction string) (payload.Payload, error) {
		gotInstruction = instruction
		return payload.New([]byte("x"), "image/png"), nil
	}}

	m := newTestManager(gen)
	id := acquired(t, m)

	_, err := m.SetOptions(id, prompt.Options{Thickness: prompt.ThicknessBold, RemoveGrays: true})
	require.NoError(t, err)

	_, err = m.Generate(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, prompt.BuildInstruction(prompt.Options{Thickness: prompt.ThicknessBold, RemoveGrays: true}), gotInstruction)
}

func TestGenerate_NoOriginal(t *testing.T) {
	m := newTestManager(okGenerator(payload.Payload{}))
	snap := m.CreateSession()

	_, err := m.Generate(context.Background(), snap.Id)
	assert.ErrorIs(t, err, ErrNoOriginal)

	after, err := m.GetSession(snap.Id)
	require.NoError(t, err)
	assert.Equal(t, StateError, after.State)
	assert.Equal(t, MsgNoInput, after.ErrorMsg)
}

func TestGenerate_FailureKeepsPreviousResult(t *testing.T) {
	first := payload.New([]byte("first"), "image/png")
	gen := okGenerator(first)
	m := newTestManager(gen)
	id := acquired(t, m)

	_, err := m.Generate(context.Background(), id)
	require.NoError(t, err)

	// вторая попытка падает
	gen.generateFn = func(ctx context.Context, original payload.Payload, instruction string) (payload.Payload, error) {
		return payload.Payload{}, errors.New("service blew up")
	}

	snap, err := m.Generate(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, StateError, snap.State)
	assert.Equal(t, "service blew up", snap.ErrorMsg)
	assert.True(t, snap.HasProcessed, "прошлый успешный результат должен остаться")

	got, err := m.Result(id)
	require.NoError(t, err)
	assert.Equal(t, first, got)
}

// Сообщение из тела ошибки API показывается как есть, без обёрток клиента
func TestGenerate_ServiceErrorMessageVerbatim(t *testing.T) {
	svcErr := &gemini.ServiceError{Message: "Resource has been exhausted"}
	m := newTestManager(failGenerator(fmt.Errorf("error generate image: %w", svcErr)))
	id := acquired(t, m)

	snap, err := m.Generate(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, StateError, snap.State)
	assert.Equal(t, "Resource has been exhausted", snap.ErrorMsg)
}

// Ошибка без текста подменяется фиксированным сообщением
func TestGenerate_EmptyErrorMessageFallback(t *testing.T) {
	m := newTestManager(failGenerator(errors.New("")))
	id := acquired(t, m)

	snap, err := m.Generate(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, StateError, snap.State)
	assert.Equal(t, MsgGenericFailure, snap.ErrorMsg)
}

func TestGenerate_NoImageReturnedMessage(t *testing.T) {
	m := newTestManager(failGenerator(gemini.ErrNoImageReturned))
	id := acquired(t, m)

	snap, err := m.Generate(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, StateError, snap.State)
	assert.Equal(t, MsgNoImageReturned, snap.ErrorMsg)
}

func TestGenerate_RejectedWhileLoading(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	gen := &generatorStub{generateFn: func(ctx context.Context, original payload.Payload, instruction string) (payload.Payload, error) {
		close(started)
		<-release
		return payload.New([]byte("x"), "image/png"), nil
	}}

	m := newTestManager(gen)
	id := acquired(t, m)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = m.Generate(context.Background(), id)
	}()

	<-started
	_, err := m.Generate(context.Background(), id)
	assert.ErrorIs(t, err, ErrInFlight)

	close(release)
	<-done
}

// Сброс во время генерации: опоздавший результат отбрасывается молча
func TestGenerate_StaleResultDiscardedAfterReset(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	gen := &generatorStub{generateFn: func(ctx context.Context, original payload.Payload, instruction string) (payload.Payload, error) {
		close(started)
		<-release
		return payload.New([]byte("stale"), "image/png"), nil
	}}

	m := newTestManager(gen)
	id := acquired(t, m)

	done := make(chan Snapshot)
	go func() {
		snap, err := m.Generate(context.Background(), id)
		require.NoError(t, err)
		done <- snap
	}()

	<-started
	_, err := m.Reset(id)
	require.NoError(t, err)

	close(release)
	snap := <-done

	// итог устаревшего запроса не применился
	assert.Equal(t, StateIdle, snap.State)
	assert.False(t, snap.HasProcessed)

	_, err = m.Result(id)
	assert.ErrorIs(t, err, ErrNoResult)
}

func TestReset(t *testing.T) {
	m := newTestManager(failGenerator(errors.New("boom")))
	id := acquired(t, m)

	_, err := m.Generate(context.Background(), id)
	require.NoError(t, err)

	snap, err := m.Reset(id)
	require.NoError(t, err)

	assert.Equal(t, StateIdle, snap.State)
	assert.False(t, snap.HasOriginal)
	assert.False(t, snap.HasProcessed)
	assert.Empty(t, snap.ErrorMsg)

	// идемпотентность
	again, err := m.Reset(id)
	require.NoError(t, err)
	assert.Equal(t, snap.State, again.State)
	assert.False(t, again.HasOriginal)
}

func TestResult_NoProcessed(t *testing.T) {
	m := newTestManager(okGenerator(payload.Payload{}))
	snap := m.CreateSession()

	_, err := m.Result(snap.Id)
	assert.ErrorIs(t, err, ErrNoResult)
}

func TestPurgeExpired(t *testing.T) {
	logger := slog.Default()
	m := NewManager(okGenerator(payload.Payload{}), acquire.NewAcquirer(0, logger), 10*time.Millisecond, metrics.NewAppMetrics(), logger)

	m.CreateSession()
	assert.Equal(t, 1, m.SessionCount())

	time.Sleep(30 * time.Millisecond)
	m.PurgeExpired()
	assert.Equal(t, 0, m.SessionCount())
}
