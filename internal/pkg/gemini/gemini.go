package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"coloringpage/internal/pkg/payload"
)

const (
	CoreBaseURL  string = "https://generativelanguage.googleapis.com"
	DefaultModel string = "gemini-2.5-flash-image-preview"
)

// ErrNoImageReturned — модель ответила, но ни в одной части ответа
// нет изображения
var ErrNoImageReturned = errors.New("the model did not return an image")

// ServiceError несёт человекочитаемое сообщение из тела ошибки API,
// его показываем пользователю как есть
type ServiceError struct {
	Message string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("service error: %s", e.Message)
}

type ClientOptions struct {
	ApiKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	options    ClientOptions
}

func NewClient(options ClientOptions, logger *slog.Logger) *Client {
	if options.Model == "" {
		options.Model = DefaultModel
	}
	if options.BaseURL == "" {
		options.BaseURL = CoreBaseURL
	}
	return &Client{
		httpClient: &http.Client{Timeout: 120 * time.Second},
		logger:     logger,
		options:    options,
	}
}

// Формат запроса/ответа generateContent (v1beta)

type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string `json:"responseModalities,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type generateResponse struct {
	Candidates []candidate `json:"candidates"`
	Error      *apiError   `json:"error,omitempty"`
}

type candidate struct {
	Content *content `json:"content"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// GenerateImage отправляет один запрос к модели: исходное изображение плюс
// текст инструкции, ответ может содержать и картинку и текст. Без ретраев
// и без стриминга — запрос либо завершается ответом, либо ошибкой.
func (c *Client) GenerateImage(ctx context.Context, original payload.Payload, instruction string) (payload.Payload, error) {
	request := generateRequest{
		Contents: []content{{
			Parts: []part{
				{InlineData: &inlineData{
					MimeType: original.MimeType,
					Data:     base64.StdEncoding.EncodeToString(original.Data),
				}},
				{Text: instruction},
			},
		}},
		GenerationConfig: &generationConfig{
			ResponseModalities: []string{"IMAGE", "TEXT"},
		},
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.options.BaseURL, c.options.Model)

	var response generateResponse
	err := c.innerRequest(ctx, url, request, &response)
	if err != nil {
		resultError := fmt.Errorf("error generate image: %w", err)
		c.logger.Error(resultError.Error())
		return payload.Payload{}, resultError
	}

	result, ok := extractImage(&response)
	if !ok {
		c.logger.Error("Model response has no image part")
		return payload.Payload{}, ErrNoImageReturned
	}

	return result, nil
}

// extractImage ищет первую часть ответа с inline-изображением.
// Просмотр останавливается на первом совпадении.
func extractImage(response *generateResponse) (payload.Payload, bool) {
	for _, cand := range response.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, p := range cand.Content.Parts {
			if p.InlineData == nil || p.InlineData.Data == "" {
				continue
			}
			data, err := decodeInlineData(p.InlineData.Data)
			if err != nil {
				// битый base64 в части с изображением считаем отсутствием картинки
				return payload.Payload{}, false
			}
			return payload.New(data, p.InlineData.MimeType), true
		}
	}
	return payload.Payload{}, false
}

// decodeInlineData терпим к base64 без выравнивания: часть продюсеров
// отдаёт inline-данные без хвостовых "="
func decodeInlineData(encoded string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err == nil {
		return data, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(encoded, "="))
}

func (c *Client) innerRequest(ctx context.Context, url string, requestBody interface{}, result *generateResponse) error {
	c.logger.Debug("Execute generate request", "url", url)

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		resultError := fmt.Errorf("error when data marshalling: %w", err)
		c.logger.Error(resultError.Error())
		return resultError
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		resultError := fmt.Errorf("error when create request: %w", err)
		c.logger.Error(resultError.Error())
		return resultError
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.options.ApiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		resultError := fmt.Errorf("error when execute request: %w", err)
		c.logger.Error(resultError.Error())
		return resultError
	}

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		resultError := fmt.Errorf("error when read body: %w", err)
		c.logger.Error(resultError.Error())
		return resultError
	}

	if resp.StatusCode != http.StatusOK {
		// тело ошибки API несёт человекочитаемое сообщение, пробрасываем его
		var errResponse generateResponse
		if jsonErr := json.Unmarshal(body, &errResponse); jsonErr == nil && errResponse.Error != nil && errResponse.Error.Message != "" {
			resultError := &ServiceError{Message: errResponse.Error.Message}
			c.logger.Error(resultError.Error(), "status", resp.Status)
			return resultError
		}
		resultError := fmt.Errorf("unexpected status code: %s", resp.Status)
		c.logger.Error(resultError.Error())
		return resultError
	}

	if err := json.Unmarshal(body, result); err != nil {
		resultError := fmt.Errorf("error when parse body: %w", err)
		c.logger.Error(resultError.Error())
		return resultError
	}

	return nil
}
