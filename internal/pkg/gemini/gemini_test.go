package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coloringpage/internal/pkg/payload"
)

func newTestClient(baseURL string) *Client {
	return NewClient(ClientOptions{ApiKey: "test-key", BaseURL: baseURL}, slog.Default())
}

func testOriginal() payload.Payload {
	return payload.New([]byte{0xff, 0xd8, 0xff}, "image/jpeg")
}

func TestExtractImage_FirstInlinePartWins(t *testing.T) {
	response := &generateResponse{
		Candidates: []candidate{{
			Content: &content{Parts: []part{
				{Text: "note"},
				{InlineData: &inlineData{MimeType: "image/png", Data: "AAA="}},
				{InlineData: &inlineData{MimeType: "image/jpeg", Data: "BBBB"}},
			}},
		}},
	}

	got, ok := extractImage(response)
	require.True(t, ok)

	wantData, _ := base64.StdEncoding.DecodeString("AAA=")
	assert.Equal(t, "image/png", got.MimeType)
	assert.Equal(t, wantData, got.Data)
}

func TestExtractImage_UnpaddedBase64(t *testing.T) {
	// часть продюсеров не выравнивает base64 хвостовыми "="
	response := &generateResponse{
		Candidates: []candidate{{
			Content: &content{Parts: []part{
				{Text: "note"},
				{InlineData: &inlineData{MimeType: "image/png", Data: "AAA"}},
			}},
		}},
	}

	got, ok := extractImage(response)
	require.True(t, ok)
	assert.Equal(t, "image/png", got.MimeType)
	assert.Equal(t, []byte{0x00, 0x00}, got.Data)
}

func TestExtractImage_NoImageParts(t *testing.T) {
	response := &generateResponse{
		Candidates: []candidate{{
			Content: &content{Parts: []part{{Text: "sorry, text only"}}},
		}},
	}

	_, ok := extractImage(response)
	assert.False(t, ok)

	_, ok = extractImage(&generateResponse{})
	assert.False(t, ok)

	_, ok = extractImage(&generateResponse{Candidates: []candidate{{Content: nil}}})
	assert.False(t, ok)
}

func TestGenerateImage_Success(t *testing.T) {
	instruction := "Convert this image"

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1beta/models/"+DefaultModel+":generateContent", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))

		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Contents, 1)
		require.Len(t, req.Contents[0].Parts, 2)

		// первая часть — картинка, вторая — инструкция
		require.NotNil(t, req.Contents[0].Parts[0].InlineData)
		assert.Equal(t, "image/jpeg", req.Contents[0].Parts[0].InlineData.MimeType)
		assert.Equal(t, instruction, req.Contents[0].Parts[1].Text)

		require.NotNil(t, req.GenerationConfig)
		assert.Equal(t, []string{"IMAGE", "TEXT"}, req.GenerationConfig.ResponseModalities)

		resp := generateResponse{Candidates: []candidate{{
			Content: &content{Parts: []part{
				{Text: "here you go"},
				{InlineData: &inlineData{
					MimeType: "image/png",
					Data:     base64.StdEncoding.EncodeToString([]byte("generated")),
				}},
			}},
		}}}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	got, err := client.GenerateImage(context.Background(), testOriginal(), instruction)
	require.NoError(t, err)
	assert.Equal(t, "image/png", got.MimeType)
	assert.Equal(t, []byte("generated"), got.Data)
}

func TestGenerateImage_NoImageReturned(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := generateResponse{Candidates: []candidate{{
			Content: &content{Parts: []part{{Text: "text only"}}},
		}}}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	_, err := client.GenerateImage(context.Background(), testOriginal(), "instruction")
	assert.ErrorIs(t, err, ErrNoImageReturned)
}

func TestGenerateImage_ServiceErrorMessagePassedThrough(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(generateResponse{
			Error: &apiError{Code: 429, Message: "Resource has been exhausted", Status: "RESOURCE_EXHAUSTED"},
		})
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	_, err := client.GenerateImage(context.Background(), testOriginal(), "instruction")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Resource has been exhausted")

	// сообщение API доступно без технических обёрток
	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, "Resource has been exhausted", svcErr.Message)
}

func TestGenerateImage_UnexpectedStatusWithoutBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	_, err := client.GenerateImage(context.Background(), testOriginal(), "instruction")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status code")
}

func TestGenerateImage_TransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // соединение сразу недоступно

	client := newTestClient(server.URL)

	_, err := client.GenerateImage(context.Background(), testOriginal(), "instruction")
	assert.Error(t, err)
}

func TestNewClient_Defaults(t *testing.T) {
	client := NewClient(ClientOptions{ApiKey: "k"}, slog.Default())
	assert.Equal(t, DefaultModel, client.options.Model)
	assert.Equal(t, CoreBaseURL, client.options.BaseURL)
}
