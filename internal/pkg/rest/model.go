package rest

import (
	"coloringpage/internal/pkg/prompt"
	"coloringpage/internal/pkg/session"
)

// Error структура для ошибок
type ErrorAttributes struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	DevMessage string `json:"dev_message,omitempty"`
}

// ErrorResponse структура для исходящего ответа
type ErrorResponse struct {
	Error ErrorAttributes `json:"error"`
}

// SessionResponse — наблюдаемое состояние сессии плюс доступные действия
type SessionResponse struct {
	Id           string           `json:"id"`
	State        session.State    `json:"state"`
	Options      prompt.Options   `json:"options"`
	HasOriginal  bool             `json:"has_original"`
	HasProcessed bool             `json:"has_processed"`
	CanDownload  bool             `json:"can_download"`
	CanShare     bool             `json:"can_share"`
	Error        *ErrorAttributes `json:"error,omitempty"`
}

// UploadRequest — изображение в JSON как data-URL (альтернатива
// multipart-загрузке)
type UploadRequest struct {
	Image string `json:"image"`
}

// ShareResponse структура для ответа на запрос шаринга
type ShareResponse struct {
	Status string           `json:"status"`
	Error  *ErrorAttributes `json:"error,omitempty"`
}

// StatusPage данные для стартовой страницы
type StatusPage struct {
	ActiveSessions int64 `json:"active_sessions"`

	TotalRequests            int64   `json:"total_requests"`
	TotalRequestsError       int64   `json:"total_requests_errors"`
	TotalRequestsSuccessRate float64 `json:"total_requests_success_rate"`
	TotalRequestsErrorRate   float64 `json:"total_requests_errors_rate"`

	GenerationsTotal     int64 `json:"generations_total"`
	GenerationsError     int64 `json:"generations_error"`
	GenerationsToday     int64 `json:"generations_today"`
	GenerationsYesterday int64 `json:"generations_yesterday"`

	ImagesSentTotal int64 `json:"images_sent_total"`
	ImagesSentError int64 `json:"images_sent_error"`
}
