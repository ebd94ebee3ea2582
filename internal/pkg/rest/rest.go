package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"coloringpage/internal/pkg/acquire"
	"coloringpage/internal/pkg/metrics"
	"coloringpage/internal/pkg/payload"
	"coloringpage/internal/pkg/prompt"
	"coloringpage/internal/pkg/session"
	"coloringpage/internal/pkg/share"
	"coloringpage/internal/pkg/utils"
)

const (
	METRIC_ALL_WEB        = "WEB_ALL"
	METRIC_SESSION_CREATE = "SESSION_CREATE"
	METRIC_SESSION_STATUS = "SESSION_STATUS"
	METRIC_IMAGE_UPLOAD   = "IMAGE_UPLOAD"
	METRIC_OPTIONS_SET    = "OPTIONS_SET"
	METRIC_GENERATE       = "GENERATE"
	METRIC_RESULT_GET     = "RESULT_GET"
	METRIC_SHARE          = "SHARE"
	METRIC_RESET          = "RESET"
)

const maxUploadBytes = 20 << 20

// Шаблон для веб-страницы
var indexTemplate = `
<!DOCTYPE html>
<html>
<head>
    <title>Coloring Page Converter Status</title>
</head>
<body>
    <h1>Coloring Page Converter Status</h1>
    <p>Active sessions: {{.ActiveSessions}}</p>
    </br>
    <p>Total Requests: {{.TotalRequests}}</p>
    <p>Total error requests: {{.TotalRequestsError}}</p>
    <p>Total requests success rate (req per hour): {{.TotalRequestsSuccessRate}}</p>
    <p>Total requests error rate (req per hour): {{.TotalRequestsErrorRate}}</p>
    </br>
    <p>Generations total: {{.GenerationsTotal}}</p>
    <p>Generations error: {{.GenerationsError}}</p>
    <p>Generations yesterday: {{.GenerationsYesterday}}</p>
    <p>Generations today: {{.GenerationsToday}}</p>
    </br>
    <p>Images Sent: {{.ImagesSentTotal}}</p>
    <p>Images error sent: {{.ImagesSentError}}</p>
</body>
</html>
`

type Rest struct {
	logger     *slog.Logger
	router     *mux.Router
	sessionMng *session.Manager
	sharer     share.Sharer
	metrics    *metrics.AppMetrics
	port       string
}

func NewRest(port string,
	logger *slog.Logger,
	sessionMng *session.Manager,
	sharer share.Sharer,
	appMetrics *metrics.AppMetrics,
) (*Rest, error) {

	router := mux.NewRouter()

	restObj := Rest{
		port:       port,
		router:     router,
		logger:     logger,
		sessionMng: sessionMng,
		sharer:     sharer,
		metrics:    appMetrics,
	}

	router.HandleFunc("/", restObj.handleIndex).Methods("GET")
	router.HandleFunc("/session", restObj.handleCreateSession).Methods("POST")
	router.HandleFunc("/session/{sessionId}", restObj.handleGetSession).Methods("GET")
	router.HandleFunc("/session/{sessionId}/image", restObj.handleUploadImage).Methods("POST")
	router.HandleFunc("/session/{sessionId}/options", restObj.handleSetOptions).Methods("PUT")
	router.HandleFunc("/session/{sessionId}/generate", restObj.handleGenerate).Methods("POST")
	router.HandleFunc("/session/{sessionId}/result", restObj.handleDownload).Methods("GET")
	router.HandleFunc("/session/{sessionId}/share", restObj.handleShare).Methods("POST")
	router.HandleFunc("/session/{sessionId}/reset", restObj.handleReset).Methods("POST")

	logger.Info("Run WEB-Server on http://127.0.0.1", "port", port)

	return &restObj, nil
}

// Router отдаёт роутер наружу (для тестов через httptest)
func (rest *Rest) Router() *mux.Router {
	return rest.router
}

func (rest *Rest) Start() error {
	certFile := "/certs/cert.pem"
	keyFile := "/certs/key.pem"

	addr := ":" + rest.port

	// С сертификатами поднимаемся по TLS, без них — обычный HTTP
	_, certErr := os.Stat(certFile)
	_, keyErr := os.Stat(keyFile)
	if certErr == nil && keyErr == nil {
		return http.ListenAndServeTLS(addr, certFile, keyFile, rest.router)
	}

	return http.ListenAndServe(addr, rest.router)
}

func (rest *Rest) handleIndex(w http.ResponseWriter, r *http.Request) {
	tmpl, err := template.New("index").Parse(indexTemplate)
	if err != nil {
		rest.logger.Warn("Error parsing template", "error", err)
		http.Error(w, "Error parsing template", http.StatusInternalServerError)
		return
	}

	generateMetric := rest.metrics.GetRequestTypeMetricsSafe(session.METRIC_GENERATE + session.ProviderGemini)

	err = tmpl.Execute(w, StatusPage{
		ActiveSessions: int64(rest.sessionMng.SessionCount()),

		TotalRequests:            rest.metrics.GetRequestTypeMetricsSafe(METRIC_ALL_WEB).Total.Count(),
		TotalRequestsError:       rest.metrics.GetRequestTypeMetricsSafe(METRIC_ALL_WEB).Errors.Count(),
		TotalRequestsSuccessRate: utils.RoundToTwoDecimals(rest.metrics.GetRequestTypeMetricsSafe(METRIC_ALL_WEB).SuccessRate.Rate15() * 3600.),
		TotalRequestsErrorRate:   utils.RoundToTwoDecimals(rest.metrics.GetRequestTypeMetricsSafe(METRIC_ALL_WEB).ErrorRate.Rate15() * 3600.),

		GenerationsTotal:     generateMetric.Total.Count(),
		GenerationsError:     generateMetric.Errors.Count(),
		GenerationsToday:     rest.metrics.GetDailyMetricSafe(time.Now(), session.METRIC_GENERATE+session.ProviderGemini).Counter.Count(),
		GenerationsYesterday: rest.metrics.GetDailyMetricSafe(time.Now().Add(-24*time.Hour), session.METRIC_GENERATE+session.ProviderGemini).Counter.Count(),

		ImagesSentTotal: rest.metrics.GetRequestTypeMetricsSafe(METRIC_RESULT_GET).Total.Count(),
		ImagesSentError: rest.metrics.GetRequestTypeMetricsSafe(METRIC_RESULT_GET).Errors.Count(),
	})

	if err != nil {
		http.Error(w, "Error executing template", http.StatusInternalServerError)
		return
	}
}

func (rest *Rest) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	snap := rest.sessionMng.CreateSession()
	rest.incrRequestMetric(METRIC_SESSION_CREATE, false)
	sendJSONResponse(w, http.StatusCreated, rest.sessionResponse(snap))
}

func (rest *Rest) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionId := mux.Vars(r)["sessionId"]

	snap, err := rest.sessionMng.GetSession(sessionId)
	if err != nil {
		rest.sendSessionError(w, err, METRIC_SESSION_STATUS)
		return
	}

	rest.incrRequestMetric(METRIC_SESSION_STATUS, false)
	sendJSONResponse(w, http.StatusOK, rest.sessionResponse(snap))
}

// handleUploadImage принимает изображение либо multipart-файлом в поле
// "image", либо JSON-ом с data-URL
func (rest *Rest) handleUploadImage(w http.ResponseWriter, r *http.Request) {
	sessionId := mux.Vars(r)["sessionId"]

	data, err := rest.readUploadedImage(r)
	if err != nil {
		errorAttrs := ErrorAttributes{Code: "BadRequest", Message: "Error reading uploaded image", DevMessage: err.Error()}
		sendJSONResponse(w, http.StatusBadRequest, ErrorResponse{errorAttrs})
		rest.logger.Error(errorAttrs.Message, slog.String("error", errorAttrs.DevMessage))
		rest.incrRequestMetric(METRIC_IMAGE_UPLOAD, true)
		return
	}

	snap, err := rest.sessionMng.AcquireImage(sessionId, data)
	if err != nil {
		rest.sendSessionError(w, err, METRIC_IMAGE_UPLOAD)
		return
	}

	rest.incrRequestMetric(METRIC_IMAGE_UPLOAD, false)
	sendJSONResponse(w, http.StatusOK, rest.sessionResponse(snap))
}

func (rest *Rest) readUploadedImage(r *http.Request) ([]byte, error) {
	contentType := r.Header.Get("Content-Type")

	if strings.HasPrefix(contentType, "multipart/form-data") {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			return nil, fmt.Errorf("error parsing multipart form: %w", err)
		}
		file, _, err := r.FormFile("image")
		if err != nil {
			return nil, fmt.Errorf("image file is missing: %w", err)
		}
		defer file.Close()
		return io.ReadAll(io.LimitReader(file, maxUploadBytes))
	}

	var uploadReq UploadRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxUploadBytes)).Decode(&uploadReq); err != nil {
		return nil, fmt.Errorf("error parsing JSON request: %w", err)
	}

	// MIME-тип из data-URL не важен, формат всё равно определяется по байтам
	p, err := payload.FromDataURL(uploadReq.Image)
	if err != nil {
		return nil, err
	}
	return p.Data, nil
}

func (rest *Rest) handleSetOptions(w http.ResponseWriter, r *http.Request) {
	sessionId := mux.Vars(r)["sessionId"]

	var opts prompt.Options
	if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
		errorAttrs := ErrorAttributes{Code: "BadRequest", Message: "Error parsing JSON request"}
		sendJSONResponse(w, http.StatusBadRequest, ErrorResponse{errorAttrs})
		rest.logger.Error(errorAttrs.Message)
		rest.incrRequestMetric(METRIC_OPTIONS_SET, true)
		return
	}

	snap, err := rest.sessionMng.SetOptions(sessionId, opts)
	if err != nil {
		rest.sendSessionError(w, err, METRIC_OPTIONS_SET)
		return
	}

	rest.incrRequestMetric(METRIC_OPTIONS_SET, false)
	sendJSONResponse(w, http.StatusOK, rest.sessionResponse(snap))
}

func (rest *Rest) handleGenerate(w http.ResponseWriter, r *http.Request) {
	sessionId := mux.Vars(r)["sessionId"]

	snap, err := rest.sessionMng.Generate(r.Context(), sessionId)
	if err != nil {
		rest.sendSessionError(w, err, METRIC_GENERATE)
		return
	}

	rest.incrRequestMetric(METRIC_GENERATE, snap.State == session.StateError)
	sendJSONResponse(w, http.StatusOK, rest.sessionResponse(snap))
}

func (rest *Rest) handleDownload(w http.ResponseWriter, r *http.Request) {
	sessionId := mux.Vars(r)["sessionId"]

	result, err := rest.sessionMng.Result(sessionId)
	if err != nil {
		rest.sendSessionError(w, err, METRIC_RESULT_GET)
		return
	}

	fileName := result.FileName(share.FileStem)
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fileName))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(result.Data); err != nil {
		rest.logger.Error("Error writing image response", "error", err)
		rest.incrRequestMetric(METRIC_RESULT_GET, true)
		return
	}

	rest.logger.Debug("Send processed image", "sessionId", sessionId, "fileName", fileName)
	rest.incrRequestMetric(METRIC_RESULT_GET, false)
}

func (rest *Rest) handleShare(w http.ResponseWriter, r *http.Request) {
	sessionId := mux.Vars(r)["sessionId"]

	if !rest.sharer.Available() {
		errorAttrs := ErrorAttributes{Code: "shareUnsupported", Message: share.ErrUnsupported.Error()}
		sendJSONResponse(w, http.StatusUnprocessableEntity, ShareResponse{Status: "error", Error: &errorAttrs})
		rest.incrRequestMetric(METRIC_SHARE, true)
		return
	}

	result, err := rest.sessionMng.Result(sessionId)
	if err != nil {
		rest.sendSessionError(w, err, METRIC_SHARE)
		return
	}

	err = rest.sharer.Share(r.Context(), share.Title, share.Caption, result)
	if err != nil {
		// отмену пользователем молча проглатываем
		if errors.Is(err, share.ErrCanceled) {
			rest.incrRequestMetric(METRIC_SHARE, false)
			sendJSONResponse(w, http.StatusOK, ShareResponse{Status: "canceled"})
			return
		}

		message := err.Error()
		if message == "" {
			message = share.MsgShareFailure
		}
		errorAttrs := ErrorAttributes{Code: "shareError", Message: message}
		sendJSONResponse(w, http.StatusUnprocessableEntity, ShareResponse{Status: "error", Error: &errorAttrs})
		rest.logger.Error("Share failed", slog.String("error", message))
		rest.incrRequestMetric(METRIC_SHARE, true)
		return
	}

	rest.incrRequestMetric(METRIC_SHARE, false)
	sendJSONResponse(w, http.StatusOK, ShareResponse{Status: "done"})
}

func (rest *Rest) handleReset(w http.ResponseWriter, r *http.Request) {
	sessionId := mux.Vars(r)["sessionId"]

	snap, err := rest.sessionMng.Reset(sessionId)
	if err != nil {
		rest.sendSessionError(w, err, METRIC_RESET)
		return
	}

	rest.incrRequestMetric(METRIC_RESET, false)
	sendJSONResponse(w, http.StatusOK, rest.sessionResponse(snap))
}

func (rest *Rest) sessionResponse(snap session.Snapshot) SessionResponse {
	resp := SessionResponse{
		Id:           snap.Id,
		State:        snap.State,
		Options:      snap.Options,
		HasOriginal:  snap.HasOriginal,
		HasProcessed: snap.HasProcessed,
		CanDownload:  snap.HasProcessed,
		CanShare:     snap.HasProcessed && rest.sharer.Available(),
	}
	if snap.ErrorMsg != "" {
		resp.Error = &ErrorAttributes{Code: "generationError", Message: snap.ErrorMsg}
	}
	return resp
}

// sendSessionError переводит ошибки нижних слоёв в JSON-ответ
func (rest *Rest) sendSessionError(w http.ResponseWriter, err error, metricType string) {
	var errorAttrs ErrorAttributes
	status := http.StatusUnprocessableEntity

	switch {
	case errors.Is(err, session.ErrNotFound):
		status = http.StatusNotFound
		errorAttrs = ErrorAttributes{Code: "NotFound", Message: "session not found", DevMessage: err.Error()}
	case errors.Is(err, session.ErrInFlight):
		status = http.StatusConflict
		errorAttrs = ErrorAttributes{Code: "generationInProgress", Message: session.MsgAlreadyGenerating}
	case errors.Is(err, session.ErrNoOriginal):
		errorAttrs = ErrorAttributes{Code: "noInput", Message: session.MsgNoInput}
	case errors.Is(err, session.ErrNoResult):
		status = http.StatusNotFound
		errorAttrs = ErrorAttributes{Code: "noResult", Message: "no processed image available"}
	case errors.Is(err, acquire.ErrNoImage):
		errorAttrs = ErrorAttributes{Code: "noImage", Message: acquire.ErrNoImage.Error()}
	default:
		status = http.StatusBadRequest
		errorAttrs = ErrorAttributes{Code: "BadRequest", Message: "Can not process request", DevMessage: err.Error()}
	}

	sendJSONResponse(w, status, ErrorResponse{errorAttrs})
	rest.logger.Error(errorAttrs.Message, slog.String("error", errorAttrs.DevMessage))
	rest.incrRequestMetric(metricType, true)
}

func sendJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			http.Error(w, "Error encoding JSON", http.StatusInternalServerError)
			return
		}
		w.Write(jsonData)
	}
}

func (rest *Rest) incrRequestMetric(metricType string, isError bool) {
	if isError {
		rest.metrics.IncrementErrorRequest(METRIC_ALL_WEB)
		rest.metrics.IncrementErrorRequest(metricType)
	} else {
		rest.metrics.IncrementSuccessRequest(METRIC_ALL_WEB)
		rest.metrics.IncrementSuccessRequest(metricType)
	}
}
