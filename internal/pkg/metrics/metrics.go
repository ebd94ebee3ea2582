package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/rcrowley/go-metrics"
)

// Все метрики приложения в одном месте
type AppMetrics struct {
	// Время старта приложения
	StartTime time.Time

	// Карта метрик по типам запросов
	RequestTypes map[string]*RequestTypeMetrics

	// Счётчики по суткам: ключ "2006-01-02|TYPE"
	DailyCounters map[string]*DailyMetric

	// Мьютекс для безопасной работы с map
	mu sync.RWMutex
}

type RequestTypeMetrics struct {
	Total       metrics.Counter // Общее количество запросов
	Success     metrics.Counter // Успешные запросы
	Errors      metrics.Counter // Ошибки
	TotalRate   metrics.Meter   // Частота запросов/сек
	ErrorRate   metrics.Meter   // Частота ошибок/сек
	SuccessRate metrics.Meter   // Частота успешных/сек
}

type DailyMetric struct {
	Counter metrics.Counter
}

func NewAppMetrics() *AppMetrics {
	return &AppMetrics{
		RequestTypes:  make(map[string]*RequestTypeMetrics),
		DailyCounters: make(map[string]*DailyMetric),
		StartTime:     time.Now(),
	}
}

func (m *AppMetrics) Start() {
	// метрики регистрируются лениво в GetRequestTypeMetricsSafe
}

func (metric *RequestTypeMetrics) IncrementSuccessRequest() {
	metric.incrementRequest(false)
}

func (metric *RequestTypeMetrics) IncrementErrorRequest() {
	metric.incrementRequest(true)
}

func (metric *RequestTypeMetrics) incrementRequest(isError bool) {
	metric.Total.Inc(1)
	metric.TotalRate.Mark(1)
	if isError {
		metric.Errors.Inc(1)
		metric.ErrorRate.Mark(1)
	} else {
		metric.Success.Inc(1)
		metric.SuccessRate.Mark(1)
	}
}

func (m *AppMetrics) GetRequestTypeMetricsSafe(requestType string) *RequestTypeMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.RequestTypes[requestType]; ok {
		return existing
	}

	metric := &RequestTypeMetrics{
		Total:       metrics.NewCounter(),
		Success:     metrics.NewCounter(),
		Errors:      metrics.NewCounter(),
		TotalRate:   metrics.NewMeter(),
		ErrorRate:   metrics.NewMeter(),
		SuccessRate: metrics.NewMeter(),
	}

	// Регистрируем с уникальными именами
	typeName := fmt.Sprintf("app.requests.%s", requestType)
	metrics.GetOrRegister(fmt.Sprintf("%s.total", typeName), metric.Total)
	metrics.GetOrRegister(fmt.Sprintf("%s.success", typeName), metric.Success)
	metrics.GetOrRegister(fmt.Sprintf("%s.errors", typeName), metric.Errors)
	metrics.GetOrRegister(fmt.Sprintf("%s.total_rate", typeName), metric.TotalRate)
	metrics.GetOrRegister(fmt.Sprintf("%s.error_rate", typeName), metric.ErrorRate)
	metrics.GetOrRegister(fmt.Sprintf("%s.success_rate", typeName), metric.SuccessRate)

	m.RequestTypes[requestType] = metric
	return metric
}

func (m *AppMetrics) IncrementSuccessRequest(requestType string) {
	metric := m.GetRequestTypeMetricsSafe(requestType)
	metric.IncrementSuccessRequest()
}

func (m *AppMetrics) IncrementErrorRequest(requestType string) {
	metric := m.GetRequestTypeMetricsSafe(requestType)
	metric.IncrementErrorRequest()
}

// GetDailyMetricSafe возвращает суточный счётчик для даты и типа запроса
func (m *AppMetrics) GetDailyMetricSafe(day time.Time, requestType string) *DailyMetric {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := dailyKey(day, requestType)
	if existing, ok := m.DailyCounters[key]; ok {
		return existing
	}

	metric := &DailyMetric{Counter: metrics.NewCounter()}
	m.DailyCounters[key] = metric
	return metric
}

func (m *AppMetrics) IncrementDaily(requestType string) {
	metric := m.GetDailyMetricSafe(time.Now(), requestType)
	metric.Counter.Inc(1)
}

func dailyKey(day time.Time, requestType string) string {
	return day.Format("2006-01-02") + "|" + requestType
}
