package metrics

import (
	"fmt"
	"log"
	"log/slog"
	"time"

	"github.com/rcrowley/go-metrics"
)

// SlogAdapter подкладывает slog под текстовый вывод go-metrics
type SlogAdapter struct {
	logger *slog.Logger
	prefix string
}

func NewSlogAdapter(logger *slog.Logger, prefix string) *SlogAdapter {
	return &SlogAdapter{
		logger: logger,
		prefix: prefix,
	}
}

func (a *SlogAdapter) Write(p []byte) (n int, err error) {
	msg := string(p)
	if len(msg) > 0 && msg[len(msg)-1] == '\n' {
		msg = msg[:len(msg)-1]
	}

	// Каждая строка отчёта — отдельное сообщение лога
	for _, line := range splitLines(msg) {
		if line != "" {
			a.logger.Info(fmt.Sprintf("%s%s", a.prefix, line))
		}
	}

	return len(p), nil
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}

	var lines []string
	start := 0
	for i, c := range s {
		if c == '\n' {
			if i > start {
				lines = append(lines, s[start:i])
			}
			start = i + 1
		}
	}

	if start < len(s) {
		lines = append(lines, s[start:])
	}

	return lines
}

func StartMetricsLogging(logger *slog.Logger, interval time.Duration) {
	adapter := NewSlogAdapter(logger, "metrics: ")

	go metrics.Log(metrics.DefaultRegistry, interval,
		log.New(adapter, "", log.LstdFlags))
}
