package appcoloring

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/go-co-op/gocron/v2"
	"github.com/natefinch/lumberjack"
	"gopkg.in/yaml.v3"

	"coloringpage/internal/pkg/acquire"
	"coloringpage/internal/pkg/gemini"
	"coloringpage/internal/pkg/metrics"
	"coloringpage/internal/pkg/mylogger"
	"coloringpage/internal/pkg/rest"
	"coloringpage/internal/pkg/session"
	"coloringpage/internal/pkg/share"
)

const (
	FILE_PATH_OPTIONS = "/data/options.yml"
	LOG_FILE_PATH     = "/log/app.log"
)

type ColoringSrv struct {
	options          ApplOptions
	logger           *slog.Logger
	restObj          *rest.Rest
	sessionMng       *session.Manager
	scheduler        gocron.Scheduler
	scheduleLogLevel gocron.LogLevel
	metrics          *metrics.AppMetrics
}

type ApplOptions struct {
	LogLevel          string               `yaml:"log_level"`
	SessionTTLMinutes int                  `yaml:"session_ttl_minutes"`
	MaxImageDimension int                  `yaml:"max_image_dimension"`
	PurgeSessionsCron string               `yaml:"purge_sessions_cron"`
	ShareWebhookURL   string               `yaml:"share_webhook_url"`
	MetricsLogMinutes int                  `yaml:"metrics_log_minutes"`
	GeminiOptions     gemini.ClientOptions `yaml:"gemini"`
}

func defaultConfig() ApplOptions {
	return ApplOptions{
		LogLevel:          "INFO",
		SessionTTLMinutes: 60,
		MaxImageDimension: 1536,
		PurgeSessionsCron: "*/10 * * * *",
		MetricsLogMinutes: 60,
	}
}

func NewColoringSrv(port string, apiKey string) *ColoringSrv {

	options, err := readOptions()
	if err != nil {
		panic(fmt.Sprintf("Can not read Options: %v", err))
	}

	// Ключ из окружения главнее файла с опциями. Отсутствие ключа не
	// проверяем: первый запрос к модели просто завершится ошибкой.
	if apiKey != "" {
		options.GeminiOptions.ApiKey = apiKey
	}

	// Настройка обработчика для записи в файл с ротацией
	fileLogger := &lumberjack.Logger{
		Filename:   LOG_FILE_PATH,
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	}

	var logLevel = slog.LevelInfo
	scheduleLogLevel := gocron.LogLevelWarn

	if options.LogLevel == "DEBUG" {
		logLevel = slog.LevelDebug
	} else if options.LogLevel == "INFO" {
		logLevel = slog.LevelInfo
	} else if options.LogLevel == "WARNING" {
		logLevel = slog.LevelWarn
	} else {
		logLevel = slog.LevelError
	}

	fileHandler := slog.NewTextHandler(fileLogger, &slog.HandlerOptions{
		Level: logLevel, AddSource: true,
	})

	consoleHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel, AddSource: true,
	})

	group := mylogger.NewMultiHandler(fileHandler, consoleHandler)
	logger := slog.New(group)

	logger.Info("Application started", slog.String("status", "OK"))
	logger.Debug("Current options", "options", spew.Sprintf("%+v", redactedOptions(options)))

	appMetrics := metrics.NewAppMetrics()

	acquirer := acquire.NewAcquirer(options.MaxImageDimension, logger)

	geminiClient := gemini.NewClient(options.GeminiOptions, logger)

	sessionTTL := time.Duration(options.SessionTTLMinutes) * time.Minute
	sessionMng := session.NewManager(geminiClient, acquirer, sessionTTL, appMetrics, logger)

	sharer := share.NewWebhookSharer(options.ShareWebhookURL, logger)
	if !sharer.Available() {
		logger.Info("Share webhook is not configured, sharing disabled")
	}

	restObj, err := rest.NewRest(port, logger, sessionMng, sharer, appMetrics)
	if err != nil {
		logger.Error("Error create Rest", "error", err)
		panic(fmt.Sprintf("error create Rest %v", err))
	}

	return &ColoringSrv{
		options:          options,
		logger:           logger,
		restObj:          restObj,
		sessionMng:       sessionMng,
		scheduleLogLevel: scheduleLogLevel,
		metrics:          appMetrics,
	}
}

func (app *ColoringSrv) Start() {
	app.metrics.Start()

	metrics.StartMetricsLogging(app.logger, time.Duration(app.options.MetricsLogMinutes)*time.Minute)

	scheduler, err := gocron.NewScheduler(gocron.WithLocation(time.UTC),
		gocron.WithLogger(
			gocron.NewLogger(app.scheduleLogLevel),
		))
	if err != nil {
		app.logger.Error("Error create scheduler", "error", err)
		panic(fmt.Sprintf("error create scheduler: %v", err))
	}
	app.scheduler = scheduler

	// Вычистка просроченных сессий
	_, err = app.scheduler.NewJob(
		gocron.CronJob(
			app.options.PurgeSessionsCron,
			false,
		),
		gocron.NewTask(
			func() {
				app.sessionMng.PurgeExpired()
			},
		),
	)
	if err != nil {
		app.logger.Error("Error create purge job", "error", err)
	}

	go func() {
		app.scheduler.Start()
	}()

	err = app.restObj.Start()
	app.logger.Error("Error start rest", "error", err)
}

func (app *ColoringSrv) Stop() {
	if app.scheduler != nil {
		_ = app.scheduler.Shutdown()
	}
}

func readOptions() (ApplOptions, error) {
	plan, _ := os.ReadFile(FILE_PATH_OPTIONS)
	data := defaultConfig()
	err := yaml.Unmarshal(plan, &data)

	if data.SessionTTLMinutes <= 0 {
		panic("Option session_ttl_minutes must be positive")
	}

	return data, err
}

// redactedOptions прячет ключ из дампа опций в лог
func redactedOptions(options ApplOptions) ApplOptions {
	if options.GeminiOptions.ApiKey != "" {
		options.GeminiOptions.ApiKey = "***"
	}
	return options
}
