package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Koot5958/translation-live/internal/capture"
	"github.com/Koot5958/translation-live/internal/config"
	"github.com/Koot5958/translation-live/internal/metrics"
	"github.com/Koot5958/translation-live/internal/pipeline"
	"github.com/Koot5958/translation-live/internal/recognize"
	"github.com/Koot5958/translation-live/internal/server"
	"github.com/Koot5958/translation-live/internal/translate"
	"github.com/Koot5958/translation-live/internal/yandex"
)

const (
	defaultConfigPath = "configs/captiond.yaml"
	serviceName       = "captiond"
	serviceVersion    = "1.0.0"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	autostart := flag.Bool("autostart", true, "Start the pipeline immediately instead of waiting for POST /start")
	console := flag.Bool("console", true, "Render captions on stderr")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	logger.Info("Configuration loaded",
		slog.String("source_language", cfg.Languages.Source),
		slog.String("target_language", cfg.Languages.Target),
		slog.String("capture", cfg.Capture.Source),
		slog.String("recognizer", cfg.Recognizer.Provider),
		slog.Bool("translation", cfg.Translation.Enabled),
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Float64("step", cfg.Segment.Step),
		slog.Float64("time_limit", cfg.Session.TimeLimit),
		slog.String("log_level", cfg.Logging.Level),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	source, err := newSource(cfg, appMetrics, logger)
	if err != nil {
		logger.Error("Failed to create capture source", slog.String("error", err.Error()))
		os.Exit(1)
	}

	recognizer, closeRecognizer, err := newRecognizer(cfg, appMetrics, logger)
	if err != nil {
		logger.Error("Failed to create recognizer", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer closeRecognizer()

	var translator translate.Translator
	if cfg.Translation.Enabled {
		yt, err := translate.NewYandexTranslator(translate.YandexConfig{
			Endpoint:    cfg.Translation.Endpoint,
			Credentials: yandexCredentials(cfg.Credentials),
		}, logger)
		if err != nil {
			logger.Error("Failed to create translator", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer yt.Close()
		translator = yt
	}

	p, err := pipeline.New(pipeline.ConfigFrom(cfg), pipeline.Deps{
		Source:     source,
		Recognizer: recognizer,
		Translator: translator,
		Metrics:    appMetrics,
		Logger:     logger,
	})
	if err != nil {
		logger.Error("Failed to create pipeline", slog.String("error", err.Error()))
		os.Exit(1)
	}

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, p, appMetrics)
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	if *autostart {
		if err := p.Start(ctx); err != nil {
			logger.Error("Failed to start pipeline", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	if *console {
		views := []*consoleView{
			newConsoleView("["+cfg.Languages.Source+"]", cfg.Languages.GetSource(), p.STT()),
		}
		if cfg.Translation.Enabled {
			views = append(views, newConsoleView("["+cfg.Languages.Target+"]", cfg.Languages.GetTarget(), p.Translation()))
		}
		go renderConsole(ctx, os.Stderr, cfg.Caption.LineLength, cfg.Translation.GetPollIntervalDuration(), views...)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...")

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	if err := p.Stop(); err != nil {
		logger.Error("Error stopping pipeline", slog.String("error", err.Error()))
	}
	cancel()

	stats := p.Stats()
	attrs := []any{
		slog.Uint64("runs", stats.Runs),
		slog.Uint64("stt_version", stats.STTVersion),
		slog.Uint64("translation_version", stats.TranslationVersion),
	}
	if stats.Driver != nil {
		attrs = append(attrs,
			slog.Uint64("sessions", stats.Driver.Sessions),
			slog.Uint64("restarts", stats.Driver.Restarts),
			slog.Uint64("windows_sent", stats.Driver.WindowsSent))
	}
	logger.Info("Final pipeline statistics", attrs...)

	logger.Info("Service stopped")
}

func newSource(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (capture.Source, error) {
	switch cfg.Capture.Source {
	case "microphone":
		return capture.NewPortAudioSource(capture.PortAudioConfig{
			SampleRate:      cfg.Audio.SampleRate,
			FramesPerBuffer: cfg.Capture.FramesPerBuffer,
		}, m, logger)
	case "file":
		return capture.NewFileSource(capture.FileConfig{
			Path:       cfg.Capture.File,
			SampleRate: cfg.Audio.SampleRate,
			Realtime:   cfg.Capture.Realtime,
			Loop:       cfg.Capture.Loop,
		}, m, logger)
	case "udp":
		return capture.NewUDPSource(capture.UDPConfig{
			BindAddress: cfg.Capture.BindAddress,
			Port:        cfg.Capture.UDPPort,
			BufferSize:  cfg.Capture.BufferSize,
			SampleRate:  cfg.Audio.SampleRate,
			MaxGap:      cfg.Capture.MaxGap,
		}, m, logger)
	default:
		return nil, fmt.Errorf("unknown capture source %q", cfg.Capture.Source)
	}
}

func newRecognizer(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (recognize.Recognizer, func(), error) {
	switch cfg.Recognizer.Provider {
	case "yandex":
		r, err := recognize.NewYandexRecognizer(recognize.YandexConfig{
			Endpoint:        cfg.Recognizer.Endpoint,
			Credentials:     yandexCredentials(cfg.Credentials),
			Model:           cfg.Recognizer.Model,
			ProfanityFilter: cfg.Recognizer.ProfanityFilter,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return r, func() { r.Close() }, nil
	case "http":
		r, err := recognize.NewHTTPRecognizer(recognize.HTTPConfig{
			Endpoint:      cfg.Recognizer.Endpoint,
			APIKey:        cfg.Credentials.TranscriptionAPIKey,
			Model:         cfg.Recognizer.Model,
			Timeout:       cfg.Recognizer.GetTimeoutDuration(),
			MaxRetries:    cfg.Recognizer.MaxRetries,
			MaxConcurrent: cfg.Recognizer.MaxConcurrent,
		}, m, logger)
		if err != nil {
			return nil, nil, err
		}
		return r, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown recognizer provider %q", cfg.Recognizer.Provider)
	}
}

func yandexCredentials(c config.Credentials) yandex.Credentials {
	return yandex.Credentials{
		IAMToken: c.IAMToken,
		APIKey:   c.APIKey,
		FolderID: c.FolderID,
	}
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output io.Writer
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// anything else is a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
