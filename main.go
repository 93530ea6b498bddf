package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"safeflame/internal/advisor"
	"safeflame/internal/audit"
	"safeflame/internal/auth"
	"safeflame/internal/capture"
	"safeflame/internal/config"
	"safeflame/internal/escalation/application"
	escalation "safeflame/internal/escalation/domain"
	"safeflame/internal/escalation/infrastructure/memory"
	alertrepo "safeflame/internal/escalation/infrastructure/postgres"
	escalationhttp "safeflame/internal/escalation/interfaces/http"
	"safeflame/internal/escalation/notify"
	hazards "safeflame/internal/hazards/domain"
	ingesthttp "safeflame/internal/hazards/interfaces/http"
	hazardsmqtt "safeflame/internal/hazards/interfaces/mqtt"
	"safeflame/internal/logging"
	"safeflame/internal/observability/metrics"
)

func main() {
	demo := flag.Bool("demo", false, "use the demo profile (short timers, burners assumed active)")
	noTTS := flag.Bool("no-tts", false, "disable spoken alerts")
	noLLM := flag.Bool("no-llm", false, "disable the LLM advisor and use canned advice")
	port := flag.Int("port", 0, "HTTP port (overrides HTTP_ADDR)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("config load error", zap.Error(err))
	}
	if *demo {
		cfg.Engine.Profile = escalation.ProfileDemo
	}
	if *noTTS {
		cfg.Voice.Enabled = false
	}
	if *noLLM {
		cfg.LLM.Enabled = false
	}
	if *port > 0 {
		cfg.HTTPAddr = ":" + strconv.Itoa(*port)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, "safeflame")
	if err != nil {
		zap.NewExample().Fatal("logger init error", zap.Error(err))
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var db *sql.DB
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("db open error", zap.Error(err))
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			logger.Fatal("db ping error", zap.Error(err))
		}
	}
	metrics.Init(db, logger)

	var (
		auditLogger audit.Logger = audit.NewZapLogger(logger)
		archive     *alertrepo.AlertRepository
	)
	if db != nil {
		auditRepo := audit.NewRepository(db)
		if err := auditRepo.EnsureSchema(ctx); err != nil {
			logger.Fatal("audit schema error", zap.Error(err))
		}
		auditLogger = auditRepo
		archive = alertrepo.NewAlertRepository(db)
		if err := archive.EnsureSchema(ctx); err != nil {
			logger.Fatal("alert archive schema error", zap.Error(err))
		}
	}

	settings, err := cfg.Settings()
	if err != nil {
		logger.Fatal("engine settings error", zap.Error(err))
	}
	settingsStore, err := application.NewSettingsStore(settings)
	if err != nil {
		logger.Fatal("settings store error", zap.Error(err))
	}
	alertLog := memory.NewAlertLog(memory.DefaultAlertLogCapacity)
	engine, err := application.NewEngine(settingsStore,
		application.WithZones(cfg.Zones),
		application.WithAlertRecorder(alertLog),
		application.WithLogger(logger.Named("engine")),
	)
	if err != nil {
		logger.Fatal("engine init error", zap.Error(err))
	}
	logger.Info("engine ready",
		zap.String("profile", settings.Profile),
		zap.Duration("info_after", settings.InfoAfter),
		zap.Duration("warning_after", settings.WarningAfter),
		zap.Duration("critical_after", settings.CriticalAfter),
		zap.Duration("cooldown", settings.Cooldown),
		zap.Bool("assume_burners_active", settings.AssumeBurnersActive),
		zap.Int("zones", len(cfg.Zones)),
	)

	dispatcher := notify.NewDispatcher(
		notify.WithQueueSize(cfg.Dispatch.QueueSize),
		notify.WithSinkTimeout(cfg.Dispatch.SinkTimeout),
		notify.WithLogger(logger.Named("dispatch")),
	)
	mustRegister := func(sink notify.Sink, types ...string) {
		if err := dispatcher.Register(sink, types...); err != nil {
			logger.Fatal("sink register error", zap.String("sink", sink.Name()), zap.Error(err))
		}
	}
	mustRegister(notify.NewLogSink(logger), application.EventAlert, application.EventAdvice)

	sseBroker := escalationhttp.NewSSEBroker()
	wsHub := escalationhttp.NewWSHub(logger.Named("ws"))
	mustRegister(sseBroker)
	mustRegister(wsHub)

	if cfg.Voice.Enabled {
		voice, err := notify.NewVoiceSink(cfg.Voice.Command, cfg.Voice.Rate, notify.WithVolumes(notify.Volumes{
			Info:     cfg.Voice.VolumeInfo,
			Warning:  cfg.Voice.VolumeWarning,
			Critical: cfg.Voice.VolumeCritical,
		}))
		if err != nil {
			logger.Fatal("voice sink error", zap.Error(err))
		}
		mustRegister(voice, application.EventAlert, application.EventAdvice)
	}

	var alertAdvisor *advisor.Advisor
	if cfg.LLM.Enabled {
		alertAdvisor, err = advisor.New(advisor.Config{
			BaseURL:         cfg.LLM.BaseURL,
			Model:           cfg.LLM.Model,
			Timeout:         cfg.LLM.Timeout,
			CacheSize:       cfg.LLM.CacheSize,
			BreakerFailures: cfg.LLM.BreakerFailures,
			BreakerOpenFor:  cfg.LLM.BreakerOpenFor,
		}, advisor.WithLogger(logger.Named("advisor")))
		if err != nil {
			logger.Fatal("advisor init error", zap.Error(err))
		}
	} else {
		alertAdvisor = advisor.NewFallbackOnly(advisor.WithLogger(logger.Named("advisor")))
	}
	adviceSink, err := notify.NewAdviceSink(alertAdvisor, dispatcher)
	if err != nil {
		logger.Fatal("advice sink error", zap.Error(err))
	}
	mustRegister(adviceSink, application.EventAlert)

	if cfg.Webhook.URL != "" {
		channel, err := notify.NewWebhookChannel(cfg.Webhook.URL)
		if err != nil {
			logger.Fatal("webhook channel error", zap.Error(err))
		}
		tpl, err := notify.NewTemplate(cfg.Webhook.Template)
		if err != nil {
			logger.Fatal("webhook template error", zap.Error(err))
		}
		webhook, err := notify.NewWebhookSink(channel, tpl, escalation.SeverityWarning)
		if err != nil {
			logger.Fatal("webhook sink error", zap.Error(err))
		}
		mustRegister(webhook, application.EventAlert)
	}

	if archive != nil {
		archiveSink, err := notify.NewArchiveSink(archive)
		if err != nil {
			logger.Fatal("archive sink error", zap.Error(err))
		}
		mustRegister(archiveSink, application.EventAlert)
	}

	var mqttClient *hazardsmqtt.Client
	if cfg.MQTT.Broker != "" {
		mqttClient, err = hazardsmqtt.NewClient(hazardsmqtt.Config{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			QoS:      cfg.MQTT.QoS,
		}, logger.Named("mqtt"))
		if err != nil {
			logger.Fatal("mqtt client error", zap.Error(err))
		}
		mqttSink, err := notify.NewMQTTSink(mqttClient, cfg.MQTT.AlertsTopic)
		if err != nil {
			logger.Fatal("mqtt sink error", zap.Error(err))
		}
		mustRegister(mqttSink, application.EventAlert, application.EventAdvice)
	}

	dispatcher.Start(ctx)
	defer dispatcher.Close()

	analyzer := hazards.NewAnalyzer(cfg.Hazards.ProximityPx, cfg.Hazards.FlammableLabels)
	loop, err := capture.NewLoop(engine, analyzer, dispatcher,
		capture.WithQueueSize(cfg.Capture.QueueSize),
		capture.WithStatusInterval(cfg.Capture.StatusInterval),
		capture.WithLogger(logger.Named("capture")),
	)
	if err != nil {
		logger.Fatal("capture loop error", zap.Error(err))
	}
	go func() {
		if err := loop.Run(ctx); err != nil {
			logger.Error("capture loop exited", zap.Error(err))
		}
	}()

	if mqttClient != nil {
		go func() {
			if err := mqttClient.Connect(ctx); err != nil {
				logger.Error("mqtt unavailable, continuing without it", zap.Error(err))
				return
			}
			if err := hazardsmqtt.SubscribeFrames(ctx, mqttClient, cfg.MQTT.FramesTopic, loop, logger.Named("mqtt")); err != nil {
				logger.Error("mqtt frames subscribe error", zap.Error(err))
			}
		}()
	}

	apiOpts := []escalationhttp.Option{
		escalationhttp.WithAuditLogger(auditLogger),
		escalationhttp.WithEventPublisher(dispatcher),
		escalationhttp.WithLogger(logger.Named("api")),
	}
	if archive != nil {
		apiOpts = append(apiOpts, escalationhttp.WithArchive(archive))
	}
	apiHandler, err := escalationhttp.NewHandler(engine, settingsStore, alertLog, apiOpts...)
	if err != nil {
		logger.Fatal("api handler error", zap.Error(err))
	}
	ingestHandler, err := ingesthttp.NewIngestHandler(loop, logger.Named("ingest"))
	if err != nil {
		logger.Fatal("ingest handler error", zap.Error(err))
	}

	if cfg.Auth.JWTSecret == "" {
		logger.Warn("AUTH_JWT_SECRET not set, admin API is unauthenticated")
	}
	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, []string{"/ingest/"})
	authMiddleware := auth.NewMiddleware([]byte(cfg.Auth.JWTSecret), policy)
	ingestAuth := auth.NewIngestAuthMiddleware([]byte(cfg.Auth.IngestSecret), cfg.Auth.IngestMaxSkew)

	mux := http.NewServeMux()
	mux.Handle("/ingest/frames", ingestAuth.Wrap(ingestHandler))
	mux.Handle("/api/v1/alerts/stream", escalationhttp.NewStreamHandler(sseBroker))
	mux.Handle("/api/v1/", apiHandler)
	mux.Handle("/ws/alerts", wsHub)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           loggingMiddleware(authMiddleware.Wrap(mux), logger.Named("http")),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown error", zap.Error(err))
		}
	}()

	logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("http server error", zap.Error(err))
	}
	logger.Info("shutting down")
}

func loggingMiddleware(next http.Handler, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", resp.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Flush keeps SSE streaming through the middleware.
func (w *statusWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack lets the WebSocket upgrade take over the connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("http: response does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}
