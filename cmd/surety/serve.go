package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pitabwire/surety/internal/api"
	"github.com/pitabwire/surety/internal/config"
	"github.com/pitabwire/surety/internal/notify"
	"github.com/pitabwire/surety/internal/observability"
	"github.com/pitabwire/surety/internal/transport"
	"github.com/pitabwire/surety/internal/wizard"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the portal backend HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, nil
}

func serve(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}

	// Step 1: Initialize telemetry (logger, tracer, metrics).
	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		return fmt.Errorf("logger error: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "surety", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return err
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Step 2: Load definitions, validate, build registry.
	defs, err := loadDefinitions(cfg.Wizard.Directories, logger)
	if err != nil {
		logger.Error("definition loading failed", zap.Error(err))
		return err
	}
	registry := wizard.NewRegistry(defs)
	metrics.SetDefinitionsLoaded(float64(registry.Count()))

	// Step 3: Initialize state stores.
	wizardStore, wizardCheck, wizardCloser, err := buildWizardStore(ctx, cfg.Wizard.Store, logger)
	if err != nil {
		logger.Error("wizard store initialization failed", zap.Error(err))
		return err
	}
	if wizardCloser != nil {
		defer wizardCloser()
	}

	sessionStore, sessionCheck, sessionCloser, err := buildSessionStore(ctx, cfg.Session.Store, logger)
	if err != nil {
		logger.Error("session store initialization failed", zap.Error(err))
		return err
	}
	if sessionCloser != nil {
		defer sessionCloser()
	}

	// Step 4: Initialize remote dependencies.
	objects, objectCheck, err := buildObjectStore(ctx, cfg.ObjectStorage, logger)
	if err != nil {
		logger.Error("object storage initialization failed", zap.Error(err))
		return err
	}

	apiClient := newAPIClient(cfg.API, logger, metrics)

	// Step 5: Build services.
	engine := wizard.NewEngine(registry, wizardStore, logger, metrics)
	damage := wizard.NewDamageSubmitter(engine, objects, logger, metrics)
	login := newLoginService(apiClient, sessionStore, logger)
	hub := notify.NewHub(notify.HubConfig{
		Client: notify.ClientConfig{
			URL:            cfg.Notifications.SocketURL,
			ConnectTimeout: cfg.Notifications.ConnectTimeout,
		},
		MaxBuffer: cfg.Notifications.MaxBuffer,
	}, func(subjectID string) notify.Credentials {
		return notify.NewSessionCredentials(sessionStore, subjectID)
	}, logger, metrics)
	defer hub.Close()

	// Step 6: Build HTTP router.
	jwks := transport.NewJWKSClient(cfg.Identity.JWKSURL, cfg.Identity.JWKSCacheTTL, logger)
	limiter := transport.NewIPRateLimiter(cfg.RateLimit.LoginPerMinute, cfg.RateLimit.LoginBurst, metrics)

	readiness := observability.ReadinessChecks{
		DefinitionsLoaded: func() bool { return registry.Count() > 0 },
		WizardStore:       wizardCheck,
		SessionStore:      sessionCheck,
		ObjectStore:       objectCheck,
		InsuranceAPI:      apiClient,
		Identity:          jwks,
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Logger:       logger,
		Metrics:      metrics,
		Authenticate: transport.JWTAuthenticator(cfg.Identity, jwks, metrics),
		LoginLimiter: limiter,
		Readiness:    readiness,
		Login:        login,
		Wizard:       engine,
		Damage:       damage,
		Hub:          hub,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Step 7: Start background tasks.
	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()

	go limiter.Run(bgCtx)
	go watchReload(bgCtx, cfg.Wizard.Directories, registry, metrics, logger)

	// Step 8: Start HTTP server.
	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Int("definitions", registry.Count()),
		zap.String("definitions_checksum", registry.Checksum()),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return err
	}

	// Graceful shutdown sequence.
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	bgCancel()
	hub.Close()

	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}

// loadDefinitions returns the built-in wizards followed by those found in
// directories, so configured files override built-ins with the same id.
func loadDefinitions(directories []string, logger *zap.Logger) ([]wizard.Definition, error) {
	loader := wizard.NewLoader()
	defs, err := loader.LoadBuiltin()
	if err != nil {
		return nil, fmt.Errorf("loading built-in wizards: %w", err)
	}
	if len(directories) > 0 {
		extra, err := loader.LoadAll(directories)
		if err != nil {
			return nil, err
		}
		defs = append(defs, extra...)
	}

	verrs := wizard.NewValidator().Validate(defs)
	if len(verrs) > 0 {
		for _, ve := range verrs {
			logger.Error("definition validation error", zap.String("error", ve.Error()))
		}
		return nil, fmt.Errorf("definition validation failed with %d errors", len(verrs))
	}
	return defs, nil
}

// definitionRecorder is the part of Metrics used by reloads.
type definitionRecorder interface {
	RecordDefinitionReload(status string)
	SetDefinitionsLoaded(count float64)
}

// reloadDefinitions swaps the registry contents. A failed load leaves the
// current definitions in place.
func reloadDefinitions(directories []string, registry *wizard.Registry, recorder definitionRecorder, logger *zap.Logger) error {
	defs, err := loadDefinitions(directories, logger)
	if err != nil {
		recorder.RecordDefinitionReload("failure")
		return err
	}
	registry.Replace(defs)
	recorder.RecordDefinitionReload("success")
	recorder.SetDefinitionsLoaded(float64(registry.Count()))
	logger.Info("definitions reloaded",
		zap.Int("definitions", registry.Count()),
		zap.String("checksum", registry.Checksum()),
	)
	return nil
}

// watchReload reloads definitions on SIGHUP until ctx is done.
func watchReload(ctx context.Context, directories []string, registry *wizard.Registry, recorder definitionRecorder, logger *zap.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := reloadDefinitions(directories, registry, recorder, logger); err != nil {
				logger.Error("definition reload failed", zap.Error(err))
			}
		}
	}
}

func newAPIClient(cfg config.APIConfig, logger *zap.Logger, recorder api.Recorder) *api.Client {
	return api.NewClient(api.ClientConfig{
		BaseURL: cfg.BaseURL,
		Timeout: cfg.Timeout,
		Breaker: api.BreakerSettings{
			FailureThreshold:   cfg.CircuitBreaker.FailureThreshold,
			SuccessThreshold:   cfg.CircuitBreaker.SuccessThreshold,
			Cooldown:           cfg.CircuitBreaker.Timeout,
			ErrorRateThreshold: cfg.CircuitBreaker.ErrorRateThreshold,
			ErrorRateWindow:    cfg.CircuitBreaker.ErrorRateWindow,
		},
	}, logger, recorder)
}
