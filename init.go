package main

import (
	"context"

	"github.com/tournevent/collivery/internal/config"
	"github.com/tournevent/collivery/internal/telemetry"
	"github.com/tournevent/collivery/pkg/cache"
	"github.com/tournevent/collivery/pkg/collivery"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// env is the wiring shared by every command.
type env struct {
	cfg     *config.Config
	logger  *otelzap.Logger
	tracer  trace.Tracer
	metrics *telemetry.Metrics
	store   cache.Store
	api     collivery.APIClient

	shutdownTracer func(context.Context) error
}

func setup(ctx context.Context, logOutput string) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger, err := telemetry.NewLogger(cfg.LogLevel, logOutput)
	if err != nil {
		return nil, err
	}

	tracer, shutdown, err := telemetry.InitTracer(ctx, cfg.OTELEnabled, cfg.OTELEndpoint, cfg.Attributes())
	if err != nil {
		logger.Warn("Failed to initialize tracer", zap.Error(err))
		tracer, shutdown, _ = telemetry.InitTracer(ctx, false, "", nil)
	}

	store, err := cfg.OpenStore()
	if err != nil {
		return nil, err
	}

	metrics := telemetry.NewMetrics(nil)

	var api collivery.APIClient
	clientCfg := cfg.Collivery()
	if clientCfg.UseMock {
		api = collivery.NewMockAPIClient()
	} else {
		api = collivery.NewHTTPAPIClient(collivery.HTTPAPIClientConfig{
			BaseURL:    clientCfg.BaseURL,
			AppName:    clientCfg.AppName,
			AppVersion: clientCfg.AppVersion,
			AppHost:    clientCfg.AppHost,
			AppLang:    clientCfg.AppLang,
			AppURL:     clientCfg.AppURL,
			Timeout:    clientCfg.Timeout,
		})
	}

	return &env{
		cfg:            cfg,
		logger:         logger,
		tracer:         tracer,
		metrics:        metrics,
		store:          store,
		api:            metrics.Instrument(api),
		shutdownTracer: shutdown,
	}, nil
}

// newClient builds a client sharing the store and transport.
func (e *env) newClient() *collivery.Client {
	client := collivery.NewWithAPIClient(e.cfg.Collivery(), e.api, e.store, e.logger, e.tracer)
	client.SetCacheMode(e.cfg.ClientCacheMode())
	return client
}

func (e *env) close(ctx context.Context) {
	if err := e.store.Close(); err != nil {
		e.logger.Warn("Failed to close cache store", zap.Error(err))
	}
	_ = e.shutdownTracer(ctx)
	_ = e.logger.Sync()
}
