package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"callpipe/api"
	"callpipe/config"
	"callpipe/kafka"
	"callpipe/logger"
	oidcutil "callpipe/oidc"
	"callpipe/pipeline"
	"callpipe/store"
)

// app holds the wired pipeline for one process.
type app struct {
	cfg         *config.Config
	backends    map[string]store.Backend
	validator   *api.CallValidator
	ingestor    *pipeline.Ingestor
	transformer *pipeline.Transformer
	router      *pipeline.Router
	hub         *api.Hub

	settings  kafka.Settings
	producers []*kafka.Producer
	dlq       *kafka.Producer
}

// newApp opens the sinks and chains the stages for cfg.Mode. In stream mode
// each stage hands off to a topic; in inline mode it calls the next stage.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	backends, err := store.OpenAll(ctx, cfg.Storage.Sinks)
	if err != nil {
		return nil, err
	}
	sinks := make(map[string]pipeline.Sink, len(backends))
	for name, b := range backends {
		sinks[name] = b
	}

	a := &app{
		cfg:       cfg,
		backends:  backends,
		validator: api.NewCallValidator(cfg.SchemaPath),
		router:    pipeline.NewRouter(sinks, cfg.Storage.Routes, cfg.Storage.Default),
		hub:       api.NewHub(),
	}
	a.router.SetNotifier(a.hub)

	switch cfg.Mode {
	case config.ModeInline:
		a.transformer = pipeline.NewTransformer(pipeline.Inline(a.router.Run))
		a.ingestor = pipeline.NewIngestor(a.validator, pipeline.Inline(a.transformer.Run))
	case config.ModeStream:
		s, err := kafka.NewSettings(cfg.Kafka)
		if err != nil {
			_ = store.CloseAll(context.Background(), backends)
			return nil, err
		}
		a.settings = s
		raw := kafka.NewProducer(s, cfg.Kafka.RawTopic)
		normalized := kafka.NewProducer(s, cfg.Kafka.NormalizedTopic)
		a.dlq = kafka.NewProducer(s, cfg.Kafka.DLQTopic)
		a.producers = []*kafka.Producer{raw, normalized, a.dlq}
		a.transformer = pipeline.NewTransformer(normalized)
		a.ingestor = pipeline.NewIngestor(a.validator, raw)
	default:
		_ = store.CloseAll(context.Background(), backends)
		return nil, fmt.Errorf("unknown pipeline mode %q", cfg.Mode)
	}

	logger.Info("pipeline wired",
		logger.FieldKV("mode", cfg.Mode),
		logger.FieldKV("sinks", len(backends)),
		logger.FieldKV("default_sink", cfg.Storage.Default))
	return a, nil
}

// stageHandler adapts a stage to a consumer handler.
func stageHandler(run pipeline.Inline) kafka.Handler {
	return func(ctx context.Context, payload []byte) error {
		_, err := run(ctx, string(payload))
		return err
	}
}

func (a *app) transformConsumer() *kafka.Consumer {
	return kafka.NewConsumer(a.settings, a.cfg.Kafka.RawTopic, a.cfg.Kafka.GroupPrefix+"-transform",
		pipeline.StageTransform, a.dlq, stageHandler(a.transformer.Run))
}

func (a *app) routeConsumer() *kafka.Consumer {
	return kafka.NewConsumer(a.settings, a.cfg.Kafka.NormalizedTopic, a.cfg.Kafka.GroupPrefix+"-route",
		pipeline.StageRoute, a.dlq, stageHandler(a.router.Run))
}

// server builds the HTTP surface, with OIDC auth when an issuer is configured.
func (a *app) server(ctx context.Context) (*api.Server, error) {
	var verifier api.TokenVerifier
	if a.cfg.OIDC.Enabled() {
		v, err := oidcutil.Init(ctx, a.cfg.OIDC)
		if err != nil {
			return nil, err
		}
		verifier = oidcutil.NewVerifier(v, a.cfg.OIDC.Audience)
	}
	return api.NewServer(a.ingestor, a.transformer, a.router, a.router, verifier, a.hub, api.Options{
		MaxBodyBytes: a.cfg.IngestMaxBytes,
		Ready:        a.ready,
	}), nil
}

// ready pings every sink and, in stream mode, the broker.
func (a *app) ready(ctx context.Context) error {
	if err := a.router.Ping(ctx); err != nil {
		return err
	}
	if a.cfg.Mode == config.ModeStream {
		return kafka.Ping(ctx, a.settings)
	}
	return nil
}

// shutdown closes the app within timeout and logs what failed.
func (a *app) shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	err := a.close(ctx)
	if err != nil {
		logger.Error("shutdown cleanup failed", err, logger.FieldKV("mode", a.cfg.Mode))
	}
	return err
}

func (a *app) close(ctx context.Context) error {
	var errs []error
	for _, p := range a.producers {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close producer %s: %w", p.Topic(), err))
		}
	}
	a.hub.CloseAll()
	errs = append(errs, store.CloseAll(ctx, a.backends))
	return errors.Join(errs...)
}
