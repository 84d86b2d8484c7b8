package main

import (
	"context"
	"os"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-tzsmmpay/internal/config"
	"github.com/noah-isme/toko-tzsmmpay/internal/events"
	"github.com/noah-isme/toko-tzsmmpay/internal/obs"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("component", "worker").Logger()

	if cfg.RedisURL == "" {
		logger.Fatal().Msg("REDIS_URL is required for the worker")
	}
	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}

	consumer := events.Consumer{
		Handlers: map[string]events.Handler{
			events.TopicOrderPaid:     logFulfilment,
			events.TopicPaymentFailed: logFailure,
		},
		Logger: logger,
	}

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.AsynqConcurrency,
		BaseContext: func() context.Context { return logger.WithContext(context.Background()) },
		ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
			logger.Error().Err(err).Str("task", task.Type()).Msg("task failed")
		}),
	})

	logger.Info().Int("concurrency", cfg.AsynqConcurrency).Strs("topics", events.DefaultTopics()).Msg("worker starting")
	if err := srv.Run(consumer.Mux(events.DefaultTopics()...)); err != nil {
		logger.Error().Err(err).Msg("worker stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("worker shutdown complete")
}

// logFulfilment is the hook point for post-payment work such as stock
// allocation or shipping labels.
func logFulfilment(ctx context.Context, ev events.Event) error {
	zerolog.Ctx(ctx).Info().RawJSON("payload", ev.Payload).Msg("order paid, ready for fulfilment")
	return nil
}

func logFailure(ctx context.Context, ev events.Event) error {
	zerolog.Ctx(ctx).Warn().RawJSON("payload", ev.Payload).Msg("payment failed")
	return nil
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}
