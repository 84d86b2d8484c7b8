package events

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

// Handler processes one decoded event.
type Handler func(ctx context.Context, ev Event) error

// Consumer routes asynq tasks produced by AsynqNotifier to per-topic handlers.
// Topics without a handler are logged and acknowledged.
type Consumer struct {
	Handlers map[string]Handler
	Logger   zerolog.Logger
}

// Mux builds the asynq handler for every topic in topics.
func (c Consumer) Mux(topics ...string) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	for _, topic := range topics {
		mux.HandleFunc(topic, c.ProcessTask)
	}
	return mux
}

// ProcessTask decodes the task and hands the event to its handler. Malformed
// payloads are skipped so asynq does not retry them.
func (c Consumer) ProcessTask(ctx context.Context, task *asynq.Task) error {
	ev, err := DecodeTask(task)
	if err != nil {
		c.Logger.Error().Err(err).Str("task", task.Type()).Msg("drop malformed task")
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	logger := c.Logger.With().
		Str("topic", ev.Topic).
		Str("event_id", ev.ID.String()).
		Str("order_ref", ev.AggregateID).
		Logger()
	ctx = logger.WithContext(ctx)

	handler, ok := c.Handlers[ev.Topic]
	if !ok {
		logger.Info().RawJSON("payload", ev.Payload).Msg("event received")
		return nil
	}
	if err := handler(ctx, ev); err != nil {
		logger.Error().Err(err).Msg("event handler failed")
		return err
	}
	return nil
}
