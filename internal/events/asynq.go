package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// Enqueuer is the subset of *asynq.Client used to publish tasks.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// AsynqNotifier forwards events as asynq tasks whose type is the event topic.
type AsynqNotifier struct {
	Client   Enqueuer
	Queue    string
	MaxRetry int
	Topics   []string
}

func (n AsynqNotifier) Notify(ctx context.Context, ev Event) error {
	if n.Client == nil || !n.accepts(ev.Topic) {
		return nil
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	opts := []asynq.Option{
		asynq.TaskID(ev.ID.String()),
		asynq.Retention(24 * time.Hour),
	}
	if n.Queue != "" {
		opts = append(opts, asynq.Queue(n.Queue))
	}
	if n.MaxRetry > 0 {
		opts = append(opts, asynq.MaxRetry(n.MaxRetry))
	}
	if _, err := n.Client.EnqueueContext(ctx, asynq.NewTask(ev.Topic, body), opts...); err != nil {
		return fmt.Errorf("enqueue %s: %w", ev.Topic, err)
	}
	return nil
}

func (n AsynqNotifier) accepts(topic string) bool {
	if len(n.Topics) == 0 {
		return true
	}
	for _, t := range n.Topics {
		if t == topic {
			return true
		}
	}
	return false
}

// DecodeTask restores the event carried by a task produced by AsynqNotifier.
func DecodeTask(task *asynq.Task) (Event, error) {
	var ev Event
	if err := json.Unmarshal(task.Payload(), &ev); err != nil {
		return Event{}, fmt.Errorf("decode %s task: %w", task.Type(), err)
	}
	return ev, nil
}
