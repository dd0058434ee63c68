package queue

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/noteuploader/internal/config"
)

func NewServer(cfg config.RedisConfig, concurrency int) *asynq.Server {
	if concurrency < 1 {
		concurrency = 1
	}
	return asynq.NewServer(RedisOpt(cfg), asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			"default": 1,
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			id, _ := asynq.GetTaskID(ctx)
			retried, _ := asynq.GetRetryCount(ctx)
			slog.Error("task failed", "type", task.Type(), "task_id", id, "retry", retried, "error", err)
		}),
	})
}

// NewMux routes task types to handlers.
func NewMux(handlers map[string]asynq.Handler) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	for taskType, h := range handlers {
		mux.Handle(taskType, h)
	}
	return mux
}
