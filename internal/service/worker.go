package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Worker drains the notification queue and hands each job to the mailer.
// Delivery failures are retried by asynq according to the retry policy and
// dropped after the attempt cap.
type Worker struct {
	srv    *asynq.Server
	mailer *Mailer
}

func NewWorker(redisAddr string, retry RetryPolicy, m *Mailer) *Worker {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{Addr: redisAddr},
		asynq.Config{
			Concurrency: 4,
			Queues: map[string]int{
				notificationQueue: 1,
			},
			RetryDelayFunc: func(n int, _ error, _ *asynq.Task) time.Duration {
				return retry.Backoff(n)
			},
		},
	)

	return &Worker{
		srv:    srv,
		mailer: m,
	}
}

func (w *Worker) Start() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskNotificationDeliver, w.handleDeliver)

	zap.L().Info("Notification worker starting")

	return w.srv.Start(mux)
}

func (w *Worker) Shutdown() {
	w.srv.Shutdown()
}

func (w *Worker) handleDeliver(_ context.Context, t *asynq.Task) error {
	var n Notification
	if err := json.Unmarshal(t.Payload(), &n); err != nil {
		// A payload that can't decode will never decode. Don't retry.
		zap.L().Error("Dropping undecodable notification job", zap.Error(err))
		return nil
	}

	if err := w.mailer.Send(&n); err != nil {
		zap.L().Error("Failed to deliver notification",
			zap.String("kind", string(n.Kind)),
			zap.Error(err),
		)

		return fmt.Errorf("failed to deliver %s notification, %w", n.Kind, err)
	}

	zap.L().Debug("Delivered notification", zap.String("kind", string(n.Kind)))
	return nil
}
