// Package service contains the background machinery around the account
// flows: notification dispatch and delivery, SMTP mail and the token sweep.
package service

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// TaskNotificationDeliver is the asynq task type every notification is
// enqueued under.
const TaskNotificationDeliver = "notification:deliver"

const notificationQueue = "mail"

// NotificationKind selects the mail template a job renders.
type NotificationKind string

const (
	NotifyRegistrationVerify NotificationKind = "registration_verify"
	NotifySecurityPin        NotificationKind = "security_pin"
	NotifyWelcome            NotificationKind = "welcome"
	NotifyTFACode            NotificationKind = "tfa_code"
	NotifyResetLink          NotificationKind = "reset_link"
	NotifyResetDone          NotificationKind = "reset_done"
	NotifyPasswordChanged    NotificationKind = "password_changed"
	NotifyEmailChangeNotice  NotificationKind = "email_change_notice"
	NotifyEmailChangeVerify  NotificationKind = "email_change_verify"
	NotifyEmailChangeDone    NotificationKind = "email_change_done"
	NotifyTFAToggled         NotificationKind = "tfa_toggled"
	NotifyDeletionCode       NotificationKind = "deletion_code"
	NotifyDeletionDone       NotificationKind = "deletion_done"
)

// Notification is the durable payload of one delivery job.
type Notification struct {
	Kind      NotificationKind  `json:"kind"`
	Recipient string            `json:"recipient"`
	Payload   map[string]string `json:"payload"`
}

// RetryPolicy is handed to the dispatcher explicitly instead of living in
// worker annotations. Attempts beyond MaxAttempts drop the job with a logged
// failure, never surfacing to the original requester.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff: func(int) time.Duration {
			return time.Minute
		},
	}
}

// Dispatcher enqueues notification jobs for asynchronous, at-least-once
// delivery. Callers never wait for the send.
type Dispatcher interface {
	Enqueue(kind NotificationKind, recipient string, payload map[string]string) (jobID string, err error)
}

// AsynqDispatcher queues notifications through redis.
type AsynqDispatcher struct {
	client *asynq.Client
	retry  RetryPolicy
}

func NewDispatcher(redisAddr string, retry RetryPolicy) *AsynqDispatcher {
	return &AsynqDispatcher{
		client: asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr}),
		retry:  retry,
	}
}

func (d *AsynqDispatcher) Enqueue(kind NotificationKind, recipient string, payload map[string]string) (string, error) {
	b, err := json.Marshal(Notification{
		Kind:      kind,
		Recipient: recipient,
		Payload:   payload,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode notification, %w", err)
	}

	info, err := d.client.Enqueue(
		asynq.NewTask(TaskNotificationDeliver, b),
		asynq.Queue(notificationQueue),
		asynq.MaxRetry(d.retry.MaxAttempts),
	)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue notification, %w", err)
	}

	return info.ID, nil
}

func (d *AsynqDispatcher) Close() error {
	return d.client.Close()
}
