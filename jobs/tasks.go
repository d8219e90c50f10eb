// Package jobs defines the background task types and the Asynq worker that
// processes them.
package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/team-kenya/harambee/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeSendEmail is the task type for sending transactional emails,
	// primarily OTP login codes.
	TaskTypeSendEmail = "mail:send"
	// TaskTypeSessionCleanup sweeps expired session rows. Scheduled hourly.
	TaskTypeSessionCleanup = "sessions:cleanup"
)

// SendEmailPayload describes the information required to send an email.
type SendEmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Mailer delivers a single message.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SessionSweeper removes session rows past their expiry.
type SessionSweeper interface {
	DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error)
}

// NewSendEmailTask constructs an Asynq task.
func NewSendEmailTask(payload SendEmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data), nil
}

// NewSessionCleanupTask constructs the periodic sweep task.
func NewSessionCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskTypeSessionCleanup, nil)
}

// NewSendEmailHandler returns the handler for TaskTypeSendEmail.
func NewSendEmailHandler(mailer Mailer, logger *slog.Logger, metrics *jobmetrics.Metrics) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		tracker := metrics.Track(TaskTypeSendEmail)
		var payload SendEmailPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return tracker.End(asynq.SkipRetry)
		}
		if err := mailer.Send(ctx, payload.To, payload.Subject, payload.Body); err != nil {
			logger.Warn("send email", slog.String("to", payload.To), slog.Any("error", err))
			return tracker.End(err)
		}
		return tracker.End(nil)
	}
}

// NewSessionCleanupHandler returns the handler for TaskTypeSessionCleanup.
func NewSessionCleanupHandler(sweeper SessionSweeper, logger *slog.Logger, metrics *jobmetrics.Metrics) asynq.HandlerFunc {
	return func(ctx context.Context, _ *asynq.Task) error {
		tracker := metrics.Track(TaskTypeSessionCleanup)
		removed, err := sweeper.DeleteExpiredSessions(ctx, time.Now().UTC())
		if err != nil {
			return tracker.End(err)
		}
		if removed > 0 {
			logger.Info("expired sessions removed", slog.Int64("count", removed))
		}
		return tracker.End(nil)
	}
}
