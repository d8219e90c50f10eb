package notify

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Enqueuer submits delivery work to the background queue.
type Enqueuer interface {
	EnqueueNotificationEmail(ctx context.Context, to, subject, body string) error
}

// Service wraps the repository and hands delivery off to the worker.
type Service struct {
	repo     Repository
	enqueuer Enqueuer
	logger   *slog.Logger
}

// NewService constructs a Service. The enqueuer may be nil when no worker is
// deployed; notifications then stay in-app only.
func NewService(repo Repository, enqueuer Enqueuer, logger *slog.Logger) *Service {
	return &Service{repo: repo, enqueuer: enqueuer, logger: logger}
}

// Notify stores an inbox entry and queues an email for delivery.
func (s *Service) Notify(ctx context.Context, userID, email, kind, title, body string) error {
	n := &Notification{
		ID:     uuid.NewString(),
		UserID: userID,
		Kind:   kind,
		Title:  title,
		Body:   body,
	}
	if err := s.repo.Create(ctx, n); err != nil {
		return err
	}
	if s.enqueuer != nil && email != "" {
		if err := s.enqueuer.EnqueueNotificationEmail(ctx, email, title, body); err != nil && s.logger != nil {
			// Delivery is best effort; the inbox entry already exists.
			s.logger.Warn("enqueue notification email", slog.Any("error", err))
		}
	}
	return nil
}

// List returns the principal's notifications.
func (s *Service) List(ctx context.Context, userID string, unreadOnly bool, limit, offset int) ([]Notification, error) {
	return s.repo.ListForUser(ctx, userID, unreadOnly, limit, offset)
}

// MarkRead marks one of the principal's notifications read.
func (s *Service) MarkRead(ctx context.Context, userID, id string) error {
	return s.repo.MarkRead(ctx, userID, id)
}

// MarkAllRead marks the principal's inbox read.
func (s *Service) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	return s.repo.MarkAllRead(ctx, userID)
}
