package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"digital-goods-marketplace/internal/model"
	"digital-goods-marketplace/internal/repository"

	"github.com/google/uuid"
)

// Publisher fans a notification out to other consumers (mail, push).
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
}

type Notice struct {
	UserID  string
	Type    model.NotificationType
	Title   string
	Message string
	Link    string
}

type NotificationService interface {
	// Notify never fails the caller; errors are logged.
	Notify(ctx context.Context, notices ...Notice)
	List(ctx context.Context, userID string, limit int) ([]*model.Notification, error)
}

type notificationServiceImpl struct {
	notificationRepo repository.NotificationRepository
	publisher        Publisher
	logger           *slog.Logger
}

// NewNotificationService accepts a nil publisher when no broker is configured.
func NewNotificationService(notificationRepo repository.NotificationRepository, publisher Publisher) NotificationService {
	return &notificationServiceImpl{
		notificationRepo: notificationRepo,
		publisher:        publisher,
		logger:           slog.Default().With("component", "notifications"),
	}
}

type notificationEvent struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Link      string    `json:"link,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *notificationServiceImpl) Notify(ctx context.Context, notices ...Notice) {
	for _, n := range notices {
		if n.UserID == "" {
			continue
		}

		row := &model.Notification{
			ID:      uuid.NewString(),
			UserID:  n.UserID,
			Type:    n.Type,
			Title:   n.Title,
			Message: n.Message,
			Link:    n.Link,
		}
		if err := s.notificationRepo.Create(ctx, row); err != nil {
			s.logger.Error("store notification", "user_id", n.UserID, "type", n.Type, "error", err)
			continue
		}

		if s.publisher == nil {
			continue
		}
		body, err := json.Marshal(notificationEvent{
			ID:        row.ID,
			UserID:    row.UserID,
			Type:      string(row.Type),
			Title:     row.Title,
			Message:   row.Message,
			Link:      row.Link,
			CreatedAt: row.CreatedAt,
		})
		if err != nil {
			s.logger.Error("encode notification", "id", row.ID, "error", err)
			continue
		}
		if err := s.publisher.Publish(ctx, "notify."+strings.ToLower(string(n.Type)), body); err != nil {
			s.logger.Warn("publish notification", "id", row.ID, "error", err)
		}
	}
}

func (s *notificationServiceImpl) List(ctx context.Context, userID string, limit int) ([]*model.Notification, error) {
	return s.notificationRepo.ListByUser(ctx, userID, limit)
}
