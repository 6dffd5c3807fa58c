package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/kvolkov/hhnotify/internal/models"
)

// CreateNotificationInput defines attributes required to queue a notification.
type CreateNotificationInput struct {
	UserID      string
	Kind        string
	HHObjectID  string // optional dedup key, empty means none
	Text        string
	IsRejection bool
}

// PendingNotification pairs an unsent notification with its owning user.
type PendingNotification struct {
	Notification models.Notification
	User         models.User
}

// NotificationService owns the durable notification queue: inserts from both
// ingestors and the sent-flag transition driven by the delivery worker.
type NotificationService struct {
	db *gorm.DB
}

// NewNotificationService constructs a NotificationService.
func NewNotificationService(db *gorm.DB) (*NotificationService, error) {
	if db == nil {
		return nil, errors.New("notification service: db is required")
	}
	return &NotificationService{db: db}, nil
}

// Create queues a notification without a dedup check. Used by the webhook
// ingestor, where the upstream platform delivers each event once.
func (s *NotificationService) Create(ctx context.Context, input CreateNotificationInput) (*models.Notification, error) {
	ctx = ensureContext(ctx)
	row, err := buildNotification(input)
	if err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, fmt.Errorf("notification service: create: %w", err)
	}
	return row, nil
}

// CreateIfAbsent queues a notification unless one already exists for the
// same (user, kind, object id) triple. The check and insert run in one
// transaction, which is the sole dedup guard against repeated polling; a
// constraint violation from a concurrent writer is treated as "already
// present". Returns whether a new row was created.
func (s *NotificationService) CreateIfAbsent(ctx context.Context, input CreateNotificationInput) (bool, error) {
	ctx = ensureContext(ctx)
	row, err := buildNotification(input)
	if err != nil {
		return false, err
	}
	if row.HHObjectID == nil {
		return false, errors.New("notification service: dedup requires an object id")
	}

	created := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Notification{}).
			Where("user_id = ? AND kind = ? AND hh_object_id = ?", row.UserID, row.Kind, *row.HHObjectID).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}
		if err := tx.Create(row).Error; err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		if isUniqueConstraintError(err) {
			return false, nil
		}
		return false, fmt.Errorf("notification service: create if absent: %w", err)
	}
	return created, nil
}

// ListUnsent returns all undelivered notifications joined to their owners,
// oldest first, preserving chronological delivery order.
func (s *NotificationService) ListUnsent(ctx context.Context) ([]PendingNotification, error) {
	ctx = ensureContext(ctx)
	var rows []models.Notification
	if err := s.db.WithContext(ctx).
		Joins("User").
		Where("notifications.sent = ?", false).
		Order("notifications.created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("notification service: list unsent: %w", err)
	}

	pending := make([]PendingNotification, 0, len(rows))
	for _, row := range rows {
		if row.User == nil {
			// FK cascade should make this impossible; tolerate and skip.
			continue
		}
		user := *row.User
		row.User = nil
		pending = append(pending, PendingNotification{Notification: row, User: user})
	}
	return pending, nil
}

// MarkSent transitions a notification to sent. The transition is one-way;
// marking an already-sent row is a no-op.
func (s *NotificationService) MarkSent(ctx context.Context, notificationID string) error {
	ctx = ensureContext(ctx)
	if strings.TrimSpace(notificationID) == "" {
		return errors.New("notification service: notification id is required")
	}

	if err := s.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("id = ? AND sent = ?", notificationID, false).
		Update("sent", true).Error; err != nil {
		return fmt.Errorf("notification service: mark sent: %w", err)
	}
	return nil
}

func buildNotification(input CreateNotificationInput) (*models.Notification, error) {
	userID := strings.TrimSpace(input.UserID)
	if userID == "" {
		return nil, errors.New("notification service: user id is required")
	}

	kind := strings.TrimSpace(input.Kind)
	switch kind {
	case models.NotificationKindInvitation, models.NotificationKindMessage, models.NotificationKindStateChange:
	default:
		return nil, fmt.Errorf("notification service: unknown kind %q", input.Kind)
	}

	text := strings.TrimSpace(input.Text)
	if text == "" {
		return nil, errors.New("notification service: text is required")
	}

	return &models.Notification{
		UserID:      userID,
		Kind:        kind,
		HHObjectID:  strPtr(strings.TrimSpace(input.HHObjectID)),
		Text:        text,
		IsRejection: input.IsRejection,
	}, nil
}
