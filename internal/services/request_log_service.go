package services

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/kvolkov/hhnotify/internal/models"
)

// RequestLogService records every inbound bot message for auditing.
type RequestLogService struct {
	db *gorm.DB
}

// NewRequestLogService constructs a RequestLogService.
func NewRequestLogService(db *gorm.DB) (*RequestLogService, error) {
	if db == nil {
		return nil, errors.New("request log service: db is required")
	}
	return &RequestLogService{db: db}, nil
}

// Record appends an inbound message. The user reference is resolved by
// Telegram chat id when the chat is already known; messages from unknown
// chats are still logged, just without an owner.
func (s *RequestLogService) Record(ctx context.Context, telegramID int64, text string) error {
	ctx = ensureContext(ctx)

	row := models.RequestLog{
		TelegramID:  telegramID,
		MessageText: text,
	}

	var user models.User
	err := s.db.WithContext(ctx).
		Select("id").
		Where("telegram_id = ?", telegramID).
		First(&user).Error
	switch {
	case err == nil:
		row.UserID = &user.ID
	case errors.Is(err, gorm.ErrRecordNotFound):
		// keep UserID nil
	default:
		return fmt.Errorf("request log service: resolve user: %w", err)
	}

	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("request log service: record: %w", err)
	}
	return nil
}
