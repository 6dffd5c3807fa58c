package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/kvolkov/hhnotify/internal/models"
)

// EventLogService writes application events to the standalone log_events
// table, keeping operational breadcrumbs (webhook receipts, OAuth outcomes)
// out of the business tables. It supplements, not replaces, structured logs.
type EventLogService struct {
	db *gorm.DB
}

// NewEventLogService constructs an EventLogService.
func NewEventLogService(db *gorm.DB) (*EventLogService, error) {
	if db == nil {
		return nil, errors.New("event log service: db is required")
	}
	return &EventLogService{db: db}, nil
}

// Log persists one event. Details are optional.
func (s *EventLogService) Log(ctx context.Context, level, message string, details map[string]any) error {
	ctx = ensureContext(ctx)
	level = strings.ToUpper(strings.TrimSpace(level))
	if level == "" {
		level = "INFO"
	}
	if strings.TrimSpace(message) == "" {
		return errors.New("event log service: message is required")
	}

	row := models.LogEvent{Level: level, Message: message}
	if details != nil {
		data, err := json.Marshal(details)
		if err != nil {
			return fmt.Errorf("event log service: marshal details: %w", err)
		}
		row.Details = datatypes.JSON(data)
	}

	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("event log service: log: %w", err)
	}
	return nil
}

// Info persists an INFO event.
func (s *EventLogService) Info(ctx context.Context, message string, details map[string]any) error {
	return s.Log(ctx, "INFO", message, details)
}

// Warning persists a WARNING event.
func (s *EventLogService) Warning(ctx context.Context, message string, details map[string]any) error {
	return s.Log(ctx, "WARNING", message, details)
}

// Error persists an ERROR event.
func (s *EventLogService) Error(ctx context.Context, message string, details map[string]any) error {
	return s.Log(ctx, "ERROR", message, details)
}
