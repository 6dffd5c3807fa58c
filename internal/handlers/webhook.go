package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/kvolkov/hhnotify/internal/classify"
	"github.com/kvolkov/hhnotify/internal/hh"
	"github.com/kvolkov/hhnotify/internal/models"
	"github.com/kvolkov/hhnotify/internal/services"
	apperrors "github.com/kvolkov/hhnotify/pkg/errors"
	"github.com/kvolkov/hhnotify/pkg/logger"
	"github.com/kvolkov/hhnotify/pkg/metrics"
)

// WebhookHandler ingests push events from hh.ru. The endpoint answers 200
// with a short plain-text body on every reachable path except malformed
// payloads and persistence failures: a non-2xx for a valid event would only
// provoke an upstream retry storm.
type WebhookHandler struct {
	users         *services.UserService
	notifications *services.NotificationService
	events        *services.EventLogService
	classifier    *classify.Classifier
	log           *zap.Logger
}

// NewWebhookHandler constructs a WebhookHandler.
func NewWebhookHandler(db *gorm.DB, events *services.EventLogService, classifier *classify.Classifier) (*WebhookHandler, error) {
	users, err := services.NewUserService(db)
	if err != nil {
		return nil, err
	}
	notifications, err := services.NewNotificationService(db)
	if err != nil {
		return nil, err
	}
	if events == nil {
		return nil, errors.New("webhook handler: event log service is required")
	}
	if classifier == nil {
		return nil, errors.New("webhook handler: classifier is required")
	}
	return &WebhookHandler{
		users:         users,
		notifications: notifications,
		events:        events,
		classifier:    classifier,
		log:           logger.WithModule("webhook"),
	}, nil
}

// webhookEvent is the envelope hh.ru posts to the callback URL.
type webhookEvent struct {
	ID             string         `json:"id" validate:"required"`
	SubscriptionID string         `json:"subscription_id" validate:"required"`
	ActionType     string         `json:"action_type" validate:"required"`
	UserID         string         `json:"user_id" validate:"required"`
	Payload        map[string]any `json:"payload"`
}

// Receive handles POST /hh/webhook.
func (h *WebhookHandler) Receive(c *gin.Context) {
	var event webhookEvent
	if !bindAndValidate(c, &event) {
		metrics.WebhookEvents.WithLabelValues("unknown", "invalid").Inc()
		return
	}

	ctx := c.Request.Context()
	auditEvent(h.log, h.events.Info(ctx, "Incoming HH webhook", map[string]any{
		"action_type": event.ActionType,
		"user_id":     event.UserID,
	}))

	user, err := h.users.FindByHHUserID(ctx, event.UserID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			// Not a caller failure: acknowledge so the platform does not retry.
			h.log.Warn("webhook for unknown hh user", zap.String("hh_user_id", event.UserID))
			auditEvent(h.log, h.events.Warning(ctx, "Webhook for unknown hh_user_id", map[string]any{
				"hh_user_id": event.UserID,
			}))
			metrics.WebhookEvents.WithLabelValues(event.ActionType, "unknown_user").Inc()
			c.String(http.StatusOK, "unknown user")
			return
		}
		h.log.Error("webhook user lookup failed", zap.Error(err))
		metrics.WebhookEvents.WithLabelValues(event.ActionType, "error").Inc()
		c.String(http.StatusInternalServerError, "internal error")
		return
	}

	input, ok := h.buildNotification(user.ID, event)
	if !ok {
		metrics.WebhookEvents.WithLabelValues(event.ActionType, "ignored").Inc()
		c.String(http.StatusOK, "ignored")
		return
	}

	// No dedup check here: the platform delivers each event once, and a rare
	// duplicate row beats blocking the ack on a store probe.
	if _, err := h.notifications.Create(ctx, input); err != nil {
		h.log.Error("failed to queue webhook notification", zap.Error(err))
		metrics.WebhookEvents.WithLabelValues(event.ActionType, "error").Inc()
		c.String(http.StatusInternalServerError, "internal error")
		return
	}

	metrics.WebhookEvents.WithLabelValues(event.ActionType, "created").Inc()
	metrics.NotificationsCreated.WithLabelValues("webhook", input.Kind).Inc()
	c.String(http.StatusOK, "ok")
}

func (h *WebhookHandler) buildNotification(userID string, event webhookEvent) (services.CreateNotificationInput, bool) {
	switch event.ActionType {
	case hh.ActionNewResponseOrInvitation:
		vacancyID := payloadString(event.Payload, "vacancy_id")
		resumeID := payloadString(event.Payload, "resume_id")
		objectID := payloadString(event.Payload, "topic_id", "chat_id")

		return services.CreateNotificationInput{
			UserID:     userID,
			Kind:       models.NotificationKindInvitation,
			HHObjectID: objectID,
			Text: "📩 Новое приглашение / отклик на hh.ru\n" +
				"vacancy_id: " + vacancyID + "\n" +
				"resume_id: " + resumeID,
			IsRejection: false,
		}, true

	case hh.ActionNegotiationStateChange:
		fromState := payloadString(event.Payload, "from_state")
		toState := payloadString(event.Payload, "to_state")
		vacancyID := payloadString(event.Payload, "vacancy_id")
		resumeID := payloadString(event.Payload, "resume_id")
		transferredAt := payloadString(event.Payload, "transferred_at")
		objectID := payloadString(event.Payload, "topic_id")

		return services.CreateNotificationInput{
			UserID:     userID,
			Kind:       models.NotificationKindStateChange,
			HHObjectID: objectID,
			Text: "📂 Изменение этапа отклика на hh.ru\n" +
				"vacancy_id: " + vacancyID + "\n" +
				"resume_id: " + resumeID + "\n" +
				fromState + " ➜ " + toState + " (" + transferredAt + ")",
			IsRejection: h.classifier.State(toState),
		}, true
	}

	return services.CreateNotificationInput{}, false
}

// payloadString extracts the first present key from the payload, rendering
// numbers without a fractional part (webhook payloads carry ids as either).
func payloadString(payload map[string]any, keys ...string) string {
	for _, key := range keys {
		value, ok := payload[key]
		if !ok || value == nil {
			continue
		}
		switch v := value.(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		default:
			return fmt.Sprintf("%v", v)
		}
	}
	return ""
}
