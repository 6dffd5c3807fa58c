package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/kvolkov/hhnotify/internal/classify"
	"github.com/kvolkov/hhnotify/internal/database/testutil"
	"github.com/kvolkov/hhnotify/internal/models"
	"github.com/kvolkov/hhnotify/internal/pipeline"
	"github.com/kvolkov/hhnotify/internal/services"
)

func newWebhookFixture(t *testing.T) (*gorm.DB, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.MustOpenTestDB(t)
	events, err := services.NewEventLogService(db)
	require.NoError(t, err)

	handler, err := NewWebhookHandler(db, events, classify.New(nil))
	require.NoError(t, err)

	router := gin.New()
	router.POST("/hh/webhook", handler.Receive)
	return db, router
}

func linkTestUser(t *testing.T, db *gorm.DB, telegramID int64, hhUserID string) models.User {
	t.Helper()
	token := "token"
	user := models.User{
		TelegramID:     telegramID,
		HHUserID:       &hhUserID,
		HHAccessToken:  &token,
		MuteRejections: true,
	}
	require.NoError(t, db.Create(&user).Error)
	return user
}

func postWebhook(t *testing.T, router *gin.Engine, body map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/hh/webhook", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestWebhookInvitationCreatesNotification(t *testing.T) {
	db, router := newWebhookFixture(t)
	user := linkTestUser(t, db, 1, "hh-1")

	rec := postWebhook(t, router, map[string]any{
		"id":              "evt-1",
		"subscription_id": "sub-1",
		"action_type":     "NEW_RESPONSE_OR_INVITATION_VACANCY",
		"user_id":         "hh-1",
		"payload": map[string]any{
			"vacancy_id": "101",
			"resume_id":  "202",
			"topic_id":   "t-1",
		},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())

	var row models.Notification
	require.NoError(t, db.First(&row).Error)
	require.Equal(t, user.ID, row.UserID)
	require.Equal(t, models.NotificationKindInvitation, row.Kind)
	require.Contains(t, row.Text, "Новое приглашение")
	require.Contains(t, row.Text, "vacancy_id: 101")
	require.Contains(t, row.Text, "resume_id: 202")
	require.False(t, row.IsRejection)
	require.NotNil(t, row.HHObjectID)
	require.Equal(t, "t-1", *row.HHObjectID)
	require.False(t, row.Sent)
}

func TestWebhookRepeatedStateChangesAllInserted(t *testing.T) {
	db, router := newWebhookFixture(t)
	linkTestUser(t, db, 1, "hh-1")

	for i, toState := range []string{"Собеседование", "Отказ"} {
		rec := postWebhook(t, router, map[string]any{
			"id":              "evt-" + string(rune('a'+i)),
			"subscription_id": "sub-1",
			"action_type":     "NEGOTIATION_EMPLOYER_STATE_CHANGE",
			"user_id":         "hh-1",
			"payload": map[string]any{
				"topic_id": "t-1",
				"to_state": toState,
			},
		})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	// Successive state changes on one topic are distinct notifications.
	var count int64
	require.NoError(t, db.Model(&models.Notification{}).Count(&count).Error)
	require.EqualValues(t, 2, count)
}

func TestWebhookStateChangeClassifiesRejection(t *testing.T) {
	db, router := newWebhookFixture(t)
	linkTestUser(t, db, 1, "hh-1")

	rec := postWebhook(t, router, map[string]any{
		"id":              "evt-2",
		"subscription_id": "sub-1",
		"action_type":     "NEGOTIATION_EMPLOYER_STATE_CHANGE",
		"user_id":         "hh-1",
		"payload": map[string]any{
			"vacancy_id":     "101",
			"resume_id":      "202",
			"topic_id":       "t-2",
			"from_state":     "Собеседование",
			"to_state":       "Отказ",
			"transferred_at": "2026-08-25T10:00:00",
		},
	})

	require.Equal(t, http.StatusOK, rec.Code)

	var row models.Notification
	require.NoError(t, db.First(&row).Error)
	require.Equal(t, models.NotificationKindStateChange, row.Kind)
	require.Contains(t, row.Text, "Изменение этапа")
	require.Contains(t, row.Text, "Собеседование ➜ Отказ")
	require.True(t, row.IsRejection)
}

func TestWebhookNumericPayloadIDs(t *testing.T) {
	db, router := newWebhookFixture(t)
	linkTestUser(t, db, 1, "hh-1")

	rec := postWebhook(t, router, map[string]any{
		"id":              "evt-3",
		"subscription_id": "sub-1",
		"action_type":     "NEW_RESPONSE_OR_INVITATION_VACANCY",
		"user_id":         "hh-1",
		"payload": map[string]any{
			"vacancy_id": 101,
			"resume_id":  202,
			"chat_id":    303,
		},
	})

	require.Equal(t, http.StatusOK, rec.Code)

	var row models.Notification
	require.NoError(t, db.First(&row).Error)
	require.Contains(t, row.Text, "vacancy_id: 101")
	require.Contains(t, row.Text, "resume_id: 202")
	require.NotNil(t, row.HHObjectID)
	require.Equal(t, "303", *row.HHObjectID, "numeric chat_id renders without an exponent")
}

func TestWebhookUnknownUserIsAcknowledged(t *testing.T) {
	db, router := newWebhookFixture(t)

	rec := postWebhook(t, router, map[string]any{
		"id":              "evt-4",
		"subscription_id": "sub-1",
		"action_type":     "NEW_RESPONSE_OR_INVITATION_VACANCY",
		"user_id":         "hh-unknown",
		"payload":         map[string]any{},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "unknown user", rec.Body.String())

	var count int64
	require.NoError(t, db.Model(&models.Notification{}).Count(&count).Error)
	require.EqualValues(t, 0, count)

	// The miss still leaves an audit trail.
	var events int64
	require.NoError(t, db.Model(&models.LogEvent{}).Where("level = ?", "WARNING").Count(&events).Error)
	require.EqualValues(t, 1, events)
}

func TestWebhookUnknownActionIsIgnored(t *testing.T) {
	db, router := newWebhookFixture(t)
	linkTestUser(t, db, 1, "hh-1")

	rec := postWebhook(t, router, map[string]any{
		"id":              "evt-5",
		"subscription_id": "sub-1",
		"action_type":     "SOMETHING_ELSE",
		"user_id":         "hh-1",
		"payload":         map[string]any{},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ignored", rec.Body.String())

	var count int64
	require.NoError(t, db.Model(&models.Notification{}).Count(&count).Error)
	require.EqualValues(t, 0, count)
}

type captureSender struct {
	texts []string
	chats []int64
}

func (s *captureSender) SendMessage(_ context.Context, telegramID int64, text string) error {
	s.chats = append(s.chats, telegramID)
	s.texts = append(s.texts, text)
	return nil
}

func TestWebhookToDeliveryEndToEnd(t *testing.T) {
	db, router := newWebhookFixture(t)
	linkTestUser(t, db, 1, "hh-1")

	rec := postWebhook(t, router, map[string]any{
		"id":              "evt-1",
		"subscription_id": "sub-1",
		"action_type":     "NEW_RESPONSE_OR_INVITATION_VACANCY",
		"user_id":         "hh-1",
		"payload": map[string]any{
			"vacancy_id": "1",
			"resume_id":  "2",
			"topic_id":   "t1",
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	store, err := services.NewNotificationService(db)
	require.NoError(t, err)
	sender := &captureSender{}
	worker, err := pipeline.NewDeliveryWorker(store, sender)
	require.NoError(t, err)

	require.NoError(t, worker.RunOnce(context.Background()))

	require.Len(t, sender.texts, 1)
	require.Contains(t, sender.texts[0], "Новое приглашение")
	require.EqualValues(t, 1, sender.chats[0])

	var row models.Notification
	require.NoError(t, db.First(&row).Error)
	require.True(t, row.Sent)
}

func TestWebhookMalformedPayloadRejected(t *testing.T) {
	_, router := newWebhookFixture(t)

	rec := postWebhook(t, router, map[string]any{
		"id":              "evt-6",
		"subscription_id": "sub-1",
		// action_type missing
		"user_id": "hh-1",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/hh/webhook", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")
	raw := httptest.NewRecorder()
	router.ServeHTTP(raw, req)
	require.Equal(t, http.StatusBadRequest, raw.Code)
}
