package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/kvolkov/hhnotify/internal/database/testutil"
	"github.com/kvolkov/hhnotify/internal/models"
	"github.com/kvolkov/hhnotify/internal/services"
)

type sentMessage struct {
	telegramID int64
	text       string
}

type fakeSender struct {
	mu        sync.Mutex
	sent      []sentMessage
	failTexts map[string]bool
}

func (f *fakeSender) SendMessage(_ context.Context, telegramID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failTexts[text] {
		return errors.New("telegram unavailable")
	}
	f.sent = append(f.sent, sentMessage{telegramID: telegramID, text: text})
	return nil
}

func (f *fakeSender) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentMessage, len(f.sent))
	copy(out, f.sent)
	return out
}

func newDeliveryFixture(t *testing.T) (*gorm.DB, *services.NotificationService, *fakeSender, *DeliveryWorker) {
	t.Helper()
	db := testutil.MustOpenTestDB(t)
	store, err := services.NewNotificationService(db)
	require.NoError(t, err)
	sender := &fakeSender{failTexts: map[string]bool{}}
	worker, err := NewDeliveryWorker(store, sender)
	require.NoError(t, err)
	return db, store, sender, worker
}

func queueNotification(t *testing.T, db *gorm.DB, userID, kind, text string, isRejection bool, createdAt time.Time) models.Notification {
	t.Helper()
	row := models.Notification{
		BaseModel:   models.BaseModel{CreatedAt: createdAt},
		UserID:      userID,
		Kind:        kind,
		Text:        text,
		IsRejection: isRejection,
	}
	require.NoError(t, db.Create(&row).Error)
	return row
}

type blockingSender struct {
	fakeSender
	started chan struct{}
	release chan struct{}
}

func (b *blockingSender) SendMessage(ctx context.Context, telegramID int64, text string) error {
	b.started <- struct{}{}
	<-b.release
	return b.fakeSender.SendMessage(ctx, telegramID, text)
}

func TestDeliveryWorkerSuppressesMutedRejections(t *testing.T) {
	db, _, sender, worker := newDeliveryFixture(t)

	user := models.User{TelegramID: 10, MuteRejections: true}
	require.NoError(t, db.Create(&user).Error)

	base := time.Now().Add(-time.Minute).UTC()
	queueNotification(t, db, user.ID, models.NotificationKindMessage, "rejection text", true, base)
	queueNotification(t, db, user.ID, models.NotificationKindInvitation, "invitation text", false, base.Add(time.Second))

	require.NoError(t, worker.RunOnce(context.Background()))

	sent := sender.messages()
	require.Len(t, sent, 1)
	require.Equal(t, "invitation text", sent[0].text)
	require.EqualValues(t, 10, sent[0].telegramID)

	// The muted rejection is consumed, not left pending.
	var unsent int64
	require.NoError(t, db.Model(&models.Notification{}).Where("sent = ?", false).Count(&unsent).Error)
	require.EqualValues(t, 0, unsent)
}

func TestDeliveryWorkerDeliversRejectionsWhenUnmuted(t *testing.T) {
	db, _, sender, worker := newDeliveryFixture(t)

	user := models.User{TelegramID: 11, MuteRejections: false}
	require.NoError(t, db.Create(&user).Error)

	queueNotification(t, db, user.ID, models.NotificationKindMessage, "rejection text", true, time.Now().UTC())

	require.NoError(t, worker.RunOnce(context.Background()))
	require.Len(t, sender.messages(), 1)
}

func TestDeliveryWorkerOldestFirst(t *testing.T) {
	db, _, sender, worker := newDeliveryFixture(t)

	user := models.User{TelegramID: 12, MuteRejections: true}
	require.NoError(t, db.Create(&user).Error)

	base := time.Now().Add(-time.Hour).UTC()
	queueNotification(t, db, user.ID, models.NotificationKindInvitation, "second", false, base.Add(time.Minute))
	queueNotification(t, db, user.ID, models.NotificationKindMessage, "first", false, base)

	require.NoError(t, worker.RunOnce(context.Background()))

	sent := sender.messages()
	require.Len(t, sent, 2)
	require.Equal(t, "first", sent[0].text)
	require.Equal(t, "second", sent[1].text)
}

func TestDeliveryWorkerRetriesFailedSends(t *testing.T) {
	db, _, sender, worker := newDeliveryFixture(t)

	user := models.User{TelegramID: 13, MuteRejections: true}
	require.NoError(t, db.Create(&user).Error)

	base := time.Now().Add(-time.Minute).UTC()
	queueNotification(t, db, user.ID, models.NotificationKindMessage, "flaky", false, base)
	queueNotification(t, db, user.ID, models.NotificationKindInvitation, "healthy", false, base.Add(time.Second))

	sender.failTexts["flaky"] = true
	err := worker.RunOnce(context.Background())
	require.Error(t, err, "cycle reports the failed send")

	// The failure did not block the rest of the batch.
	sent := sender.messages()
	require.Len(t, sent, 1)
	require.Equal(t, "healthy", sent[0].text)

	var unsent int64
	require.NoError(t, db.Model(&models.Notification{}).Where("sent = ?", false).Count(&unsent).Error)
	require.EqualValues(t, 1, unsent)

	delete(sender.failTexts, "flaky")
	require.NoError(t, worker.RunOnce(context.Background()))

	sent = sender.messages()
	require.Len(t, sent, 2)
	require.Equal(t, "flaky", sent[1].text)
}

func TestDeliveryWorkerConcurrentCyclesDeliverOnce(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	store, err := services.NewNotificationService(db)
	require.NoError(t, err)

	sender := &blockingSender{
		fakeSender: fakeSender{failTexts: map[string]bool{}},
		started:    make(chan struct{}, 2),
		release:    make(chan struct{}),
	}
	worker, err := NewDeliveryWorker(store, sender)
	require.NoError(t, err)

	user := models.User{TelegramID: 14, MuteRejections: true}
	require.NoError(t, db.Create(&user).Error)
	queueNotification(t, db, user.ID, models.NotificationKindInvitation, "single", false, time.Now().UTC())

	var wg sync.WaitGroup
	cycleErrs := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		cycleErrs <- worker.RunOnce(context.Background())
	}()
	<-sender.started

	// A second cycle arriving while the first is still mid-send must not
	// re-deliver the row the first cycle has listed but not yet marked.
	wg.Add(1)
	go func() {
		defer wg.Done()
		cycleErrs <- worker.RunOnce(context.Background())
	}()

	close(sender.release)
	wg.Wait()
	close(cycleErrs)
	for err := range cycleErrs {
		require.NoError(t, err)
	}

	require.Len(t, sender.messages(), 1)

	var unsent int64
	require.NoError(t, db.Model(&models.Notification{}).Where("sent = ?", false).Count(&unsent).Error)
	require.EqualValues(t, 0, unsent)
}
