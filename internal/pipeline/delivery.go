package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/kvolkov/hhnotify/internal/services"
	"github.com/kvolkov/hhnotify/pkg/logger"
	"github.com/kvolkov/hhnotify/pkg/metrics"
)

const (
	defaultDeliveryInterval = 5 * time.Second
	defaultSendTimeout      = 10 * time.Second
)

// Sender delivers one text message to a Telegram chat. Implemented by the
// telegram adapter; replaced by fakes in tests.
type Sender interface {
	SendMessage(ctx context.Context, telegramID int64, text string) error
}

// DeliveryWorker drains unsent notifications to Telegram. Rejections owned
// by muted users are consumed without delivery. Failed sends stay unsent and
// are retried on the next cycle, giving at-least-once delivery with the
// notifications table as the durable queue.
type DeliveryWorker struct {
	store  *services.NotificationService
	sender Sender

	cron        *cron.Cron
	runMu       sync.Mutex
	interval    time.Duration
	sendTimeout time.Duration
	log         *zap.Logger
}

// DeliveryOption customises the DeliveryWorker.
type DeliveryOption func(*DeliveryWorker)

// WithDeliveryCron injects a preconfigured cron instance, primarily for testing.
func WithDeliveryCron(c *cron.Cron) DeliveryOption {
	return func(w *DeliveryWorker) {
		if c != nil {
			w.cron = c
		}
	}
}

// WithDeliveryInterval overrides the cycle interval.
func WithDeliveryInterval(d time.Duration) DeliveryOption {
	return func(w *DeliveryWorker) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithSendTimeout bounds each individual Telegram send call.
func WithSendTimeout(d time.Duration) DeliveryOption {
	return func(w *DeliveryWorker) {
		if d > 0 {
			w.sendTimeout = d
		}
	}
}

// NewDeliveryWorker constructs a DeliveryWorker with sensible defaults.
func NewDeliveryWorker(store *services.NotificationService, sender Sender, opts ...DeliveryOption) (*DeliveryWorker, error) {
	if store == nil {
		return nil, errors.New("delivery worker: notification service is required")
	}
	if sender == nil {
		return nil, errors.New("delivery worker: sender is required")
	}

	w := &DeliveryWorker{
		store:       store,
		sender:      sender,
		interval:    defaultDeliveryInterval,
		sendTimeout: defaultSendTimeout,
		log:         logger.WithModule("delivery"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.cron == nil {
		// The interval is short enough for a slow send to outlast it, so
		// activations that catch a still-running cycle are skipped.
		w.cron = cron.New(
			cron.WithLogger(cron.DiscardLogger),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		)
	}
	return w, nil
}

// Start schedules the delivery loop. Cycle errors are logged, never fatal.
func (w *DeliveryWorker) Start() error {
	spec := fmt.Sprintf("@every %s", w.interval)
	if _, err := w.cron.AddFunc(spec, func() {
		if err := w.RunOnce(context.Background()); err != nil {
			w.log.Warn("delivery cycle finished with errors", zap.Error(err))
		}
	}); err != nil {
		return err
	}

	w.cron.Start()
	w.log.Info("delivery worker started", zap.Duration("interval", w.interval))
	return nil
}

// Stop halts the scheduler, waiting for a running cycle to complete.
func (w *DeliveryWorker) Stop() context.Context {
	if w.cron == nil {
		return context.Background()
	}
	return w.cron.Stop()
}

// RunOnce executes a single delivery cycle: select unsent oldest-first,
// suppress muted rejections, send the rest, mark delivered rows sent. A
// failure on one notification never blocks the remaining ones; the
// aggregated error is returned for logging only.
func (w *DeliveryWorker) RunOnce(ctx context.Context) error {
	// Cycles never overlap: two concurrent cycles would both list the same
	// unsent rows before either marks them and deliver each one twice.
	w.runMu.Lock()
	defer w.runMu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	pending, err := w.store.ListUnsent(ctx)
	if err != nil {
		return err
	}

	var errs error
	for _, item := range pending {
		notif := item.Notification

		if notif.IsRejection && item.User.MuteRejections {
			// Consumed but never delivered: the mute preference applies
			// retroactively to rejections queued before it was toggled.
			if err := w.store.MarkSent(ctx, notif.ID); err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			metrics.NotificationsDelivered.WithLabelValues("muted").Inc()
			continue
		}

		sendCtx, cancel := context.WithTimeout(ctx, w.sendTimeout)
		sendErr := w.sender.SendMessage(sendCtx, item.User.TelegramID, notif.Text)
		cancel()

		if sendErr != nil {
			metrics.NotificationsDelivered.WithLabelValues("failed").Inc()
			w.log.Warn("notification delivery failed; will retry next cycle",
				zap.String("notification_id", notif.ID),
				zap.Int64("telegram_id", item.User.TelegramID),
				zap.Error(sendErr),
			)
			errs = multierr.Append(errs, sendErr)
			continue
		}

		if err := w.store.MarkSent(ctx, notif.ID); err != nil {
			// Delivered but not marked: the next cycle re-sends. Accepted
			// under at-least-once semantics.
			errs = multierr.Append(errs, err)
			continue
		}
		metrics.NotificationsDelivered.WithLabelValues("sent").Inc()
	}

	return errs
}
