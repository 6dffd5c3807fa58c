package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/kvolkov/hhnotify/internal/classify"
	"github.com/kvolkov/hhnotify/internal/hh"
	"github.com/kvolkov/hhnotify/internal/models"
	"github.com/kvolkov/hhnotify/internal/services"
	"github.com/kvolkov/hhnotify/pkg/logger"
	"github.com/kvolkov/hhnotify/pkg/metrics"
)

const defaultPollInterval = time.Minute

// messagePrefix marks poll-discovered chat messages in the delivered text.
const messagePrefix = "💬 Новое сообщение на hh.ru:"

// PlatformAPI is the slice of the hh.ru client the poller needs. There is no
// webhook for chat messages, so polling is the only discovery path.
type PlatformAPI interface {
	Negotiations(ctx context.Context, accessToken string) ([]hh.Negotiation, error)
	NegotiationMessages(ctx context.Context, accessToken, negotiationID string) ([]hh.Message, error)
}

// Poller periodically discovers new inbound chat messages for every linked
// user and queues them as notifications. The (user, kind, message id) unique
// guard in the store makes repeated polls idempotent.
type Poller struct {
	users      *services.UserService
	store      *services.NotificationService
	api        PlatformAPI
	classifier *classify.Classifier

	cron     *cron.Cron
	runMu    sync.Mutex
	interval time.Duration
	log      *zap.Logger
}

// PollerOption customises the Poller.
type PollerOption func(*Poller)

// WithPollerCron injects a preconfigured cron instance, primarily for testing.
func WithPollerCron(c *cron.Cron) PollerOption {
	return func(p *Poller) {
		if c != nil {
			p.cron = c
		}
	}
}

// WithPollInterval overrides the polling interval.
func WithPollInterval(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// NewPoller constructs a Poller with sensible defaults.
func NewPoller(users *services.UserService, store *services.NotificationService, api PlatformAPI, classifier *classify.Classifier, opts ...PollerOption) (*Poller, error) {
	if users == nil {
		return nil, errors.New("poller: user service is required")
	}
	if store == nil {
		return nil, errors.New("poller: notification service is required")
	}
	if api == nil {
		return nil, errors.New("poller: platform api is required")
	}
	if classifier == nil {
		return nil, errors.New("poller: classifier is required")
	}

	p := &Poller{
		users:      users,
		store:      store,
		api:        api,
		classifier: classifier,
		interval:   defaultPollInterval,
		log:        logger.WithModule("poller"),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.cron == nil {
		// A slow hh.ru round trip can outlast the interval; activations that
		// catch a still-running cycle are skipped.
		p.cron = cron.New(
			cron.WithLogger(cron.DiscardLogger),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		)
	}
	return p, nil
}

// Start schedules the poll loop. A failed cycle is logged and the loop keeps
// running at the fixed interval.
func (p *Poller) Start() error {
	spec := fmt.Sprintf("@every %s", p.interval)
	if _, err := p.cron.AddFunc(spec, func() {
		if err := p.RunOnce(context.Background()); err != nil {
			metrics.PollCycles.WithLabelValues("error").Inc()
			p.log.Warn("poll cycle finished with errors", zap.Error(err))
			return
		}
		metrics.PollCycles.WithLabelValues("ok").Inc()
	}); err != nil {
		return err
	}

	p.cron.Start()
	p.log.Info("poll ingestor started", zap.Duration("interval", p.interval))
	return nil
}

// Stop halts the scheduler, waiting for a running cycle to complete.
func (p *Poller) Stop() context.Context {
	if p.cron == nil {
		return context.Background()
	}
	return p.cron.Stop()
}

// RunOnce executes one poll cycle across all linked users. A fetch failure
// for one user or one thread skips that unit and carries on; only the store
// listing itself is a cycle-level error.
func (p *Poller) RunOnce(ctx context.Context) error {
	// Cycles never overlap: the store's check-then-insert dedup only holds
	// when at most one poll cycle writes at a time.
	p.runMu.Lock()
	defer p.runMu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	users, err := p.users.ListWithCredentials(ctx)
	if err != nil {
		return err
	}

	for _, user := range users {
		if !user.Linked() {
			continue
		}
		p.pollUser(ctx, user)
	}
	return nil
}

func (p *Poller) pollUser(ctx context.Context, user models.User) {
	token := *user.HHAccessToken

	negotiations, err := p.api.Negotiations(ctx, token)
	if err != nil {
		p.log.Warn("failed to fetch negotiations; skipping user this cycle",
			zap.String("user_id", user.ID),
			zap.Error(err),
		)
		return
	}

	for _, negotiation := range negotiations {
		threadID := negotiation.ObjectID()
		if threadID == "" {
			continue
		}

		msgs, err := p.api.NegotiationMessages(ctx, token, threadID)
		if err != nil {
			p.log.Warn("failed to fetch negotiation messages; skipping thread this cycle",
				zap.String("user_id", user.ID),
				zap.String("negotiation_id", threadID),
				zap.Error(err),
			)
			continue
		}

		for _, msg := range msgs {
			p.ingestMessage(ctx, user, msg)
		}
	}
}

func (p *Poller) ingestMessage(ctx context.Context, user models.User, msg hh.Message) {
	// Outbound messages are not notifications, and hh occasionally returns
	// text-only threads with blank entries.
	text := strings.TrimSpace(msg.Text)
	if msg.Author.Me || text == "" {
		return
	}

	msgID := msg.ID.String()
	if msgID == "" {
		return
	}

	created, err := p.store.CreateIfAbsent(ctx, services.CreateNotificationInput{
		UserID:      user.ID,
		Kind:        models.NotificationKindMessage,
		HHObjectID:  msgID,
		Text:        messagePrefix + "\n\n" + text,
		IsRejection: p.classifier.Message(text),
	})
	if err != nil {
		p.log.Warn("failed to queue chat message notification",
			zap.String("user_id", user.ID),
			zap.String("message_id", msgID),
			zap.Error(err),
		)
		return
	}
	if created {
		metrics.NotificationsCreated.WithLabelValues("poll", models.NotificationKindMessage).Inc()
	}
}
