// Package telegram hosts the bot transport: the long-poll command surface
// (/start, /settings) and the outbound send path used by the delivery worker.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"
	"go.uber.org/zap"

	"github.com/kvolkov/hhnotify/internal/services"
	apperrors "github.com/kvolkov/hhnotify/pkg/errors"
	"github.com/kvolkov/hhnotify/pkg/logger"
)

// Config holds bot transport settings.
type Config struct {
	Token       string
	PollTimeout time.Duration

	// AuthStartURL is the link handed to users on /start; opening it begins
	// the hh.ru OAuth flow for their chat id.
	AuthStartURL string
}

// Bot wraps telebot with the command handlers and the Sender implementation
// consumed by the delivery worker. Constructed explicitly and passed by
// reference; no package-level state.
type Bot struct {
	cfg Config
	bot *tele.Bot
	log *zap.Logger

	users    *services.UserService
	requests *services.RequestLogService

	runMu   sync.Mutex
	running bool
	done    chan struct{}
}

// New builds the bot and registers command handlers. It does not start polling.
func New(cfg Config, users *services.UserService, requests *services.RequestLogService) (*Bot, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram: token is empty")
	}
	if users == nil {
		return nil, errors.New("telegram: user service is required")
	}
	if requests == nil {
		return nil, errors.New("telegram: request log service is required")
	}

	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
		// getUpdates holds the connection for the poll timeout, so the hard
		// client bound sits above it. Per-send deadlines come from the
		// caller's context in SendMessage, not from this client.
		Client:    &http.Client{Timeout: timeout + 30*time.Second},
		ParseMode: tele.ModeHTML,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: init bot: %w", err)
	}

	bot := &Bot{
		cfg:      cfg,
		bot:      b,
		log:      logger.WithModule("telegram"),
		users:    users,
		requests: requests,
	}
	bot.registerHandlers()
	return bot, nil
}

// Start launches long polling in a background goroutine.
func (b *Bot) Start() {
	b.runMu.Lock()
	defer b.runMu.Unlock()
	if b.running {
		return
	}
	b.running = true
	b.done = make(chan struct{})

	go func() {
		defer close(b.done)
		b.log.Info("polling started")
		b.bot.Start() // blocks until Stop
	}()
}

// Stop halts long polling, waiting up to the context deadline for the poll
// loop to unwind. Shutdown is never blocked on a hanging getUpdates call.
func (b *Bot) Stop(ctx context.Context) error {
	b.runMu.Lock()
	running := b.running
	done := b.done
	b.running = false
	b.runMu.Unlock()

	if !running {
		return nil
	}

	go b.bot.Stop()

	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	t := time.NewTimer(grace)
	defer t.Stop()

	select {
	case <-done:
		b.log.Info("polling stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		b.log.Warn("telegram stop grace elapsed; continuing shutdown")
		return nil
	}
}

// SendMessage delivers one text message to a chat. Implements pipeline.Sender.
func (b *Bot) SendMessage(ctx context.Context, telegramID int64, text string) error {
	return awaitCall(ctx, func() error {
		_, err := b.bot.Send(&tele.Chat{ID: telegramID}, text)
		return err
	})
}

// awaitCall bridges telebot's context-free API. When the context expires
// first, the abandoned call keeps running in its goroutine until the HTTP
// client timeout cuts it off.
func awaitCall(ctx context.Context, call func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() {
		done <- call()
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bot) registerHandlers() {
	b.bot.Handle("/start", b.handleStart)
	b.bot.Handle("/settings", b.handleSettings)
	// Every other inbound message gets the fallback, media included, so all
	// user input lands in the request log.
	b.bot.Handle(tele.OnText, b.handleFallback)
	b.bot.Handle(tele.OnMedia, b.handleFallback)
}

func (b *Bot) handleStart(c tele.Context) error {
	tgID := c.Sender().ID
	ctx := context.Background()
	b.recordRequest(ctx, tgID, c.Text())

	if _, err := b.users.FindOrCreate(ctx, tgID); err != nil {
		b.log.Error("failed to register user on /start", zap.Int64("telegram_id", tgID), zap.Error(err))
		return c.Send("Что-то пошло не так, попробуй ещё раз позже.")
	}

	authLink := fmt.Sprintf("%s?tg_id=%d", b.cfg.AuthStartURL, tgID)
	text := "Привет! 👋\n\n" +
		"Я бот для уведомлений с hh.ru.\n\n" +
		"1. Нажми на ссылку ниже и авторизуйся через hh.ru, чтобы привязать аккаунт:\n" +
		authLink + "\n\n" +
		"2. После привязки я буду присылать уведомления о приглашениях и новых сообщениях.\n" +
		"По умолчанию сообщения с отказами я <b>не присылаю</b>. Это можно настроить командой /settings."
	return c.Send(text)
}

func (b *Bot) handleSettings(c tele.Context) error {
	tgID := c.Sender().ID
	ctx := context.Background()
	b.recordRequest(ctx, tgID, c.Text())

	muted, err := b.users.ToggleMuteRejections(ctx, tgID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return c.Send("Сначала отправь /start.")
		}
		b.log.Error("failed to toggle mute preference", zap.Int64("telegram_id", tgID), zap.Error(err))
		return c.Send("Что-то пошло не так, попробуй ещё раз позже.")
	}

	if muted {
		return c.Send("✅ Режим <b>НЕ уведомлять об отказах</b> включён.\n" +
			"Я буду присылать только приглашения и нейтральные сообщения.")
	}
	return c.Send("ℹ️ Режим <b>НЕ уведомлять об отказах</b> выключен.\n" +
		"Теперь буду присылать и отказные сообщения тоже.")
}

// handleFallback logs any unmatched input and answers with a fixed reply;
// internal errors never leak to the chat.
func (b *Bot) handleFallback(c tele.Context) error {
	tgID := c.Sender().ID
	b.recordRequest(context.Background(), tgID, c.Text())

	return c.Send("Команда не распознана.\n" +
		"Используй /start для привязки hh.ru или /settings для настроек.")
}

func (b *Bot) recordRequest(ctx context.Context, telegramID int64, text string) {
	if err := b.requests.Record(ctx, telegramID, text); err != nil {
		b.log.Warn("failed to record inbound message", zap.Int64("telegram_id", telegramID), zap.Error(err))
	}
}
