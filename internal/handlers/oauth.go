package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kvolkov/hhnotify/internal/hh"
	"github.com/kvolkov/hhnotify/internal/services"
	apperrors "github.com/kvolkov/hhnotify/pkg/errors"
	"github.com/kvolkov/hhnotify/pkg/logger"
)

const linkedResponseText = "Ваш аккаунт hh.ru успешно привязан. Можно закрыть это окно и вернуться в бота."

// OAuthHandler drives the hh.ru account linking flow: /hh/auth/start bounces
// the user to hh.ru with their Telegram id in the OAuth state, and the
// callback exchanges the code, stores the tokens and subscribes to webhooks.
type OAuthHandler struct {
	users  *services.UserService
	events *services.EventLogService
	client *hh.Client
	log    *zap.Logger

	// webhookCallbackURL is the publicly reachable webhook endpoint handed
	// to hh.ru during subscription.
	webhookCallbackURL string
}

// NewOAuthHandler constructs an OAuthHandler.
func NewOAuthHandler(users *services.UserService, events *services.EventLogService, client *hh.Client, webhookCallbackURL string) (*OAuthHandler, error) {
	if users == nil {
		return nil, errors.New("oauth handler: user service is required")
	}
	if events == nil {
		return nil, errors.New("oauth handler: event log service is required")
	}
	if client == nil {
		return nil, errors.New("oauth handler: hh client is required")
	}
	if webhookCallbackURL == "" {
		return nil, errors.New("oauth handler: webhook callback url is required")
	}
	return &OAuthHandler{
		users:              users,
		events:             events,
		client:             client,
		log:                logger.WithModule("oauth"),
		webhookCallbackURL: webhookCallbackURL,
	}, nil
}

// AuthStart handles GET /hh/auth/start?tg_id=N with a redirect to hh.ru.
func (h *OAuthHandler) AuthStart(c *gin.Context) {
	tgID := c.Query("tg_id")
	if _, err := strconv.ParseInt(tgID, 10, 64); err != nil {
		c.String(http.StatusBadRequest, "tg_id query parameter is required")
		return
	}

	c.Redirect(http.StatusFound, h.client.AuthCodeURL(tgID))
}

// Callback handles GET /hh/oauth/callback. Responses are plain text since
// the page is rendered inside the hh.ru browser window, not consumed by API
// clients.
func (h *OAuthHandler) Callback(c *gin.Context) {
	ctx := c.Request.Context()

	if oauthErr := c.Query("error"); oauthErr != "" {
		auditEvent(h.log, h.events.Warning(ctx, "OAuth flow denied by hh.ru", map[string]any{"error": oauthErr}))
		c.String(http.StatusBadRequest, "Авторизация hh.ru не удалась: "+oauthErr)
		return
	}

	code := c.Query("code")
	state := c.Query("state")
	if code == "" || state == "" {
		c.String(http.StatusBadRequest, "code and state query parameters are required")
		return
	}

	telegramID, err := strconv.ParseInt(state, 10, 64)
	if err != nil {
		c.String(http.StatusBadRequest, "state is not a Telegram chat id")
		return
	}

	token, err := h.client.ExchangeCode(ctx, code)
	if err != nil {
		appErr := apperrors.ErrOAuthExchange.WithInternal(err)
		h.log.Error("oauth code exchange failed", zap.Int64("telegram_id", telegramID), zap.Error(appErr))
		auditEvent(h.log, h.events.Error(ctx, appErr.Message, map[string]any{
			"code":        appErr.Code,
			"telegram_id": telegramID,
		}))
		c.String(appErr.StatusCode, "Не удалось завершить авторизацию hh.ru. Попробуйте ещё раз через /start.")
		return
	}

	account, err := h.client.Me(ctx, token.AccessToken)
	if err != nil {
		h.log.Error("failed to fetch hh account", zap.Int64("telegram_id", telegramID), zap.Error(err))
		c.String(http.StatusInternalServerError, "Не удалось получить профиль hh.ru. Попробуйте ещё раз через /start.")
		return
	}

	creds := services.HHCredentials{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
	}
	if !token.Expiry.IsZero() {
		expiry := token.Expiry.UTC()
		creds.ExpiresAt = &expiry
	}

	if _, err := h.users.LinkHHAccount(ctx, telegramID, account.ID.String(), creds); err != nil {
		h.log.Error("failed to link hh account", zap.Int64("telegram_id", telegramID), zap.Error(err))
		c.String(http.StatusInternalServerError, "Не удалось сохранить привязку аккаунта. Попробуйте ещё раз через /start.")
		return
	}

	// Without the subscription half the product does not work, so a failure
	// here is a hard error even though the tokens are already stored.
	if err := h.client.SubscribeWebhooks(ctx, token.AccessToken, h.webhookCallbackURL); err != nil {
		appErr := apperrors.ErrWebhookSubscribe.WithInternal(err)
		h.log.Error("webhook subscription failed", zap.Int64("telegram_id", telegramID), zap.Error(appErr))
		auditEvent(h.log, h.events.Error(ctx, appErr.Message, map[string]any{
			"code":        appErr.Code,
			"telegram_id": telegramID,
			"hh_user_id":  account.ID.String(),
		}))
		c.String(appErr.StatusCode, "Аккаунт привязан, но подписка на события hh.ru не удалась. Попробуйте ещё раз через /start.")
		return
	}

	auditEvent(h.log, h.events.Info(ctx, "HH account linked", map[string]any{
		"telegram_id": telegramID,
		"hh_user_id":  account.ID.String(),
	}))
	c.String(http.StatusOK, linkedResponseText)
}
