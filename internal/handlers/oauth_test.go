package handlers

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/kvolkov/hhnotify/internal/database/testutil"
	"github.com/kvolkov/hhnotify/internal/hh"
	"github.com/kvolkov/hhnotify/internal/models"
	"github.com/kvolkov/hhnotify/internal/services"
)

func newOAuthFixture(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.MustOpenTestDB(t)
	users, err := services.NewUserService(db)
	require.NoError(t, err)
	events, err := services.NewEventLogService(db)
	require.NoError(t, err)

	client, err := hh.NewClient(hh.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		UserAgent:    "hhnotify-test/1.0",
		RedirectURL:  "https://notify.example.com/hh/oauth/callback",
	})
	require.NoError(t, err)

	handler, err := NewOAuthHandler(users, events, client, "https://notify.example.com/hh/webhook")
	require.NoError(t, err)

	router := gin.New()
	router.GET("/hh/auth/start", handler.AuthStart)
	router.GET("/hh/oauth/callback", handler.Callback)
	return router
}

func TestOAuthAuthStartRedirects(t *testing.T) {
	router := newOAuthFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/hh/auth/start?tg_id=777", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)

	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "hh.ru", location.Host)
	require.Equal(t, "/oauth/authorize", location.Path)
	require.Equal(t, "777", location.Query().Get("state"))
	require.Equal(t, "client", location.Query().Get("client_id"))
}

func TestOAuthAuthStartRequiresTelegramID(t *testing.T) {
	router := newOAuthFixture(t)

	for _, target := range []string{"/hh/auth/start", "/hh/auth/start?tg_id=abc"} {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	}
}

func TestOAuthCallbackValidation(t *testing.T) {
	router := newOAuthFixture(t)

	// Denied consent comes back as an error parameter.
	req := httptest.NewRequest(http.MethodGet, "/hh/oauth/callback?error=access_denied", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "access_denied")

	// Missing code or state is a bad request.
	req = httptest.NewRequest(http.MethodGet, "/hh/oauth/callback?code=abc", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// State must be a Telegram chat id.
	req = httptest.NewRequest(http.MethodGet, "/hh/oauth/callback?code=abc&state=not-a-number", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOAuthCallbackExchangeFailure(t *testing.T) {
	gin.SetMode(gin.TestMode)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"server_error"}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	db := testutil.MustOpenTestDB(t)
	users, err := services.NewUserService(db)
	require.NoError(t, err)
	events, err := services.NewEventLogService(db)
	require.NoError(t, err)

	client, err := hh.NewClient(hh.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		UserAgent:    "hhnotify-test/1.0",
		RedirectURL:  "https://notify.example.com/hh/oauth/callback",
		APIBaseURL:   srv.URL,
		OAuthBaseURL: srv.URL,
	})
	require.NoError(t, err)

	handler, err := NewOAuthHandler(users, events, client, "https://notify.example.com/hh/webhook")
	require.NoError(t, err)

	router := gin.New()
	router.GET("/hh/oauth/callback", handler.Callback)

	req := httptest.NewRequest(http.MethodGet, "/hh/oauth/callback?code=abc&state=777", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)

	// The failure is recorded in log_events with its error code.
	var row models.LogEvent
	require.NoError(t, db.Where("level = ?", "ERROR").First(&row).Error)
	require.Contains(t, row.Message, "exchange")
	require.Contains(t, string(row.Details), "OAUTH_EXCHANGE_FAILED")
}
