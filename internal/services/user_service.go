package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kvolkov/hhnotify/internal/models"
	apperrors "github.com/kvolkov/hhnotify/pkg/errors"
)

// HHCredentials carries the token material obtained from the hh.ru OAuth
// exchange. RefreshToken and ExpiresAt may be absent.
type HHCredentials struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
}

// UserService is the user directory: lookup and creation of users keyed by
// Telegram chat id, hh.ru account linkage and the mute preference.
type UserService struct {
	db *gorm.DB
}

// NewUserService constructs a UserService.
func NewUserService(db *gorm.DB) (*UserService, error) {
	if db == nil {
		return nil, errors.New("user service: db is required")
	}
	return &UserService{db: db}, nil
}

// FindOrCreate returns the user owning the Telegram chat, creating the
// record on first contact. New users start with MuteRejections enabled.
func (s *UserService) FindOrCreate(ctx context.Context, telegramID int64) (*models.User, error) {
	ctx = ensureContext(ctx)
	if telegramID == 0 {
		return nil, errors.New("user service: telegram id is required")
	}

	user := models.User{TelegramID: telegramID, MuteRejections: true}
	err := s.db.WithContext(ctx).
		Where(models.User{TelegramID: telegramID}).
		Attrs(user).
		FirstOrCreate(&user).Error
	if err != nil {
		// A concurrent first contact can race the insert; the unique index
		// on telegram_id makes the loser retryable as a plain lookup.
		if isUniqueConstraintError(err) {
			return s.FindByTelegramID(ctx, telegramID)
		}
		return nil, fmt.Errorf("user service: find or create: %w", err)
	}
	return &user, nil
}

// FindByTelegramID loads a user by Telegram chat id.
func (s *UserService) FindByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	ctx = ensureContext(ctx)
	var user models.User
	if err := s.db.WithContext(ctx).
		Where("telegram_id = ?", telegramID).
		First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("user service: find by telegram id: %w", err)
	}
	return &user, nil
}

// FindByHHUserID loads a user by linked hh.ru account id.
func (s *UserService) FindByHHUserID(ctx context.Context, hhUserID string) (*models.User, error) {
	ctx = ensureContext(ctx)
	hhUserID = strings.TrimSpace(hhUserID)
	if hhUserID == "" {
		return nil, apperrors.ErrNotFound
	}

	var user models.User
	if err := s.db.WithContext(ctx).
		Where("hh_user_id = ?", hhUserID).
		First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("user service: find by hh user id: %w", err)
	}
	return &user, nil
}

// LinkHHAccount attaches an hh.ru identity and credentials to the Telegram
// user, creating the user record if the OAuth flow finished before the bot
// ever saw a message from that chat.
func (s *UserService) LinkHHAccount(ctx context.Context, telegramID int64, hhUserID string, creds HHCredentials) (*models.User, error) {
	ctx = ensureContext(ctx)
	hhUserID = strings.TrimSpace(hhUserID)
	if hhUserID == "" {
		return nil, errors.New("user service: hh user id is required")
	}
	if strings.TrimSpace(creds.AccessToken) == "" {
		return nil, errors.New("user service: access token is required")
	}

	user, err := s.FindOrCreate(ctx, telegramID)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{
		"hh_user_id":       hhUserID,
		"hh_access_token":  creds.AccessToken,
		"hh_refresh_token": strPtr(creds.RefreshToken),
		"hh_expires_at":    creds.ExpiresAt,
	}
	if err := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", user.ID).
		Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("user service: link hh account: %w", err)
	}

	user.HHUserID = &hhUserID
	user.HHAccessToken = &creds.AccessToken
	user.HHRefreshToken = strPtr(creds.RefreshToken)
	user.HHExpiresAt = creds.ExpiresAt
	return user, nil
}

// ToggleMuteRejections flips the mute preference and returns the new state.
// Returns ErrNotFound when the chat has never sent /start.
func (s *UserService) ToggleMuteRejections(ctx context.Context, telegramID int64) (bool, error) {
	ctx = ensureContext(ctx)
	user, err := s.FindByTelegramID(ctx, telegramID)
	if err != nil {
		return false, err
	}

	next := !user.MuteRejections
	if err := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", user.ID).
		Update("mute_rejections", next).Error; err != nil {
		return false, fmt.Errorf("user service: toggle mute: %w", err)
	}
	return next, nil
}

// ListWithCredentials returns every user holding a live hh.ru access token,
// ordered by creation time for deterministic poll cycles.
func (s *UserService) ListWithCredentials(ctx context.Context) ([]models.User, error) {
	ctx = ensureContext(ctx)
	var users []models.User
	if err := s.db.WithContext(ctx).
		Where("hh_access_token IS NOT NULL AND hh_access_token <> ''").
		Order(clause.OrderByColumn{Column: clause.Column{Name: "created_at"}}).
		Find(&users).Error; err != nil {
		return nil, fmt.Errorf("user service: list with credentials: %w", err)
	}
	return users, nil
}
