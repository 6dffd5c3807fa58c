package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User is a Telegram chat linked (optionally) to an hh.ru applicant account.
//
// TelegramID is immutable once the record exists. HHUserID is set during the
// OAuth callback and identifies at most one user. A nil HHAccessToken means
// the account is not linked yet or the link was revoked.
type User struct {
	ID         string `gorm:"primaryKey;type:uuid" json:"id"`
	TelegramID int64  `gorm:"uniqueIndex;not null" json:"telegram_id"`

	HHUserID       *string    `gorm:"uniqueIndex;type:varchar(64)" json:"hh_user_id,omitempty"`
	HHAccessToken  *string    `gorm:"type:text" json:"-"`
	HHRefreshToken *string    `gorm:"type:text" json:"-"`
	HHExpiresAt    *time.Time `json:"hh_expires_at,omitempty"`

	// MuteRejections suppresses delivery of rejection-classified
	// notifications. Defaults to true so a fresh link does not replay
	// prior rejections to the user.
	MuteRejections bool `gorm:"not null;default:true" json:"mute_rejections"`

	Notifications []Notification `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
	RequestLogs   []RequestLog   `gorm:"foreignKey:UserID;constraint:OnDelete:SET NULL" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate ensures a UUID is present before persisting.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

// Linked reports whether the user has a live hh.ru access credential.
func (u *User) Linked() bool {
	return u.HHAccessToken != nil && *u.HHAccessToken != ""
}
