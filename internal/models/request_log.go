package models

// RequestLog records every inbound bot message, including ones from chats
// that never became users. Append-only; the user reference is nulled if the
// user is ever deleted.
type RequestLog struct {
	BaseModel

	UserID *string `gorm:"type:uuid;index" json:"user_id,omitempty"`
	User   *User   `gorm:"constraint:OnDelete:SET NULL" json:"-"`

	TelegramID  int64  `gorm:"index;not null" json:"telegram_id"`
	MessageText string `gorm:"type:text;not null" json:"message_text"`
}
