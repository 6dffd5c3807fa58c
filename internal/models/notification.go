package models

// Notification kinds produced by the ingestors.
const (
	NotificationKindInvitation  = "invitation"
	NotificationKindMessage     = "message"
	NotificationKindStateChange = "state_change"
)

// Notification is a queued (or already delivered) Telegram notification.
//
// Rows are created by the webhook handler or the poll ingestor and mutated
// only by the delivery worker, which flips Sent from false to true. Text and
// IsRejection are immutable after creation.
//
// For kind=message the (user_id, kind, hh_object_id) triple is kept unique
// by the store's transactional check-then-insert; that is the only dedup
// guard against repeated polling. Other kinds may legitimately repeat an
// object id (several state changes on one topic).
type Notification struct {
	BaseModel

	UserID string `gorm:"type:uuid;index;not null" json:"user_id"`
	User   *User  `gorm:"constraint:OnDelete:CASCADE" json:"-"`

	Kind string `gorm:"type:varchar(32);not null;index" json:"kind"`

	// HHObjectID is the hh.ru entity behind the notification (chat message
	// id, topic id). Not globally unique, only within (user, kind).
	HHObjectID *string `gorm:"type:varchar(128);index" json:"hh_object_id,omitempty"`

	Text        string `gorm:"type:text;not null" json:"text"`
	IsRejection bool   `gorm:"not null;default:false" json:"is_rejection"`
	Sent        bool   `gorm:"not null;default:false;index" json:"sent"`
}
