package models

import "gorm.io/datatypes"

// LogEvent is an application event persisted separately from the business
// tables (webhook receipts, OAuth outcomes). It has no user reference.
type LogEvent struct {
	BaseModel

	Level   string         `gorm:"type:varchar(16);not null;index" json:"level"`
	Message string         `gorm:"type:text;not null" json:"message"`
	Details datatypes.JSON `json:"details,omitempty"`
}
