package types

import (
	"time"

	"gorm.io/gorm"
)

// Room is a named channel of conversation. MessageCount is a denormalized
// counter, monotonically non-decreasing from the client's point of view.
type Room struct {
	Id           string         `json:"id" gorm:"primaryKey" mapstructure:"id"`
	Name         string         `json:"name" mapstructure:"name"`
	Description  string         `json:"description,omitempty" mapstructure:"description"`
	MessageCount int64          `json:"message_count" mapstructure:"message_count"`
	CreatedAt    time.Time      `json:"-"`
	UpdatedAt    time.Time      `json:"-"`
	DeletedAt    gorm.DeletedAt `json:"-" gorm:"index"`
}
