package types

import (
	"fmt"
	"time"

	"github.com/mitchellh/hashstructure/v2"
)

// Message is one chat entry. The id is assigned by the store on append and is
// the sole deduplication key, clients never mutate a message after creation.
type Message struct {
	Id         string    `json:"id" gorm:"primaryKey" hash:"ignore" mapstructure:"id"`
	RoomId     string    `json:"room_id" gorm:"index" mapstructure:"room_id"`
	AuthorId   string    `json:"author_id" mapstructure:"author_id"`
	AuthorName string    `json:"author_name" mapstructure:"author_name"`
	Content    string    `json:"content" mapstructure:"content"`
	CreatedAt  time.Time `json:"created_at" mapstructure:"-"` // set explicitly, weak decode cannot parse times
}

// MessageDraft is what a client submits: everything but the store-assigned fields.
type MessageDraft struct {
	RoomId     string `json:"room_id"`
	AuthorId   string `json:"author_id"`
	AuthorName string `json:"author_name"`
	Content    string `json:"content"`
}

// CreateId sets the message id from a hash over the hashable fields.
// Only the store may call this, after CreatedAt has been set.
func (m *Message) CreateId() error {
	hash, err := hashstructure.Hash(m, hashstructure.FormatV2, nil)
	if err != nil {
		return err
	}
	m.Id = fmt.Sprintf("%016x", hash)
	return nil
}
