package persistence

import (
	"fmt"

	"github.com/austinwade/sitechat/config"
	"github.com/austinwade/sitechat/types"
)

type Persister interface {
	StoreRoom(types.Room) error
	GetRoom(*types.Room) error
	GetRooms() ([]*types.Room, error)
	DeleteRoom(*types.Room) error

	// AppendMessage assigns the id and created timestamp and persists the
	// message. The stored message is returned to the caller, it is the
	// authoritative echo source.
	AppendMessage(types.MessageDraft) (*types.Message, error)
	GetMessageHistory(roomId string, maxCount int) ([]*types.Message, error)
	PurgeMessages(roomId string) error

	Close() error
}

// NewPersister creates the persister selected in the configuration.
func NewPersister(cfg *config.Config) (Persister, error) {
	switch cfg.PersistenceConfig.Type {
	case "buntdb":
		return NewBuntPersister(cfg)
	case "sqlite", "postgres":
		return NewGormPersister(cfg)
	case "":
		return nil, nil // persistence is optional
	}
	return nil, fmt.Errorf("unknown persistence type %q", cfg.PersistenceConfig.Type)
}
