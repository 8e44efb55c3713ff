package persistence

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/austinwade/sitechat/config"
	"github.com/austinwade/sitechat/types"
	"github.com/tidwall/buntdb"
)

type BuntDBPersist struct {
	db *buntdb.DB
}

func NewBuntPersister(cfg *config.Config) (Persister, error) {
	db, err := setupBuntDB(cfg)
	if err != nil {
		return nil, err
	}
	if db == nil {
		return nil, nil // no or wrong configuration, ignore the persister
	}
	return &BuntDBPersist{db}, nil
}

func setupBuntDB(cfg *config.Config) (*buntdb.DB, error) {
	if cfg.PersistenceConfig.DSN == "" {
		return nil, nil
	}
	db, err := buntdb.Open(cfg.PersistenceConfig.DSN)
	if err != nil {
		return nil, err
	}
	err = db.CreateIndex("messagets", "message:*", buntdb.IndexJSON("created_at"))
	if err != nil && err != buntdb.ErrIndexExists {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (p *BuntDBPersist) StoreRoom(room types.Room) error {
	u, err := json.Marshal(room)
	if err != nil {
		return err
	}
	return p.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set("room:"+room.Id, string(u), nil)
		return err
	})
}

func (p *BuntDBPersist) GetRoom(room *types.Room) error {
	if room.Id == "" {
		return fmt.Errorf("no room id")
	}
	return p.db.View(func(tx *buntdb.Tx) error {
		u, err := tx.Get("room:" + room.Id)
		if err != nil {
			return err
		}
		return json.Unmarshal([]byte(u), room)
	})
}

func (p *BuntDBPersist) GetRooms() ([]*types.Room, error) {
	rooms := make([]*types.Room, 0)
	err := p.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys("room:*", func(key, val string) bool {
			room := &types.Room{}
			if err := json.Unmarshal([]byte(val), room); err == nil {
				rooms = append(rooms, room)
			}
			return true
		})
	})
	return rooms, err
}

func (p *BuntDBPersist) DeleteRoom(room *types.Room) error {
	if room.Id == "" {
		return fmt.Errorf("no room id")
	}
	return p.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete("room:" + room.Id)
		return err
	})
}

func (p *BuntDBPersist) AppendMessage(draft types.MessageDraft) (*types.Message, error) {
	msg := &types.Message{
		RoomId:     draft.RoomId,
		AuthorId:   draft.AuthorId,
		AuthorName: draft.AuthorName,
		Content:    draft.Content,
		CreatedAt:  time.Now().UTC(),
	}
	if err := msg.CreateId(); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	err = p.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set("message:"+msg.RoomId+":"+msg.Id, string(raw), nil)
		if err != nil {
			return err
		}
		// keep the denormalized counter in step
		roomKey := "room:" + msg.RoomId
		val, err := tx.Get(roomKey)
		if err != nil {
			return err
		}
		room := types.Room{}
		if err := json.Unmarshal([]byte(val), &room); err != nil {
			return err
		}
		room.MessageCount++
		u, err := json.Marshal(room)
		if err != nil {
			return err
		}
		_, _, err = tx.Set(roomKey, string(u), nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// GetMessageHistory returns up to maxCount most recent messages of a room,
// oldest first.
func (p *BuntDBPersist) GetMessageHistory(roomId string, maxCount int) ([]*types.Message, error) {
	messages := make([]*types.Message, 0)
	err := p.db.View(func(tx *buntdb.Tx) error {
		count := 0
		return tx.Descend("messagets", func(key, val string) bool {
			msg := &types.Message{}
			if err := json.Unmarshal([]byte(val), msg); err != nil {
				return true
			}
			if msg.RoomId != roomId {
				return true
			}
			messages = append(messages, msg)
			count++
			return maxCount <= 0 || count < maxCount
		})
	})
	if err != nil {
		return nil, err
	}
	// reverse into chronological order
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (p *BuntDBPersist) PurgeMessages(roomId string) error {
	keys := make([]string, 0)
	err := p.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys("message:"+roomId+":*", func(key, val string) bool {
			keys = append(keys, key)
			return true
		})
	})
	if err != nil {
		return err
	}
	return p.db.Update(func(tx *buntdb.Tx) error {
		for _, key := range keys {
			if _, err := tx.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *BuntDBPersist) Close() error {
	return p.db.Close()
}
