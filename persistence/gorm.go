package persistence

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/austinwade/sitechat/config"
	"github.com/austinwade/sitechat/types"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var _ driver.Valuer = &datatypes.JSON{}

type GormPersist struct {
	db *gorm.DB
}

func NewGormPersister(cfg *config.Config) (Persister, error) {
	db, err := setupGormDB(cfg)
	if err != nil {
		return nil, err
	}
	if db == nil {
		return nil, nil // no or wrong configuration, ignore the persister
	}
	p := GormPersist{db: db}
	return &p, nil
}

func setupGormDB(cfg *config.Config) (*gorm.DB, error) {
	if cfg.PersistenceConfig.DSN == "" {
		return nil, nil
	}
	var dial gorm.Dialector
	switch cfg.PersistenceConfig.Type {
	case "postgres":
		dial = postgres.Open(cfg.PersistenceConfig.DSN)

	case "sqlite":
		dial = sqlite.Open(cfg.PersistenceConfig.DSN)

	default:
		return nil, fmt.Errorf("invalid gorm configuration")
	}
	db, err := gorm.Open(dial, &gorm.Config{})
	if err != nil {
		return nil, err
	}
	db.Migrator().AutoMigrate(&types.Room{}, &types.Message{})
	return db, nil
}

func (p *GormPersist) StoreRoom(room types.Room) error {
	return p.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&room).Error
}

func (p *GormPersist) GetRoom(room *types.Room) error {
	return p.db.First(room).Error
}

func (p *GormPersist) GetRooms() ([]*types.Room, error) {
	rooms := make([]*types.Room, 0)
	err := p.db.Order("created_at").Find(&rooms).Error
	return rooms, err
}

func (p *GormPersist) DeleteRoom(room *types.Room) error {
	return p.db.Delete(room).Error
}

func (p *GormPersist) AppendMessage(draft types.MessageDraft) (*types.Message, error) {
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
	err := p.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		return tx.Model(&types.Room{Id: draft.RoomId}).
			UpdateColumn("message_count", gorm.Expr("message_count + 1")).Error
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (p *GormPersist) GetMessageHistory(roomId string, maxCount int) ([]*types.Message, error) {
	messages := make([]*types.Message, 0)
	tx := p.db.Where("room_id = ?", roomId).Order("created_at desc")
	if maxCount > 0 {
		tx = tx.Limit(maxCount)
	}
	err := tx.Find(&messages).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (p *GormPersist) PurgeMessages(roomId string) error {
	return p.db.Where("room_id = ?", roomId).Delete(&types.Message{}).Error
}

func (p *GormPersist) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
