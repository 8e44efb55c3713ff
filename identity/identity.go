package identity

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/austinwade/sitechat/types"
	"github.com/folkengine/goname"
	"github.com/tidwall/buntdb"
)

const identityKey = "identity"

// Store persists the per-device identity (local user id + display name) so it
// survives restarts, mirroring what a browser keeps in local storage.
type Store struct {
	db *buntdb.DB
}

func NewStore(path string) (*Store, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Load returns the stored identity. On first use a new local user id and a
// guest display name are generated and persisted.
func (s *Store) Load() (types.Identity, error) {
	ident := types.Identity{}
	err := s.db.View(func(tx *buntdb.Tx) error {
		val, err := tx.Get(identityKey)
		if err != nil {
			return err
		}
		return json.Unmarshal([]byte(val), &ident)
	})
	if err == buntdb.ErrNotFound {
		ident = types.Identity{
			UserId:      NewLocalUserId(),
			DisplayName: goname.New(goname.FantasyMap).FirstLast() + " (guest)",
		}
		if err := s.Save(ident); err != nil {
			return types.Identity{}, err
		}
		return ident, nil
	}
	if err != nil {
		return types.Identity{}, err
	}
	return ident, nil
}

func (s *Store) Save(ident types.Identity) error {
	raw, err := json.Marshal(ident)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(identityKey, string(raw), nil)
		return err
	})
}

func (s *Store) Close() error {
	return s.db.Close()
}

// NewLocalUserId generates a stable per-device identifier: unix millis plus a
// random suffix.
func NewLocalUserId() string {
	return fmt.Sprintf("%d-%06d", time.Now().UnixNano()/int64(time.Millisecond), rand.Intn(1000000))
}
