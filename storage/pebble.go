package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/puyokura/orbitchat/model"
)

// PebbleStore keeps snapshots as blobs in a pebble database, one key per
// session.
type PebbleStore struct {
	db  *pebble.DB
	key []byte
}

// OpenPebble opens (or creates) a pebble database at path. The session name
// selects the key the snapshot lives under.
func OpenPebble(path, session string) (*PebbleStore, error) {
	if path == "" {
		path = "./.database"
	}
	if session == "" {
		session = "default"
	}
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble %s: %w", path, err)
	}
	return &PebbleStore{db: db, key: []byte("snapshot/" + session)}, nil
}

func (s *PebbleStore) Load(ctx context.Context) (*model.Snapshot, error) {
	val, closer, err := s.db.Get(s.key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	var snap model.Snapshot
	if err := json.Unmarshal(val, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", s.key, err)
	}
	return &snap, nil
}

// Save replaces the session's snapshot with a single synced write.
func (s *PebbleStore) Save(ctx context.Context, snap *model.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return s.db.Set(s.key, data, pebble.Sync)
}

func (s *PebbleStore) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
