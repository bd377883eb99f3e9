// Package storage persists whole-state snapshots. Every Save replaces the
// previous document atomically: a reader sees either the old snapshot or the
// new one, never a mix.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/puyokura/orbitchat/model"
)

// ErrNoSnapshot is returned by Load when nothing has been saved yet.
var ErrNoSnapshot = errors.New("storage: no snapshot")

// SnapshotStore is the save/load contract the engine depends on.
type SnapshotStore interface {
	Load(ctx context.Context) (*model.Snapshot, error)
	Save(ctx context.Context, snap *model.Snapshot) error
	Close() error
}

// Open picks a store by driver name.
func Open(driver, path, session string) (SnapshotStore, error) {
	switch driver {
	case "pebble", "":
		return OpenPebble(path, session)
	case "file":
		return NewFileStore(path), nil
	case "memory":
		return NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("storage: unknown driver %q", driver)
}
