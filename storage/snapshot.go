package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"lendbook/native/lendbook"
)

var snapshotKey = []byte("lendbook/state")

// SaveSnapshot serialises the full book state into the database. The snapshot
// overwrites any previous one; the daemon only ever keeps the latest.
func SaveSnapshot(db Database, state *lendbook.State) error {
	if db == nil {
		return fmt.Errorf("storage: database required")
	}
	if state == nil {
		return fmt.Errorf("storage: state required")
	}
	encoded, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("storage: encode snapshot: %w", err)
	}
	return db.Put(snapshotKey, encoded)
}

// LoadSnapshot restores the most recent book state. When no snapshot exists
// (nil, ErrNotFound) is returned so callers can start from a fresh state.
func LoadSnapshot(db Database) (*lendbook.State, error) {
	if db == nil {
		return nil, fmt.Errorf("storage: database required")
	}
	encoded, err := db.Get(snapshotKey)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: read snapshot: %w", err)
	}
	state := &lendbook.State{}
	if err := json.Unmarshal(encoded, state); err != nil {
		return nil, fmt.Errorf("storage: decode snapshot: %w", err)
	}
	state.EnsureDefaults()
	return state, nil
}
