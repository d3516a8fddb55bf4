// Package state owns the persisted snapshot document shared by the scheduled tasks.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"ScalpSentinel/internal/model"
)

// Store loads and saves the whole snapshot document.
type Store interface {
	Load(ctx context.Context) (model.Snapshot, error)
	Save(ctx context.Context, snap model.Snapshot) error
}

// FileStore keeps the snapshot in a JSON file.
type FileStore struct {
	Path string
}

// Load reads the snapshot. Returns a zero snapshot if the file doesn't exist.
func (f FileStore) Load(_ context.Context) (model.Snapshot, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return model.Snapshot{}, nil
		}
		return model.Snapshot{}, err
	}
	var snap model.Snapshot
	if len(data) == 0 {
		return snap, nil
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return model.Snapshot{}, fmt.Errorf("decode %s: %w", f.Path, err)
	}
	return snap, nil
}

// Save writes the snapshot through a temp file and rename so readers never see a partial document.
func (f FileStore) Save(_ context.Context, snap model.Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(f.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.Path)
}
