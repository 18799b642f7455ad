package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"clmmRebalancer/internal/storage/postgres"
)

// Backend persists the workflow record. Load reports false when nothing
// has been stored yet and wraps ErrCorruptState when the stored bytes
// cannot be decoded.
type Backend interface {
	Load(ctx context.Context) (Record, bool, error)
	Save(ctx context.Context, rec Record) error
}

// FileBackend stores the record in a local JSON file.
type FileBackend struct {
	Path string
}

func (b *FileBackend) Load(ctx context.Context) (Record, bool, error) {
	stat, err := os.Stat(b.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("stat state: %w", err)
	}
	if stat.IsDir() {
		return Record{}, false, fmt.Errorf("state path is a directory")
	}

	data, err := os.ReadFile(b.Path)
	if err != nil {
		return Record{}, false, fmt.Errorf("read state: %w", err)
	}
	rec, err := decodeRecord(data)
	if err != nil {
		return Record{}, true, err
	}
	return rec, true, nil
}

func (b *FileBackend) Save(ctx context.Context, rec Record) error {
	dir := filepath.Dir(b.Path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create state dir: %w", err)
		}
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tmp := b.Path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write state tmp: %w", err)
	}
	if err := os.Rename(tmp, b.Path); err != nil {
		return fmt.Errorf("rename state: %w", err)
	}
	return nil
}

// DBBackend stores the record as JSONB in the workflow_state table.
type DBBackend struct {
	Store *postgres.Store
	Name  string
}

func (b *DBBackend) Load(ctx context.Context) (Record, bool, error) {
	if b == nil || b.Store == nil {
		return Record{}, false, fmt.Errorf("postgres store is nil")
	}
	data, ok, err := b.Store.LoadWorkflowState(ctx, b.Name)
	if err != nil || !ok {
		return Record{}, ok, err
	}
	rec, err := decodeRecord(data)
	if err != nil {
		return Record{}, true, err
	}
	return rec, true, nil
}

func (b *DBBackend) Save(ctx context.Context, rec Record) error {
	if b == nil || b.Store == nil {
		return fmt.Errorf("postgres store is nil")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	return b.Store.SaveWorkflowState(ctx, b.Name, data)
}

func decodeRecord(data []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	return rec, nil
}
