package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/golang/glog"

	_ "github.com/mattn/go-sqlite3"
)

// errors.go style sentinels for the backing store.
// checked with errors.Is
var (
	ErrLoad = errors.New("snapshot load failed")
	ErrSave = errors.New("snapshot save failed")
)

// Store persists last-known-good snapshots keyed by (kind, id). There is
// no mutation log: the authoritative process replays nothing on start, it
// restores the latest snapshot only.
type Store struct {
	db *sql.DB
}

func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrLoad, err)
	}
	store := &Store{
		db: db,
	}
	if err := store.init(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (self *Store) init() error {
	_, err := self.db.Exec(`
		CREATE TABLE IF NOT EXISTS snapshots (
			kind TEXT NOT NULL,
			id TEXT NOT NULL,
			content BLOB NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (kind, id)
		)
	`)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrLoad, err)
	}
	return nil
}

func (self *Store) Close() error {
	return self.db.Close()
}

// Load reads the serialized snapshot for (kind, id).
// An absent snapshot is a load failure: the caller decides whether absence
// is acceptable by checking HasSnapshot first.
func (self *Store) Load(ctx context.Context, kind string, id string) ([]byte, error) {
	var content []byte
	err := self.db.QueryRowContext(
		ctx, `SELECT content FROM snapshots WHERE kind = ? AND id = ?`,
		kind,
		id,
	).Scan(&content)
	if err != nil {
		return nil, fmt.Errorf("%w: %s/%s: %s", ErrLoad, kind, id, err)
	}
	glog.V(2).Infof("[store]load %s/%s (%d bytes)\n", kind, id, len(content))
	return content, nil
}

func (self *Store) HasSnapshot(ctx context.Context, kind string, id string) (bool, error) {
	var n int
	err := self.db.QueryRowContext(
		ctx, `SELECT COUNT(*) FROM snapshots WHERE kind = ? AND id = ?`,
		kind,
		id,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("%w: %s/%s: %s", ErrLoad, kind, id, err)
	}
	return 0 < n, nil
}

// Save writes the current snapshot for (kind, id), replacing any previous
// one.
func (self *Store) Save(ctx context.Context, kind string, id string, content []byte) error {
	_, err := self.db.ExecContext(
		ctx, `
			INSERT INTO snapshots (kind, id, content, updated_at) VALUES (?, ?, ?, ?)
			ON CONFLICT (kind, id) DO UPDATE SET content = excluded.content, updated_at = excluded.updated_at
		`,
		kind,
		id,
		content,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("%w: %s/%s: %s", ErrSave, kind, id, err)
	}
	glog.V(2).Infof("[store]save %s/%s (%d bytes)\n", kind, id, len(content))
	return nil
}

// Delete removes a snapshot. Deleting an absent snapshot is not an error.
func (self *Store) Delete(ctx context.Context, kind string, id string) error {
	_, err := self.db.ExecContext(
		ctx, `DELETE FROM snapshots WHERE kind = ? AND id = ?`,
		kind,
		id,
	)
	if err != nil {
		return fmt.Errorf("%w: %s/%s: %s", ErrSave, kind, id, err)
	}
	return nil
}
