package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/rohankatakam/herald/internal/errors"
	"github.com/rohankatakam/herald/internal/models"
)

const cursorBucket = "cursors"

type cursorRecord struct {
	models.Cursor
	UpdatedAt time.Time `json:"updated_at"`
}

// BoltStore keeps cursors in a single bbolt file
type BoltStore struct {
	db     *bolt.DB
	logger *slog.Logger
}

// NewBoltStore opens (creating if needed) the state file at path
func NewBoltStore(path string, logger *slog.Logger) (*BoltStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.StorageError(err, fmt.Sprintf("create state directory %s", dir))
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.StorageError(err, fmt.Sprintf("open state file %s", path))
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(cursorBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.StorageError(err, "init cursor bucket")
	}

	if logger == nil {
		logger = slog.Default()
	}
	return &BoltStore{db: db, logger: logger.With("component", "cursor_store")}, nil
}

// Load implements CursorStore. Returns ErrNotFound when repo has no cursor.
func (s *BoltStore) Load(ctx context.Context, repo string) (models.Cursor, error) {
	var rec cursorRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(cursorBucket))
		if bucket == nil {
			return ErrNotFound
		}
		data := bucket.Get([]byte(repo))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &rec)
	})
	if err == ErrNotFound {
		return models.Cursor{}, ErrNotFound
	}
	if err != nil {
		return models.Cursor{}, errors.StorageError(err, "load cursor")
	}
	return rec.Cursor, nil
}

// Save implements CursorStore
func (s *BoltStore) Save(ctx context.Context, repo string, c models.Cursor) error {
	data, err := json.Marshal(cursorRecord{Cursor: c, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return errors.StorageError(err, "encode cursor")
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(cursorBucket))
		if err != nil {
			return err
		}
		return bucket.Put([]byte(repo), data)
	})
	if err != nil {
		return errors.StorageError(err, "save cursor")
	}

	s.logger.Debug("cursor saved", "repo", repo, "event_id", c.LastEventID)
	return nil
}

// Delete removes the cursor for repo, so the next run starts from scratch
func (s *BoltStore) Delete(ctx context.Context, repo string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(cursorBucket))
		if bucket == nil {
			return nil
		}
		return bucket.Delete([]byte(repo))
	})
	if err != nil {
		return errors.StorageError(err, "delete cursor")
	}
	return nil
}

// Close implements CursorStore
func (s *BoltStore) Close() error {
	return s.db.Close()
}
