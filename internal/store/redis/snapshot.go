package redis

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/go-redis/redis/v8"
)

// SnapshotStore keeps the latest engine snapshot JSON under a single key.
// It satisfies model.SnapshotStore.
type SnapshotStore struct {
	client goredis.Cmdable
	key    string
}

// NewSnapshotStore uses key, e.g. "ind:snapshot:engine".
func NewSnapshotStore(client goredis.Cmdable, key string) *SnapshotStore {
	if key == "" {
		key = "ind:snapshot:engine"
	}
	return &SnapshotStore{client: client, key: key}
}

// SaveSnapshotJSON overwrites the stored snapshot.
func (s *SnapshotStore) SaveSnapshotJSON(ctx context.Context, data []byte) error {
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis SET %s: %w", s.key, err)
	}
	return nil
}

// ReadLatestSnapshotJSON returns the stored snapshot, or nil, nil if none exists.
func (s *SnapshotStore) ReadLatestSnapshotJSON(ctx context.Context) ([]byte, error) {
	b, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET %s: %w", s.key, err)
	}
	return b, nil
}
