package history

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aura-chat/backend/internal/event"
)

// DefaultRedisKey is the list holding the log when no key is configured.
const DefaultRedisKey = "chat:history"

// RedisStore keeps the log in a Redis list of wire-encoded events.
type RedisStore struct {
	client *redis.Client
	key    string
	logger *zap.Logger
}

// NewRedisStore creates a history store on the list at key.
func NewRedisStore(client *redis.Client, key string, logger *zap.Logger) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{client: client, key: key, logger: logger}
}

// Append implements Store. The sequence is the list length after the push.
func (s *RedisStore) Append(ctx context.Context, e event.Event) (int64, error) {
	data, err := event.Encode(e)
	if err != nil {
		return 0, err
	}
	n, err := s.client.RPush(ctx, s.key, data).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: rpush: %v", ErrStorageFailure, err)
	}
	return n, nil
}

// Snapshot implements Store. Entries that do not decode are logged and
// skipped.
func (s *RedisStore) Snapshot(ctx context.Context) ([]event.Event, error) {
	raw, err := s.client.LRange(ctx, s.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: lrange: %v", ErrStorageFailure, err)
	}
	return decodeEntries(raw, s.key, s.logger), nil
}

func decodeEntries(raw []string, key string, logger *zap.Logger) []event.Event {
	list := make([]event.Event, 0, len(raw))
	for i, r := range raw {
		e, err := event.Decode([]byte(r))
		if err != nil {
			logger.Warn("skipping undecodable history entry",
				zap.String("key", key),
				zap.Int("index", i),
				zap.Error(err))
			continue
		}
		list = append(list, e)
	}
	return list
}
