package history

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/aura-chat/backend/internal/event"
	"github.com/aura-chat/backend/pkg/database"
)

// Backend tests run only against real services:
//
//	CHAT_TEST_REDIS_ADDR=localhost:6379 CHAT_TEST_DATABASE_URL=postgres://... go test ./internal/history/

func TestRedisStore_AppendAndSnapshot(t *testing.T) {
	addr := os.Getenv("CHAT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CHAT_TEST_REDIS_ADDR not set")
	}
	req := require.New(t)
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	key := "chat:test:" + uuid.NewString()
	defer client.Del(ctx, key)
	store := NewRedisStore(client, key, nil)

	events := []event.Event{event.Connected("alice"), event.Message("alice", "hi")}
	for i, e := range events {
		seq, err := store.Append(ctx, e)
		req.NoError(err)
		req.Equal(int64(i+1), seq)
	}
	snap, err := store.Snapshot(ctx)
	req.NoError(err)
	req.Equal(events, snap)

	req.NoError(client.RPush(ctx, key, `{"event_type":"bogus"}`).Err())
	_, err = store.Append(ctx, event.Disconnected("alice"))
	req.NoError(err)
	snap, err = store.Snapshot(ctx)
	req.NoError(err)
	req.Equal(append(events, event.Disconnected("alice")), snap)
}

func TestRedisStore_UnreachableServer(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	defer client.Close()
	store := NewRedisStore(client, "", nil)

	_, err := store.Append(context.Background(), event.Connected("alice"))
	require.ErrorIs(t, err, ErrStorageFailure)
	_, err = store.Snapshot(context.Background())
	require.ErrorIs(t, err, ErrStorageFailure)
}

func TestPostgresStore_AppendAndSnapshot(t *testing.T) {
	dsn := os.Getenv("CHAT_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("CHAT_TEST_DATABASE_URL not set")
	}
	req := require.New(t)
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	req.NoError(err)
	defer pool.Close()

	req.NoError(database.Migrate(ctx, pool))
	_, err = pool.Exec(ctx, `TRUNCATE chat_events`)
	req.NoError(err)

	store := NewPostgresStore(pool)

	events := []event.Event{event.Connected("alice"), event.Message("alice", "hi"), event.Disconnected("alice")}
	var last int64
	for _, e := range events {
		seq, err := store.Append(ctx, e)
		req.NoError(err)
		req.Greater(seq, last)
		last = seq
	}
	snap, err := store.Snapshot(ctx)
	req.NoError(err)
	req.Equal(events, snap)

	_, err = store.Append(ctx, event.Event{Kind: event.KindMessage, Participant: "alice"})
	req.ErrorIs(err, event.ErrMalformedEvent)
}
