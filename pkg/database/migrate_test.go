package database

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMigrations_Embedded(t *testing.T) {
	names, err := Migrations()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	require.Equal(t, "001_chat_events.sql", names[0])
}

func TestMigrate_Idempotent(t *testing.T) {
	dsn := os.Getenv("CHAT_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("CHAT_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := NewPostgresPool(ctx, dsn, 2, nil)
	require.NoError(t, err)
	defer pool.Close()

	require.NoError(t, Migrate(ctx, pool))
	require.NoError(t, Migrate(ctx, pool))

	var n int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE name = '001_chat_events.sql'`).Scan(&n))
	require.Equal(t, 1, n)
}
