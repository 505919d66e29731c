package database

import (
	"context"
	"os"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pos-terminal/internal/logger"
)

func TestGetMigrationFiles_SortedSQLOnly(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/002_b.sql":  {Data: []byte("SELECT 2")},
		"migrations/001_a.sql":  {Data: []byte("SELECT 1")},
		"migrations/README.txt": {Data: []byte("notes")},
	}

	files, err := getMigrationFiles(fsys)
	require.NoError(t, err)
	assert.Equal(t, []string{"001_a.sql", "002_b.sql"}, files)
}

func TestEmbeddedMigrations(t *testing.T) {
	files, err := getMigrationFiles(migrationFS)
	require.NoError(t, err)
	assert.Equal(t, []string{"001_orders.sql", "002_terminals.sql"}, files)
}

// TestRunMigrations_Idempotent needs a scratch database in POS_TEST_DATABASE_URL.
func TestRunMigrations_Idempotent(t *testing.T) {
	url := os.Getenv("POS_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("POS_TEST_DATABASE_URL not set")
	}

	db, err := Connect(context.Background(), url, logger.Nop(), RetryPolicy{Attempts: 1})
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	require.NoError(t, db.RunMigrations(ctx))
	require.NoError(t, db.RunMigrations(ctx))

	var count int
	require.NoError(t, db.QueryRow(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.GreaterOrEqual(t, count, 2)
}
