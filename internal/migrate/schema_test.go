package migrate

import (
	"database/sql"
	"os"
	"sync"
	"testing"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("PG_TEST_DSN")
	if dsn == "" {
		t.Skip("PG_TEST_DSN not set")
	}
	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	require.NoError(t, db.Ping())
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestEnsureSchemaIsRepeatable(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, EnsureSchema(db))
	require.NoError(t, EnsureSchema(db))

	var n int
	require.NoError(t, db.QueryRow(`SELECT count(*) FROM pg_constraint WHERE conname = '_survey_sessions_results_array'`).Scan(&n))
	assert.Equal(t, 1, n)

	_, err := db.Exec(`INSERT INTO _survey_sessions(id, results) VALUES('schema-test-object', '{}'::jsonb)`)
	assert.Error(t, err)
}

func TestEnsureSchemaConcurrentStartup(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, EnsureSchema(db))

	const n = 4
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = EnsureSchema(db)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		assert.NoError(t, err)
	}
}
