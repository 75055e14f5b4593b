package clientdata

import (
	"database/sql"
	"testing"
	"time"

	"github.com/aristath/fundtrack/internal/database"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type quoteEntry struct {
	AssetCode string `msgpack:"asset_code"`
	Date      string `msgpack:"date"`
	NAV       string `msgpack:"nav"`
}

func setupTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// one connection, otherwise every connection sees its own empty in-memory db
	db.SetMaxOpenConns(1)

	schema, err := database.Schema("cache")
	require.NoError(t, err)
	_, err = db.Exec(schema)
	require.NoError(t, err)

	return db
}

func TestStoreAndGetIfFresh(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewRepository(db)
	entry := quoteEntry{AssetCode: "110011", Date: "2024-03-01", NAV: "1.2345"}

	require.NoError(t, repo.Store(TableNAVQuotes, "110011:2024-03-01", entry, time.Hour))

	var got quoteEntry
	found, err := repo.GetIfFresh(TableNAVQuotes, "110011:2024-03-01", &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, entry, got)

	found, err = repo.GetIfFresh(TableNAVQuotes, "missing", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestGetIfFresh_ExpiredFallsBackToGet(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewRepository(db)
	entry := quoteEntry{AssetCode: "F1", NAV: "2"}
	require.NoError(t, repo.Store(TableNAVQuotes, "F1:latest", entry, -time.Minute))

	var got quoteEntry
	found, err := repo.GetIfFresh(TableNAVQuotes, "F1:latest", &got)
	require.NoError(t, err)
	assert.False(t, found)

	found, err = repo.Get(TableNAVQuotes, "F1:latest", &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "2", got.NAV)
}

func TestStore_Upserts(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewRepository(db)
	require.NoError(t, repo.Store(TablePositions, "F1", quoteEntry{NAV: "1"}, time.Hour))
	require.NoError(t, repo.Store(TablePositions, "F1", quoteEntry{NAV: "2"}, time.Hour))

	var got quoteEntry
	found, err := repo.Get(TablePositions, "F1", &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "2", got.NAV)

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM positions").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestDeleteAndClear(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewRepository(db)
	require.NoError(t, repo.Store(TablePositions, "A", quoteEntry{}, time.Hour))
	require.NoError(t, repo.Store(TablePositions, "B", quoteEntry{}, time.Hour))

	require.NoError(t, repo.Delete(TablePositions, "A"))
	var got quoteEntry
	found, err := repo.Get(TablePositions, "A", &got)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, repo.Clear(TablePositions))
	found, err = repo.Get(TablePositions, "B", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestInvalidTable(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewRepository(db)
	var out quoteEntry

	assert.Error(t, repo.Store("positions; DROP TABLE x", "k", out, time.Hour))
	_, err := repo.GetIfFresh("unknown", "k", &out)
	assert.Error(t, err)
	_, err = repo.Get("unknown", "k", &out)
	assert.Error(t, err)
	assert.Error(t, repo.Delete("unknown", "k"))
	assert.Error(t, repo.Clear("unknown"))
	_, err = repo.DeleteExpired("unknown")
	assert.Error(t, err)
}
