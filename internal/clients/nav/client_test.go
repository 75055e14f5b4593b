package nav

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aristath/fundtrack/internal/clientdata"
	"github.com/aristath/fundtrack/internal/database"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupCache(t *testing.T) *clientdata.Repository {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	schema, err := database.Schema("cache")
	require.NoError(t, err)
	_, err = db.Exec(schema)
	require.NoError(t, err)

	return clientdata.NewRepository(db)
}

func TestGetNAV_FetchesAndCaches(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		assert.Equal(t, "/nav/110011", r.URL.Path)
		assert.Equal(t, "2024-03-01", r.URL.Query().Get("date"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"nav":"1.2345","accumulated_nav":3.5,"date":"2024-03-01"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, setupCache(t), time.Hour, zerolog.Nop())
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	q, err := client.GetNAV(context.Background(), "110011", day)
	require.NoError(t, err)
	assert.Equal(t, "1.2345", q.NAV.String())
	require.NotNil(t, q.AccumulatedNAV)
	assert.Equal(t, "3.5", q.AccumulatedNAV.String())
	assert.Equal(t, day, q.Date)

	// second call is served from cache
	q, err = client.GetNAV(context.Background(), "110011", day)
	require.NoError(t, err)
	assert.Equal(t, "1.2345", q.NAV.String())
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestGetNAV_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, time.Hour, zerolog.Nop())
	_, err := client.GetNAV(context.Background(), "F1", time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC))
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestGetNAV_RejectsNonPositiveNAV(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"nav":"0","date":"2024-01-02"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, time.Hour, zerolog.Nop())
	_, err := client.GetNAV(context.Background(), "F1", time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestGetLatestNAV_StaleFallbackOnServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	cache := setupCache(t)
	stale := cachedQuote{AssetCode: "F1", Date: "2024-03-01", NAV: "2.5"}
	require.NoError(t, cache.Store(clientdata.TableNAVQuotes, "F1:latest", stale, -time.Minute))

	client := NewClient(server.URL, cache, time.Hour, zerolog.Nop())
	q, err := client.GetLatestNAV(context.Background(), "F1")
	require.NoError(t, err)
	assert.Equal(t, "2.5", q.NAV.String())
}

func TestGetLatestNAV_ErrorWithoutCache(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/nav/F1/latest", r.URL.Path)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL+"/", nil, time.Hour, zerolog.Nop())
	_, err := client.GetLatestNAV(context.Background(), "F1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestGetNAV_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"nav":"1"}`))
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewClient(server.URL, nil, time.Hour, zerolog.Nop())
	_, err := client.GetNAV(ctx, "F1", time.Now())
	assert.Error(t, err)
}

func TestCachedQuoteRoundTrip(t *testing.T) {
	c := cachedQuote{AssetCode: "F1", Date: "2024-02-29", NAV: "1.0001", AccumulatedNAV: "4.2"}
	q, err := c.toQuote()
	require.NoError(t, err)
	assert.Equal(t, c, toCached(q))

	_, err = cachedQuote{NAV: "x", Date: "2024-01-01"}.toQuote()
	assert.Error(t, err)
}
