package aed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"Lifeline/pkg/cache"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindNearestDecodesAndCaches(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/aeds/nearest", r.URL.Path)
		assert.Equal(t, "5", r.URL.Query().Get("k"))
		_ = json.NewEncoder(w).Encode([]AED{
			{Latitude: 1.301, Longitude: 103.801, Description: "Mall lobby"},
		})
	}))
	defer srv.Close()

	idx := NewHTTPIndex(srv.URL, "", time.Second, cache.NewLocalCache(cache.LocalConfig{}))

	out, err := idx.FindNearest(context.Background(), 1.30, 103.80, 5)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "Mall lobby", out[0].Description)

	// Second lookup from the same block is served from cache.
	_, err = idx.FindNearest(context.Background(), 1.30, 103.80, 5)
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestFindNearestErrorOnBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	idx := NewHTTPIndex(srv.URL, "", time.Second, nil)
	_, err := idx.FindNearest(context.Background(), 1.30, 103.80, 5)
	assert.Error(t, err)
}

func TestFindNearestHonorsContextTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	idx := NewHTTPIndex(srv.URL, "", time.Second, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := idx.FindNearest(ctx, 1.30, 103.80, 5)
	assert.Error(t, err)
}
