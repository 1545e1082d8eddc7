package geocode

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	c := NewClient(serverURL, nil)
	c.newBackOff = func() backoff.BackOff {
		return backoff.NewConstantBackOff(time.Millisecond)
	}
	return c
}

func TestLookupParsesPostal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Blk 5 Tampines St 11", r.URL.Query().Get("searchVal"))
		w.Write([]byte(`{"found":1,"results":[{"SEARCHVAL":"BLK 5","POSTAL":"520123"}]}`))
	}))
	defer srv.Close()

	code, err := fastClient(t, srv.URL).Lookup(context.Background(), "Blk 5 Tampines St 11")
	require.NoError(t, err)
	assert.Equal(t, "520123", code)
}

func TestLookupRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"results":[{"POSTAL":"640321"}]}`))
	}))
	defer srv.Close()

	code, err := fastClient(t, srv.URL).Lookup(context.Background(), "Jurong West")
	require.NoError(t, err)
	assert.Equal(t, "640321", code)
	assert.Equal(t, int32(3), calls.Load())
}

func TestLookupGivesUpAfterThreeAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := fastClient(t, srv.URL).Lookup(context.Background(), "nowhere")
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestLookupClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := fastClient(t, srv.URL).Lookup(context.Background(), "bad query")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestLookupCaches(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"results":[{"POSTAL":"520123"}]}`))
	}))
	defer srv.Close()

	c := fastClient(t, srv.URL)
	for i := 0; i < 3; i++ {
		code, err := c.Lookup(context.Background(), "Blk 5  Tampines St 11")
		require.NoError(t, err)
		assert.Equal(t, "520123", code)
	}
	// folded spelling hits the same cache entry
	_, err := c.Lookup(context.Background(), "blk 5 tampines st 11")
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestLookupEmptyResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"found":0,"results":[]}`))
	}))
	defer srv.Close()

	code, err := fastClient(t, srv.URL).Lookup(context.Background(), "unknown place")
	require.NoError(t, err)
	assert.Empty(t, code)
}

func TestLookupNilPostal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":[{"POSTAL":"NIL"}]}`))
	}))
	defer srv.Close()

	code, err := fastClient(t, srv.URL).Lookup(context.Background(), "some island")
	require.NoError(t, err)
	assert.Empty(t, code)
}
