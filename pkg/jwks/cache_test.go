package jwks

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKeySet(t *testing.T, kids ...string) jose.JSONWebKeySet {
	t.Helper()
	var set jose.JSONWebKeySet
	for _, kid := range kids {
		priv, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		set.Keys = append(set.Keys, jose.JSONWebKey{
			Key:       &priv.PublicKey,
			KeyID:     kid,
			Algorithm: "RS256",
			Use:       "sig",
		})
	}
	return set
}

func TestKeysCachedWithinTTL(t *testing.T) {
	set := testKeySet(t, "kid-1")

	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(set))
	}))
	defer server.Close()

	cache := New(server.URL, time.Hour, server.Client())

	first, err := cache.Keys(context.Background())
	require.NoError(t, err)
	require.Len(t, first.Keys, 1)
	assert.Equal(t, "kid-1", first.Keys[0].KeyID)

	second, err := cache.Keys(context.Background())
	require.NoError(t, err)
	require.Len(t, second.Keys, 1)

	assert.Equal(t, int64(1), hits.Load(), "second lookup must be served from cache")
}

func TestConcurrentColdStartFetchesOnce(t *testing.T) {
	set := testKeySet(t, "kid-1")

	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		time.Sleep(50 * time.Millisecond)
		require.NoError(t, json.NewEncoder(w).Encode(set))
	}))
	defer server.Close()

	cache := New(server.URL, time.Hour, server.Client())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			keys, err := cache.Keys(context.Background())
			assert.NoError(t, err)
			assert.Len(t, keys.Keys, 1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), hits.Load(), "concurrent cold misses must collapse into one fetch")
}

func TestStaleSetServedOnRefreshFailure(t *testing.T) {
	set := testKeySet(t, "kid-1")

	var fail atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		require.NoError(t, json.NewEncoder(w).Encode(set))
	}))
	defer server.Close()

	cache := New(server.URL, 50*time.Millisecond, server.Client())

	_, err := cache.Keys(context.Background())
	require.NoError(t, err)

	fail.Store(true)
	time.Sleep(60 * time.Millisecond)

	keys, err := cache.Keys(context.Background())
	require.NoError(t, err, "stale set must be preserved through an outage")
	require.Len(t, keys.Keys, 1)
	assert.Equal(t, "kid-1", keys.Keys[0].KeyID)
}

func TestColdFetchFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cache := New(server.URL, time.Hour, server.Client())

	_, err := cache.Keys(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrKeySetUnavailable)
}

func TestEmptyKeySetIsFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"keys":[]}`))
	}))
	defer server.Close()

	cache := New(server.URL, time.Hour, server.Client())

	_, err := cache.Keys(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrKeySetUnavailable)
}

func TestKeyByIDRefreshesOnUnknownKid(t *testing.T) {
	rotated := testKeySet(t, "kid-1", "kid-2")
	initial := jose.JSONWebKeySet{Keys: rotated.Keys[:1]}

	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			require.NoError(t, json.NewEncoder(w).Encode(initial))
			return
		}
		require.NoError(t, json.NewEncoder(w).Encode(rotated))
	}))
	defer server.Close()

	cache := New(server.URL, time.Hour, server.Client())

	key, err := cache.KeyByID(context.Background(), "kid-2")
	require.NoError(t, err)
	assert.Equal(t, "kid-2", key.KeyID)
	assert.Equal(t, int64(2), hits.Load(), "unknown kid must force exactly one refresh")
}

func TestKeyByIDUnknownAfterRefresh(t *testing.T) {
	set := testKeySet(t, "kid-1")

	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		require.NoError(t, json.NewEncoder(w).Encode(set))
	}))
	defer server.Close()

	cache := New(server.URL, time.Hour, server.Client())

	_, err := cache.KeyByID(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrKeyNotFound)
	assert.Equal(t, int64(2), hits.Load())
}
