package jwks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v3"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL is how long a fetched key set is served before it is
// re-fetched from the IdP.
const DefaultTTL = 24 * time.Hour

// ErrKeySetUnavailable is returned when the key set cannot be fetched and no
// previously cached set exists.
var ErrKeySetUnavailable = errors.New("signing key set unavailable")

// ErrKeyNotFound is returned when the requested key id is absent even after
// a forced refresh.
var ErrKeyNotFound = errors.New("signing key not found")

// Cache fetches and caches the IdP's JSON Web Key Set. A fetched set is
// served for the TTL; a failed refresh keeps serving the stale set so an
// IdP outage does not invalidate currently-verifiable tokens. Concurrent
// refreshes collapse into a single upstream fetch.
type Cache struct {
	url    string
	ttl    time.Duration
	client *http.Client

	mu      sync.RWMutex
	set     jose.JSONWebKeySet
	fetched time.Time

	group singleflight.Group
}

// New builds a cache for the given JWKS URL. A nil client falls back to
// http.DefaultClient; a non-positive ttl means DefaultTTL.
func New(url string, ttl time.Duration, client *http.Client) *Cache {
	if client == nil {
		client = http.DefaultClient
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{url: url, ttl: ttl, client: client}
}

// Keys returns the cached key set, fetching it when the cache is cold or
// past its TTL.
func (c *Cache) Keys(ctx context.Context) (jose.JSONWebKeySet, error) {
	c.mu.RLock()
	set, fetched := c.set, c.fetched
	c.mu.RUnlock()

	if len(set.Keys) > 0 && time.Since(fetched) < c.ttl {
		return set, nil
	}
	return c.refresh(ctx)
}

// Refresh re-fetches the key set regardless of TTL. The IdP rotates keys
// without notice, so the validator calls this once when a token names an
// unknown key id.
func (c *Cache) Refresh(ctx context.Context) (jose.JSONWebKeySet, error) {
	return c.refresh(ctx)
}

// KeyByID returns the key with the given id. An unknown id triggers one
// forced refresh before giving up.
func (c *Cache) KeyByID(ctx context.Context, kid string) (*jose.JSONWebKey, error) {
	set, err := c.Keys(ctx)
	if err != nil {
		return nil, err
	}
	if key := findKey(set, kid); key != nil {
		return key, nil
	}

	set, err = c.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	if key := findKey(set, kid); key != nil {
		return key, nil
	}
	return nil, fmt.Errorf("%w: kid %q", ErrKeyNotFound, kid)
}

func (c *Cache) refresh(ctx context.Context) (jose.JSONWebKeySet, error) {
	v, err, _ := c.group.Do("jwks", func() (interface{}, error) {
		fresh, err := c.fetch(ctx)
		if err != nil {
			c.mu.RLock()
			stale := c.set
			c.mu.RUnlock()
			if len(stale.Keys) > 0 {
				// Keep serving the stale set through an IdP outage.
				log.Printf("JWKS refresh failed, serving stale key set: %v", err)
				return stale, nil
			}
			return jose.JSONWebKeySet{}, fmt.Errorf("%w: %v", ErrKeySetUnavailable, err)
		}

		c.mu.Lock()
		c.set = fresh
		c.fetched = time.Now()
		c.mu.Unlock()
		return fresh, nil
	})
	if err != nil {
		return jose.JSONWebKeySet{}, err
	}
	return v.(jose.JSONWebKeySet), nil
}

func (c *Cache) fetch(ctx context.Context) (jose.JSONWebKeySet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return jose.JSONWebKeySet{}, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return jose.JSONWebKeySet{}, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return jose.JSONWebKeySet{}, fmt.Errorf("jwks fetch failed: %s", resp.Status)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return jose.JSONWebKeySet{}, fmt.Errorf("failed to decode jwks: %w", err)
	}
	if len(set.Keys) == 0 {
		return jose.JSONWebKeySet{}, errors.New("jwks response contained no keys")
	}
	return set, nil
}

func findKey(set jose.JSONWebKeySet, kid string) *jose.JSONWebKey {
	for _, k := range set.Keys {
		if kid == "" || k.KeyID == kid {
			key := k
			return &key
		}
	}
	return nil
}
