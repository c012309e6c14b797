package jwt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
)

type jwksCacheEntry struct {
	set *jose.JSONWebKeySet
	exp time.Time
}

// JWKSLoader obtiene el JWKS crudo de un jwks_uri.
type JWKSLoader func(ctx context.Context, uri string) ([]byte, error)

// JWKSCache cachea JWKS remotos de clientes (private_key_jwt con jwks_uri) por un TTL corto.
type JWKSCache struct {
	mu   sync.RWMutex
	ttl  time.Duration
	load JWKSLoader

	items map[string]jwksCacheEntry // uri -> entry
}

func NewJWKSCache(ttl time.Duration, loader JWKSLoader) *JWKSCache {
	return &JWKSCache{
		ttl:   ttl,
		load:  loader,
		items: make(map[string]jwksCacheEntry),
	}
}

func (c *JWKSCache) Get(ctx context.Context, uri string) (*jose.JSONWebKeySet, error) {
	now := time.Now()

	c.mu.RLock()
	if e, ok := c.items[uri]; ok && now.Before(e.exp) {
		c.mu.RUnlock()
		return e.set, nil
	}
	c.mu.RUnlock()

	data, err := c.load(ctx, uri)
	if err != nil {
		return nil, err
	}
	set, err := ParseJWKS(data)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.items[uri] = jwksCacheEntry{set: set, exp: now.Add(c.ttl)}
	c.mu.Unlock()
	return set, nil
}

// Invalidate descarta el JWKS cacheado de uri.
func (c *JWKSCache) Invalidate(uri string) {
	c.mu.Lock()
	delete(c.items, uri)
	c.mu.Unlock()
}

// ParseJWKS decodifica un JWKS JSON.
func ParseJWKS(data []byte) (*jose.JSONWebKeySet, error) {
	var set jose.JSONWebKeySet
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("jwks: %w", err)
	}
	return &set, nil
}

// HTTPJWKSLoader descarga el JWKS con el cliente dado, limitando el cuerpo a 1MB.
func HTTPJWKSLoader(hc *http.Client) JWKSLoader {
	return func(ctx context.Context, uri string) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		resp, err := hc.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("jwks %s: status %d", uri, resp.StatusCode)
		}
		return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	}
}
