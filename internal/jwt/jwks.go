package jwt

import (
	"context"
	"crypto/ed25519"
	"encoding/json"

	jose "github.com/go-jose/go-jose/v4"
)

// JWKSJSON devuelve el JWKS publicable (active + retiring vigentes) con cache corto.
func (k *Keystore) JWKSJSON(ctx context.Context) ([]byte, error) {
	_, b, err := k.published(ctx, false)
	return b, err
}

// published arma (o lee del cache) las pubkeys publicables y su JWKS.
func (k *Keystore) published(ctx context.Context, force bool) (map[string]ed25519.PublicKey, []byte, error) {
	now := k.clk.Now()
	if !force {
		k.mu.RLock()
		if now.Before(k.jwksUntil) && len(k.lastJWKS) > 0 {
			defer k.mu.RUnlock()
			return k.pubs, k.lastJWKS, nil
		}
		k.mu.RUnlock()
	}

	recs, err := k.Published(ctx)
	if err != nil {
		return nil, nil, err
	}
	pubs := make(map[string]ed25519.PublicKey, len(recs))
	set := jose.JSONWebKeySet{Keys: make([]jose.JSONWebKey, 0, len(recs))}
	for _, r := range recs {
		raw, err := DecodeBase64URL(r.PublicB64)
		if err != nil || len(raw) != ed25519.PublicKeySize {
			continue
		}
		pub := ed25519.PublicKey(raw)
		pubs[r.KID] = pub
		set.Keys = append(set.Keys, jose.JSONWebKey{
			Key:       pub,
			KeyID:     r.KID,
			Algorithm: r.Algorithm,
			Use:       "sig",
		})
	}
	b, err := json.Marshal(set)
	if err != nil {
		return nil, nil, err
	}

	k.mu.Lock()
	k.pubs = pubs
	k.lastJWKS = b
	k.jwksUntil = now.Add(k.jwksTTL)
	k.mu.Unlock()
	return pubs, b, nil
}
