package jwt

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/grantengine/internal/clock"
	"github.com/dropDatabas3/grantengine/internal/domain/repository"
	"github.com/dropDatabas3/grantengine/internal/observability/logger"
	"github.com/dropDatabas3/grantengine/internal/security/secretbox"
	"github.com/dropDatabas3/grantengine/internal/store"
)

var (
	ErrNoActiveKey = errors.New("no_active_signing_key")
	ErrKIDNotFound = errors.New("kid_not_found")
)

// Keystore mantiene las claves de firma en el Store (keys/<kid>) con la
// privada cifrada, y un cache local corto de la activa y del JWKS.
type Keystore struct {
	store repository.Store
	box   *secretbox.Box
	clk   clock.Clock

	mu         sync.RWMutex
	activeKID  string
	activePriv ed25519.PrivateKey
	cacheUntil time.Time
	cacheTTL   time.Duration

	pubs      map[string]ed25519.PublicKey
	lastJWKS  []byte
	jwksUntil time.Time
	jwksTTL   time.Duration
}

func NewKeystore(s repository.Store, box *secretbox.Box, clk clock.Clock) *Keystore {
	return &Keystore{
		store:    s,
		box:      box,
		clk:      clk,
		cacheTTL: 30 * time.Second,
		jwksTTL:  15 * time.Second,
		pubs:     map[string]ed25519.PublicKey{},
	}
}

// EnsureBootstrap: si no hay clave activa, genera una.
func (k *Keystore) EnsureBootstrap(ctx context.Context) error {
	recs, err := k.list(ctx)
	if err != nil {
		return err
	}
	if pickActive(recs) != nil {
		return nil
	}
	_, err = k.create(ctx, "boot-")
	return err
}

// Rotate crea una nueva clave activa. Las activas previas pasan a retiring y
// se siguen publicando (y verificando) hasta now+grace.
func (k *Keystore) Rotate(ctx context.Context, grace time.Duration) (string, error) {
	log := logger.From(ctx).With(logger.Layer("jwt"), logger.Op("keys.rotate"))

	prev, err := k.list(ctx)
	if err != nil {
		return "", err
	}
	rec, err := k.create(ctx, "")
	if err != nil {
		return "", err
	}
	notAfter := k.clk.Now().Add(grace)
	for _, p := range prev {
		if p.Status != repository.KeyStatusActive {
			continue
		}
		p.Status = repository.KeyStatusRetiring
		p.NotAfter = &notAfter
		_, ok, err := store.CASJSON(ctx, k.store, p.Version, store.Record{
			Key:   repository.Key(repository.NSKeys, p.KID),
			Attrs: map[string]string{repository.AttrStatus: string(p.Status)},
			Value: p,
		})
		if err != nil {
			return "", err
		}
		if !ok {
			// otra instancia rotó en paralelo; Active elige la más nueva igual.
			log.Warn("retire lost cas", logger.String("kid", p.KID))
		}
	}
	k.Invalidate()
	log.Info("signing key rotated", logger.String("kid", rec.KID), logger.Int("retired", len(prev)))
	return rec.KID, nil
}

// Active devuelve la clave activa (cacheada).
func (k *Keystore) Active(ctx context.Context) (string, ed25519.PrivateKey, error) {
	now := k.clk.Now()
	k.mu.RLock()
	if now.Before(k.cacheUntil) && k.activeKID != "" {
		defer k.mu.RUnlock()
		return k.activeKID, k.activePriv, nil
	}
	k.mu.RUnlock()

	k.mu.Lock()
	defer k.mu.Unlock()
	if now.Before(k.cacheUntil) && k.activeKID != "" {
		return k.activeKID, k.activePriv, nil
	}
	recs, err := k.list(ctx)
	if err != nil {
		return "", nil, err
	}
	rec := pickActive(recs)
	if rec == nil {
		return "", nil, ErrNoActiveKey
	}
	priv, err := k.decryptPrivate(rec)
	if err != nil {
		return "", nil, err
	}
	k.activeKID = rec.KID
	k.activePriv = priv
	k.cacheUntil = now.Add(k.cacheTTL)
	return k.activeKID, k.activePriv, nil
}

// PublicKeyByKID devuelve la pubkey para un KID publicable (active o retiring
// vigente). Un kid desconocido fuerza una relectura, por si otra instancia rotó.
func (k *Keystore) PublicKeyByKID(ctx context.Context, kid string) (ed25519.PublicKey, error) {
	pubs, _, err := k.published(ctx, false)
	if err != nil {
		return nil, err
	}
	if pub, ok := pubs[kid]; ok {
		return pub, nil
	}
	pubs, _, err = k.published(ctx, true)
	if err != nil {
		return nil, err
	}
	if pub, ok := pubs[kid]; ok {
		return pub, nil
	}
	return nil, ErrKIDNotFound
}

// Published lista las claves que se publican en el JWKS: la activa y las
// retiring cuyo NotAfter no pasó.
func (k *Keystore) Published(ctx context.Context) ([]*repository.SigningKeyRecord, error) {
	recs, err := k.list(ctx)
	if err != nil {
		return nil, err
	}
	now := k.clk.Now()
	out := recs[:0]
	for _, r := range recs {
		if r.Status == repository.KeyStatusRetiring && r.NotAfter != nil && now.After(*r.NotAfter) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// Invalidate descarta los caches locales (activa, pubkeys y JWKS).
func (k *Keystore) Invalidate() {
	k.mu.Lock()
	k.activeKID, k.activePriv = "", nil
	k.cacheUntil, k.jwksUntil = time.Time{}, time.Time{}
	k.lastJWKS = nil
	k.pubs = map[string]ed25519.PublicKey{}
	k.mu.Unlock()
}

func (k *Keystore) create(ctx context.Context, prefix string) (*repository.SigningKeyRecord, error) {
	pub, priv, err := GenerateEd25519()
	if err != nil {
		return nil, err
	}
	enc, err := k.box.Encrypt(EncodeBase64URL(priv))
	if err != nil {
		return nil, fmt.Errorf("encrypt signing key: %w", err)
	}
	rec := &repository.SigningKeyRecord{
		KID:        prefix + uuid.NewString(),
		Algorithm:  AlgEdDSA,
		Status:     repository.KeyStatusActive,
		PrivateEnc: enc,
		PublicB64:  EncodeBase64URL(pub),
		CreatedAt:  k.clk.Now(),
	}
	ver, ok, err := store.CASJSON(ctx, k.store, 0, store.Record{
		Key:   repository.Key(repository.NSKeys, rec.KID),
		Attrs: map[string]string{repository.AttrStatus: string(rec.Status)},
		Value: rec,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: kid %s", repository.ErrConflict, rec.KID)
	}
	rec.Version = ver
	return rec, nil
}

func (k *Keystore) list(ctx context.Context) ([]*repository.SigningKeyRecord, error) {
	recs, versions, err := store.FindJSON[repository.SigningKeyRecord](ctx, k.store, repository.NSKeys, nil)
	if err != nil {
		return nil, err
	}
	for i := range recs {
		recs[i].Version = versions[i]
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].CreatedAt.After(recs[j].CreatedAt) })
	return recs, nil
}

func (k *Keystore) decryptPrivate(rec *repository.SigningKeyRecord) (ed25519.PrivateKey, error) {
	plain, err := k.box.Decrypt(rec.PrivateEnc)
	if err != nil {
		return nil, fmt.Errorf("decrypt signing key %s: %w", rec.KID, err)
	}
	raw, err := DecodeBase64URL(plain)
	if err != nil || len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("signing key %s: private key corrupta", rec.KID)
	}
	return ed25519.PrivateKey(raw), nil
}

// pickActive elige la activa más nueva; recs viene ordenado por CreatedAt desc.
func pickActive(recs []*repository.SigningKeyRecord) *repository.SigningKeyRecord {
	for _, r := range recs {
		if r.Status == repository.KeyStatusActive {
			return r
		}
	}
	return nil
}
