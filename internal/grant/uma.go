package grant

import (
	"context"
	"time"

	"github.com/dropDatabas3/grantengine/internal/domain/oautherr"
	"github.com/dropDatabas3/grantengine/internal/domain/repository"
	tokens "github.com/dropDatabas3/grantengine/internal/security/token"
	"github.com/dropDatabas3/grantengine/internal/store"
)

// ScopeUMAProtection es el scope que convierte un client_credentials en PAT.
const ScopeUMAProtection = "uma_protection"

// Permission es un permiso concedido dentro de un RPT.
type Permission struct {
	ResourceID     string   `json:"resource_id"`
	ResourceScopes []string `json:"resource_scopes,omitempty"`
}

// CreatePermissionTicket registra un ticket UMA a nombre del PAT presentado.
func (r *Registry) CreatePermissionTicket(ctx context.Context, pat *repository.Token, resourceID string, scopes []string) (string, time.Time, error) {
	if pat == nil || pat.Kind != repository.TokenPAT {
		return "", time.Time{}, oautherr.New(oautherr.InvalidGrant, "a protection API token is required")
	}
	if resourceID == "" {
		return "", time.Time{}, oautherr.New(oautherr.InvalidRequest, "resource_id is required")
	}
	ticket, err := tokens.GenerateOpaqueToken(tokens.OpaqueBytes)
	if err != nil {
		return "", time.Time{}, err
	}
	rec := &repository.PermissionTicket{
		Hash:       tokens.SHA256Base64URL(ticket),
		ResourceID: resourceID,
		Scopes:     scopes,
		PATGrantID: pat.GrantID,
		ExpiresAt:  r.clk.Now().Add(r.ticketTTL),
	}
	if _, ok, err := store.CASJSON(ctx, r.store, 0, ticketRecord(rec)); err != nil {
		return "", time.Time{}, err
	} else if !ok {
		return "", time.Time{}, oautherr.New(oautherr.ServerError, "ticket collision")
	}
	return ticket, rec.ExpiresAt, nil
}

// RedeemPermissionTicket consume el ticket una sola vez (CAS sobre Consumed).
func (r *Registry) RedeemPermissionTicket(ctx context.Context, ticket string) (*repository.PermissionTicket, error) {
	invalid := oautherr.New(oautherr.InvalidGrant, "invalid permission ticket")
	key := repository.Key(repository.NSTickets, tokens.SHA256Base64URL(ticket))

	var rec repository.PermissionTicket
	ver, err := store.GetJSON(ctx, r.store, key, &rec)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, invalid
		}
		return nil, err
	}
	if rec.Consumed || r.clk.Now().After(rec.ExpiresAt) {
		return nil, invalid
	}
	// el PAT que lo registró debe seguir vigente
	pg, err := r.Get(ctx, rec.PATGrantID)
	if err != nil && !repository.IsNotFound(err) {
		return nil, err
	}
	if err != nil || pg.Revoked() {
		return nil, invalid
	}
	rec.Consumed = true
	_, ok, err := store.CASJSON(ctx, r.store, ver, ticketRecord(&rec))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, invalid
	}
	return &rec, nil
}

func ticketRecord(t *repository.PermissionTicket) store.Record {
	return store.Record{
		Key:       repository.Key(repository.NSTickets, t.Hash),
		Attrs:     map[string]string{repository.AttrGrantID: t.PATGrantID},
		Value:     t,
		ExpiresAt: t.ExpiresAt,
	}
}
