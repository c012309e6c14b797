package grant

import (
	"context"
	"slices"
	"strings"

	"github.com/dropDatabas3/grantengine/internal/domain/repository"
	"github.com/dropDatabas3/grantengine/internal/observability/logger"
)

// ScopeOpenID habilita el id_token.
const ScopeOpenID = "openid"

// SetOptions controla qué tokens se emiten para un grant.
type SetOptions struct {
	Client *repository.Client
	// AccessKind es access por defecto; rpt o pat para UMA.
	AccessKind repository.TokenKind
	Refresh    bool
	// IDToken solo se emite si el grant tiene owner y scope openid.
	IDToken  bool
	MintedBy string
	Scopes   []string
	Claims   map[string]any
}

// IssueSet emite access (+ refresh, + id_token) y arma la respuesta del token endpoint.
func (r *Registry) IssueSet(ctx context.Context, g *repository.Grant, opts SetOptions) (*repository.TokenSet, []*repository.Token, error) {
	kind := opts.AccessKind
	if kind == "" {
		kind = repository.TokenAccess
	}
	access, err := r.IssueToken(ctx, g, kind, opts.Client, MintOptions{
		MintedBy: opts.MintedBy,
		Scopes:   opts.Scopes,
		Claims:   opts.Claims,
	})
	if err != nil {
		return nil, nil, err
	}
	issued := []*repository.Token{access}
	set := &repository.TokenSet{
		AccessToken: access.Value,
		TokenType:   "Bearer",
		ExpiresIn:   access.ExpiresIn(access.IssuedAt),
		Scope:       strings.Join(access.Scopes, " "),
	}

	if opts.Refresh {
		refresh, err := r.IssueToken(ctx, g, repository.TokenRefresh, opts.Client, MintOptions{})
		if err != nil {
			r.discard(ctx, issued)
			return nil, nil, err
		}
		issued = append(issued, refresh)
		set.RefreshToken = refresh.Value
	}

	if opts.IDToken && g.OwnerID != "" && slices.Contains(access.Scopes, ScopeOpenID) {
		id, err := r.IssueToken(ctx, g, repository.TokenID, opts.Client, MintOptions{AccessToken: access.Value})
		if err != nil {
			r.discard(ctx, issued)
			return nil, nil, err
		}
		issued = append(issued, id)
		set.IDToken = id.Value
	}
	return set, issued, nil
}

// discard desactiva los tokens ya persistidos de un set que no se entregó.
func (r *Registry) discard(ctx context.Context, issued []*repository.Token) {
	for _, t := range issued {
		if err := r.Deactivate(ctx, t); err != nil {
			logger.From(ctx).Error("deactivate partial token set failed",
				logger.Layer("service"), logger.Component("grant.registry"),
				logger.GrantID(t.GrantID), logger.Err(err))
		}
	}
}
