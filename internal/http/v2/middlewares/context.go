package middlewares

import (
	"context"

	"github.com/dropDatabas3/grantengine/internal/domain/repository"
)

type ctxKey string

const (
	ctxRequestIDKey ctxKey = "request_id"
	// ctxClientKey guarda el cliente ya autenticado
	ctxClientKey ctxKey = "client"
)

func setRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxRequestIDKey, requestID)
}

// WithClient inyecta el cliente autenticado en el contexto.
func WithClient(ctx context.Context, c *repository.Client) context.Context {
	return context.WithValue(ctx, ctxClientKey, c)
}

// GetRequestID obtiene el request ID del contexto ("" si no hay).
func GetRequestID(ctx context.Context) string {
	if v, ok := ctx.Value(ctxRequestIDKey).(string); ok {
		return v
	}
	return ""
}

// GetClient obtiene el cliente autenticado por RequireClient.
// Retorna nil si el middleware no se aplicó.
func GetClient(ctx context.Context) *repository.Client {
	if c, ok := ctx.Value(ctxClientKey).(*repository.Client); ok {
		return c
	}
	return nil
}
