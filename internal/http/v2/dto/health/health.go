// Package health contiene los DTOs de /readyz.
package health

import "time"

// HealthStatus es el estado de un componente.
type HealthStatus struct {
	Status  string `json:"status"` // "ok", "error", "disabled"
	Message string `json:"message,omitempty"`
}

// HealthResponse es la respuesta de /readyz.
type HealthResponse struct {
	Status      string                  `json:"status"` // "ready", "degraded", "unavailable"
	Version     string                  `json:"version,omitempty"`
	ActiveKeyID string                  `json:"active_kid,omitempty"`
	Components  map[string]HealthStatus `json:"components"`
	Cluster     map[string]any          `json:"cluster,omitempty"`
	Timestamp   time.Time               `json:"timestamp"`
}
