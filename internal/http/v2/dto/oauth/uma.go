package oauth

// PermissionRequest is the body of POST /uma/perm.
type PermissionRequest struct {
	ResourceID     string   `json:"resource_id"`
	ResourceScopes []string `json:"resource_scopes"`
}

// PermissionResponse carries the ticket the client exchanges for an RPT.
type PermissionResponse struct {
	Ticket    string `json:"ticket"`
	ExpiresIn int64  `json:"expires_in"`
}
