package oauth

// RevokeRequest holds the form data for POST /revoke (RFC 7009).
type RevokeRequest struct {
	Token         string
	TokenTypeHint string
}

// SessionRevokeRequest is the admin body for POST /session/revoke.
type SessionRevokeRequest struct {
	GrantID string `json:"grant_id"`
}
