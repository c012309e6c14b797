package oauth

// TokenRequest holds the form parameters of POST /token for every supported grant_type.
type TokenRequest struct {
	GrantType string
	Scope     string

	// authorization_code
	Code         string
	RedirectURI  string
	CodeVerifier string

	// refresh_token
	RefreshToken string

	// urn:ietf:params:oauth:grant-type:device_code
	DeviceCode string

	// urn:openid:params:grant-type:ciba
	AuthReqID string

	// urn:ietf:params:oauth:grant-type:uma-ticket
	Ticket string
}

// TokenResponse is the successful token endpoint response.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
	Upgraded     bool   `json:"upgraded,omitempty"`
}
