// Package oauth contains DTOs for OAuth2/OIDC endpoints.
package oauth

// CodeRequest is the JSON body for POST /authorize/code.
// The caller has already authenticated the user; this endpoint only mints the code.
type CodeRequest struct {
	ClientID            string `json:"client_id"`
	Subject             string `json:"sub"`
	RedirectURI         string `json:"redirect_uri"`
	Scope               string `json:"scope"`
	State               string `json:"state,omitempty"`
	Nonce               string `json:"nonce,omitempty"`
	ACR                 string `json:"acr,omitempty"`
	CodeChallenge       string `json:"code_challenge,omitempty"`
	CodeChallengeMethod string `json:"code_challenge_method,omitempty"`
}

// CodeResponse is returned by POST /authorize/code.
type CodeResponse struct {
	Code        string `json:"code"`
	State       string `json:"state,omitempty"`
	RedirectURI string `json:"redirect_uri"`
	// RedirectTo is redirect_uri with code (and state) appended, ready for a 302.
	RedirectTo string `json:"redirect_to"`
}
