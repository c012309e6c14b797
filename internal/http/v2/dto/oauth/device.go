package oauth

// DeviceAuthorizationResponse is returned by POST /device_authorization (RFC 8628).
type DeviceAuthorizationResponse struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri,omitempty"`
	VerificationURIComplete string `json:"verification_uri_complete,omitempty"`
	ExpiresIn               int64  `json:"expires_in"`
	Interval                int64  `json:"interval"`
}

// DeviceVerifyRequest approves or denies a pending device authorization.
type DeviceVerifyRequest struct {
	UserCode string `json:"user_code"`
	Subject  string `json:"sub"`
	Approve  bool   `json:"approve"`
}
