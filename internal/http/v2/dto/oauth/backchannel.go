package oauth

// BackchannelRequest holds the form data for POST /bc-authorize.
type BackchannelRequest struct {
	Scope                   string
	LoginHint               string
	BindingMessage          string
	ACRValues               string
	UserCode                string
	ClientNotificationToken string
	RequestedExpiry         int64
}

// BackchannelResponse is the CIBA authentication request acknowledgement.
type BackchannelResponse struct {
	AuthReqID string `json:"auth_req_id"`
	ExpiresIn int64  `json:"expires_in"`
	// Interval is omitted for push clients.
	Interval int64 `json:"interval,omitempty"`
}

// BackchannelResolveRequest is the body of POST /ciba/resolve, sent by the
// authentication channel once the user decided.
type BackchannelResolveRequest struct {
	AuthReqID string `json:"auth_req_id"`
	Approved  bool   `json:"approved"`
}
