package repository

import "time"

// KeyStatus indica el estado de una clave de firma.
type KeyStatus string

const (
	KeyStatusActive   KeyStatus = "active"
	KeyStatusRetiring KeyStatus = "retiring"
)

// SigningKeyRecord es la forma persistida de una clave EdDSA (keys/<kid>).
// La privada va cifrada con secretbox.
type SigningKeyRecord struct {
	KID        string    `json:"kid"`
	Algorithm  string    `json:"alg"`
	Status     KeyStatus `json:"status"`
	PrivateEnc string    `json:"priv_enc"`
	PublicB64  string    `json:"pub"`
	CreatedAt  time.Time `json:"created_at"`
	// NotAfter solo aplica a claves retiring: luego no se publican ni verifican.
	NotAfter *time.Time `json:"not_after,omitempty"`

	Version int64 `json:"-"`
}
