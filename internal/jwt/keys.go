package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
)

// AlgEdDSA es el único algoritmo con el que firma el servidor.
const AlgEdDSA = "EdDSA"

// GenerateEd25519 genera un par de claves nuevo.
func GenerateEd25519() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	return ed25519.GenerateKey(rand.Reader)
}

func EncodeBase64URL(b []byte) string { return base64.RawURLEncoding.EncodeToString(b) }

func DecodeBase64URL(s string) ([]byte, error) { return base64.RawURLEncoding.DecodeString(s) }
