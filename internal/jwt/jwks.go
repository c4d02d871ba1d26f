package jwt

import (
	"crypto/ed25519"
	"encoding/json"

	"github.com/dropDatabas3/idcore/internal/domain/repository"
)

// JWK de una clave Ed25519 (RFC 8037).
type JWK struct {
	Kty string `json:"kty"` // "OKP"
	Crv string `json:"crv"` // "Ed25519"
	Kid string `json:"kid"`
	Alg string `json:"alg"` // "EdDSA"
	Use string `json:"use"` // "sig"
	X   string `json:"x"`   // base64url(pub)
}

type JWKS struct {
	Keys []JWK `json:"keys"`
}

// buildJWKS arma el JWKS con las claves publicables (active + retiring).
func buildJWKS(keys []repository.SigningKey) []byte {
	set := JWKS{Keys: make([]JWK, 0, len(keys))}
	for _, k := range keys {
		if len(k.PublicKey) != ed25519.PublicKeySize {
			continue
		}
		alg := k.Alg
		if alg == "" {
			alg = AlgEdDSA
		}
		set.Keys = append(set.Keys, JWK{
			Kty: "OKP",
			Crv: "Ed25519",
			Kid: k.KID,
			Alg: alg,
			Use: "sig",
			X:   EncodeBase64URL(k.PublicKey),
		})
	}
	b, _ := json.Marshal(set)
	return b
}
