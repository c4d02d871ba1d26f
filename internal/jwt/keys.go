package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"time"
)

const AlgEdDSA = "EdDSA"

// GenerateEd25519 genera un par de claves nuevo.
func GenerateEd25519() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	return ed25519.GenerateKey(rand.Reader)
}

// EncodeBase64URL codifica sin padding (formato JWK).
func EncodeBase64URL(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// newKID: prefijo + timestamp + sufijo aleatorio, para no chocar si se rota
// dos veces en el mismo segundo.
func newKID(prefix string, now time.Time) string {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return prefix + "-" + now.UTC().Format("20060102T150405Z") + "-" + hex.EncodeToString(b[:])
}
