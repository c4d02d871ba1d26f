package repository

import (
	"context"
	"time"
)

type KeyStatus string

const (
	KeyActive   KeyStatus = "active"
	KeyRetiring KeyStatus = "retiring"
	KeyRetired  KeyStatus = "retired"
)

// SigningKey es una clave Ed25519 de firma de access tokens.
// PrivateKey va cifrada cuando el keystore tiene secretbox configurado.
type SigningKey struct {
	KID        string
	Alg        string
	PublicKey  []byte
	PrivateKey []byte
	Status     KeyStatus
	NotBefore  time.Time
	CreatedAt  time.Time
}

type SigningKeyRepository interface {
	// GetActive devuelve la clave activa más reciente. ErrNotFound si no hay.
	GetActive(ctx context.Context) (*SigningKey, error)
	// ListPublic devuelve active + retiring sin PrivateKey.
	ListPublic(ctx context.Context) ([]SigningKey, error)
	Insert(ctx context.Context, k *SigningKey) error
	// Rotate pasa la activa a retiring, las retiring a retired e inserta next como activa.
	Rotate(ctx context.Context, next *SigningKey) error
}
