package jwt

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dropDatabas3/idcore/internal/domain/repository"
	"github.com/dropDatabas3/idcore/internal/observability/logger"
	"github.com/dropDatabas3/idcore/internal/security/secretbox"
)

var (
	ErrNoActiveKey = errors.New("no_active_signing_key")
	ErrKIDNotFound = errors.New("kid_not_found")
)

type activeKey struct {
	kid  string
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// Keystore mantiene cache local de la clave activa y lee del store.
// Las cargas concurrentes se colapsan con singleflight.
type Keystore struct {
	repo repository.SigningKeyRepository
	box  *secretbox.Box // nil: la privada se guarda en claro (solo dev)

	sf singleflight.Group

	mu         sync.RWMutex
	active     *activeKey
	cacheUntil time.Time
	cacheTTL   time.Duration
	pubs       map[string]ed25519.PublicKey
	pubsUntil  time.Time

	lastJWKS  []byte
	jwksUntil time.Time
	jwksTTL   time.Duration
}

func NewKeystore(repo repository.SigningKeyRepository, box *secretbox.Box) *Keystore {
	return &Keystore{
		repo:     repo,
		box:      box,
		cacheTTL: 30 * time.Second,
		jwksTTL:  15 * time.Second,
		pubs:     map[string]ed25519.PublicKey{},
	}
}

func (k *Keystore) seal(priv ed25519.PrivateKey) ([]byte, error) {
	if k.box == nil {
		return priv, nil
	}
	s, err := k.box.Encrypt(string(priv))
	if err != nil {
		return nil, err
	}
	return []byte(s), nil
}

func (k *Keystore) open(stored []byte) (ed25519.PrivateKey, error) {
	if k.box == nil {
		if len(stored) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("jwt: private key has %d bytes", len(stored))
		}
		return ed25519.PrivateKey(stored), nil
	}
	s, err := k.box.Decrypt(string(stored))
	if err != nil {
		return nil, fmt.Errorf("jwt: decrypt private key: %w", err)
	}
	if len(s) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("jwt: private key has %d bytes", len(s))
	}
	return ed25519.PrivateKey(s), nil
}

func (k *Keystore) newKey(prefix string) (*repository.SigningKey, error) {
	pub, priv, err := GenerateEd25519()
	if err != nil {
		return nil, err
	}
	sealed, err := k.seal(priv)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &repository.SigningKey{
		KID:        newKID(prefix, now),
		Alg:        AlgEdDSA,
		PublicKey:  pub,
		PrivateKey: sealed,
		Status:     repository.KeyActive,
		NotBefore:  now,
	}, nil
}

// EnsureBootstrap: si no hay clave activa, genera una.
func (k *Keystore) EnsureBootstrap(ctx context.Context) error {
	_, err := k.repo.GetActive(ctx)
	if err == nil {
		return nil
	}
	if !repository.IsNotFound(err) {
		return err
	}
	key, err := k.newKey("boot")
	if err != nil {
		return err
	}
	if err := k.repo.Insert(ctx, key); err != nil {
		return err
	}
	logger.From(ctx).Info("signing key bootstrapped", logger.String("kid", key.KID))
	return nil
}

// Rotate genera una clave nueva. La anterior queda retiring (sigue en JWKS
// para verificar tokens emitidos) y la retiring previa pasa a retired.
func (k *Keystore) Rotate(ctx context.Context) (string, error) {
	key, err := k.newKey("key")
	if err != nil {
		return "", err
	}
	if err := k.repo.Rotate(ctx, key); err != nil {
		return "", err
	}
	k.Invalidate()
	logger.From(ctx).Info("signing key rotated", logger.String("kid", key.KID))
	return key.KID, nil
}

// Invalidate descarta las caches locales.
func (k *Keystore) Invalidate() {
	k.mu.Lock()
	k.active = nil
	k.cacheUntil = time.Time{}
	k.pubs = map[string]ed25519.PublicKey{}
	k.pubsUntil = time.Time{}
	k.lastJWKS = nil
	k.jwksUntil = time.Time{}
	k.mu.Unlock()
}

// Active devuelve la clave activa (cacheada).
func (k *Keystore) Active(ctx context.Context) (kid string, priv ed25519.PrivateKey, pub ed25519.PublicKey, err error) {
	k.mu.RLock()
	if a := k.active; a != nil && time.Now().Before(k.cacheUntil) {
		k.mu.RUnlock()
		return a.kid, a.priv, a.pub, nil
	}
	k.mu.RUnlock()

	v, err, _ := k.sf.Do("active", func() (interface{}, error) {
		rec, err := k.repo.GetActive(ctx)
		if err != nil {
			if repository.IsNotFound(err) {
				return nil, ErrNoActiveKey
			}
			return nil, err
		}
		priv, err := k.open(rec.PrivateKey)
		if err != nil {
			return nil, err
		}
		a := &activeKey{kid: rec.KID, priv: priv, pub: ed25519.PublicKey(rec.PublicKey)}
		k.mu.Lock()
		k.active = a
		k.cacheUntil = time.Now().Add(k.cacheTTL)
		k.mu.Unlock()
		return a, nil
	})
	if err != nil {
		return "", nil, nil, err
	}
	a := v.(*activeKey)
	return a.kid, a.priv, a.pub, nil
}

// PublicKeyByKID devuelve la pubkey para un KID (active o retiring).
func (k *Keystore) PublicKeyByKID(ctx context.Context, kid string) (ed25519.PublicKey, error) {
	if kid == "" {
		return nil, ErrKIDNotFound
	}
	k.mu.RLock()
	pub, ok := k.pubs[kid]
	fresh := time.Now().Before(k.pubsUntil)
	k.mu.RUnlock()
	if ok && fresh {
		return pub, nil
	}

	v, err, _ := k.sf.Do("public", func() (interface{}, error) {
		keys, err := k.repo.ListPublic(ctx)
		if err != nil {
			return nil, err
		}
		m := make(map[string]ed25519.PublicKey, len(keys))
		for _, r := range keys {
			m[r.KID] = ed25519.PublicKey(r.PublicKey)
		}
		k.mu.Lock()
		k.pubs = m
		k.pubsUntil = time.Now().Add(k.cacheTTL)
		k.mu.Unlock()
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	if pub, ok := v.(map[string]ed25519.PublicKey)[kid]; ok {
		return pub, nil
	}
	return nil, ErrKIDNotFound
}

// JWKSJSON construye el JWKS desde el store (cache corto).
func (k *Keystore) JWKSJSON(ctx context.Context) ([]byte, error) {
	k.mu.RLock()
	if len(k.lastJWKS) > 0 && time.Now().Before(k.jwksUntil) {
		defer k.mu.RUnlock()
		return k.lastJWKS, nil
	}
	k.mu.RUnlock()

	v, err, _ := k.sf.Do("jwks", func() (interface{}, error) {
		keys, err := k.repo.ListPublic(ctx)
		if err != nil {
			return nil, err
		}
		j := buildJWKS(keys)
		k.mu.Lock()
		k.lastJWKS = j
		k.jwksUntil = time.Now().Add(k.jwksTTL)
		k.mu.Unlock()
		return j, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}
