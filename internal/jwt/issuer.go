package jwt

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	jwtv5 "github.com/golang-jwt/jwt/v5"
)

const DefaultAccessTTL = 15 * time.Minute

var (
	// ErrExpired: firma válida pero exp vencido.
	ErrExpired = errors.New("token_expired")
	// ErrInvalid: malformado, firma inválida, kid desconocido, iss incorrecto.
	ErrInvalid = errors.New("token_invalid")
)

// Claims de un access token. Los campos propios van planos junto a los registrados.
type Claims struct {
	TenantID string   `json:"tid"`
	Username string   `json:"preferred_username,omitempty"`
	Roles    []string `json:"roles,omitempty"`
	Scope    string   `json:"scope,omitempty"`
	jwtv5.RegisteredClaims
}

// MintRequest describe al principal autenticado.
type MintRequest struct {
	Subject  string
	TenantID string
	Username string
	Roles    []string
	Scope    string
	Audience string
}

// Issuer firma tokens con la clave activa del keystore.
type Issuer struct {
	Iss       string        // "iss"
	Keys      *Keystore     // keystore persistente
	AccessTTL time.Duration // TTL por defecto de access tokens
	Leeway    time.Duration // tolerancia de reloj en validación

	now func() time.Time
}

func NewIssuer(iss string, ks *Keystore) *Issuer {
	return &Issuer{
		Iss:       iss,
		Keys:      ks,
		AccessTTL: DefaultAccessTTL,
		now:       time.Now,
	}
}

// WithClock reemplaza el reloj (tests).
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	i.now = now
	return i
}

// Mint emite un access token EdDSA con header kid/typ.
func (i *Issuer) Mint(ctx context.Context, req MintRequest) (string, time.Time, error) {
	if req.Subject == "" || req.TenantID == "" {
		return "", time.Time{}, errors.New("jwt: subject and tenant are required")
	}
	kid, priv, _, err := i.Keys.Active(ctx)
	if err != nil {
		return "", time.Time{}, err
	}
	now := i.now().UTC().Truncate(time.Second)
	exp := now.Add(i.AccessTTL)
	roles := req.Roles
	if roles == nil {
		roles = []string{}
	}
	claims := Claims{
		TenantID: req.TenantID,
		Username: req.Username,
		Roles:    roles,
		Scope:    req.Scope,
		RegisteredClaims: jwtv5.RegisteredClaims{
			Issuer:    i.Iss,
			Subject:   req.Subject,
			IssuedAt:  jwtv5.NewNumericDate(now),
			NotBefore: jwtv5.NewNumericDate(now),
			ExpiresAt: jwtv5.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	if req.Audience != "" {
		claims.Audience = jwtv5.ClaimStrings{req.Audience}
	}
	tk := jwtv5.NewWithClaims(jwtv5.SigningMethodEdDSA, claims)
	tk.Header["kid"] = kid
	tk.Header["typ"] = "JWT"
	signed, err := tk.SignedString(priv)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// keyfunc elige la pubkey por 'kid' (active/retiring). Sin kid no hay fallback.
func (i *Issuer) keyfunc(ctx context.Context) jwtv5.Keyfunc {
	return func(t *jwtv5.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		pub, err := i.Keys.PublicKeyByKID(ctx, kid)
		if err != nil {
			return nil, err
		}
		return ed25519.PublicKey(pub), nil
	}
}

// Validate verifica firma, iss, exp y nbf. Devuelve ErrExpired o ErrInvalid
// (envueltos con el detalle) para que los adapters respondan con precisión.
func (i *Issuer) Validate(ctx context.Context, token string) (*Claims, error) {
	if token == "" {
		return nil, ErrInvalid
	}
	opts := []jwtv5.ParserOption{
		jwtv5.WithValidMethods([]string{AlgEdDSA}),
		jwtv5.WithTimeFunc(i.now),
		jwtv5.WithExpirationRequired(),
		jwtv5.WithIssuedAt(),
		jwtv5.WithLeeway(i.Leeway),
	}
	if i.Iss != "" {
		opts = append(opts, jwtv5.WithIssuer(i.Iss))
	}
	var claims Claims
	tok, err := jwtv5.ParseWithClaims(token, &claims, i.keyfunc(ctx), opts...)
	if err != nil {
		// ErrTokenExpired solo se evalúa después de verificar la firma
		if errors.Is(err, jwtv5.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if !tok.Valid || claims.Subject == "" || claims.TenantID == "" {
		return nil, ErrInvalid
	}
	return &claims, nil
}

// Introspect nunca falla: active=false para cualquier token no válido.
func (i *Issuer) Introspect(ctx context.Context, token string) (*Claims, bool) {
	c, err := i.Validate(ctx, token)
	if err != nil {
		return nil, false
	}
	return c, true
}

// JWKSJSON expone el JWKS actual (active+retiring).
func (i *Issuer) JWKSJSON(ctx context.Context) ([]byte, error) {
	return i.Keys.JWKSJSON(ctx)
}
