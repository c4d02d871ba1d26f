package jwt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/idcore/internal/security/secretbox"
	"github.com/dropDatabas3/idcore/internal/store/memory"
)

func newIssuer(t *testing.T) (*Issuer, *memory.Store) {
	t.Helper()
	st := memory.New()
	box, err := secretbox.New(bytes.Repeat([]byte{9}, 32))
	require.NoError(t, err)
	ks := NewKeystore(st.Keys(), box)
	require.NoError(t, ks.EnsureBootstrap(context.Background()))
	return NewIssuer("https://id.example.com", ks), st
}

func mint(t *testing.T, iss *Issuer) string {
	t.Helper()
	tok, _, err := iss.Mint(context.Background(), MintRequest{
		Subject: "p1", TenantID: "t1", Username: "ana", Roles: []string{"Tenant Administrator"}, Scope: "openid",
	})
	require.NoError(t, err)
	return tok
}

func TestMintValidate_RoundTrip(t *testing.T) {
	iss, _ := newIssuer(t)
	tok := mint(t, iss)

	c, err := iss.Validate(context.Background(), tok)
	require.NoError(t, err)
	require.Equal(t, "p1", c.Subject)
	require.Equal(t, "t1", c.TenantID)
	require.Equal(t, "ana", c.Username)
	require.Equal(t, []string{"Tenant Administrator"}, c.Roles)
	require.Equal(t, "https://id.example.com", c.Issuer)
	require.Equal(t, DefaultAccessTTL, c.ExpiresAt.Sub(c.IssuedAt.Time))

	_, active := iss.Introspect(context.Background(), tok)
	require.True(t, active)
}

func TestValidate_ExpiredVsInvalid(t *testing.T) {
	iss, _ := newIssuer(t)
	ctx := context.Background()

	past := time.Now().Add(-2 * time.Hour)
	iss.WithClock(func() time.Time { return past })
	old := mint(t, iss)
	iss.WithClock(time.Now)

	_, err := iss.Validate(ctx, old)
	require.ErrorIs(t, err, ErrExpired)
	_, active := iss.Introspect(ctx, old)
	require.False(t, active)

	good := mint(t, iss)
	parts := strings.Split(good, ".")
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	tampered := parts[0] + "." + parts[1] + "." + string(sig)
	_, err = iss.Validate(ctx, tampered)
	require.ErrorIs(t, err, ErrInvalid)
	require.False(t, errors.Is(err, ErrExpired))

	for _, bad := range []string{"", "garbage", "a.b.c"} {
		_, err = iss.Validate(ctx, bad)
		require.ErrorIs(t, err, ErrInvalid, bad)
		_, active = iss.Introspect(ctx, bad)
		require.False(t, active)
	}
}

func TestValidate_WrongIssuer(t *testing.T) {
	iss, _ := newIssuer(t)
	tok := mint(t, iss)
	other := NewIssuer("https://other.example.com", iss.Keys)
	_, err := other.Validate(context.Background(), tok)
	require.ErrorIs(t, err, ErrInvalid)
}

func TestRotate_RetiringKeyStillVerifies(t *testing.T) {
	iss, st := newIssuer(t)
	ctx := context.Background()
	before := mint(t, iss)
	oldKID, _, _, err := iss.Keys.Active(ctx)
	require.NoError(t, err)

	newKID, err := iss.Keys.Rotate(ctx)
	require.NoError(t, err)
	require.NotEqual(t, oldKID, newKID)

	kid, _, _, err := iss.Keys.Active(ctx)
	require.NoError(t, err)
	require.Equal(t, newKID, kid)

	_, err = iss.Validate(ctx, before)
	require.NoError(t, err)

	raw, err := iss.JWKSJSON(ctx)
	require.NoError(t, err)
	var set JWKS
	require.NoError(t, json.Unmarshal(raw, &set))
	require.Len(t, set.Keys, 2)
	require.Equal(t, newKID, set.Keys[0].Kid)
	for _, k := range set.Keys {
		require.Equal(t, "OKP", k.Kty)
		require.Equal(t, "Ed25519", k.Crv)
		require.Equal(t, "EdDSA", k.Alg)
		require.Equal(t, "sig", k.Use)
	}

	// segunda rotación: la primera clave queda retired y sus tokens dejan de validar
	_, err = iss.Keys.Rotate(ctx)
	require.NoError(t, err)
	_, err = iss.Validate(ctx, before)
	require.ErrorIs(t, err, ErrInvalid)

	keys, err := st.Keys().ListPublic(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 2)
	for _, k := range keys {
		require.Nil(t, k.PrivateKey)
	}
}

func TestKeystore_PrivateKeyEncryptedAtRest(t *testing.T) {
	st := memory.New()
	box, err := secretbox.New(bytes.Repeat([]byte{1}, 32))
	require.NoError(t, err)
	ks := NewKeystore(st.Keys(), box)
	ctx := context.Background()
	require.NoError(t, ks.EnsureBootstrap(ctx))
	require.NoError(t, ks.EnsureBootstrap(ctx))

	rec, err := st.Keys().GetActive(ctx)
	require.NoError(t, err)
	_, priv, _, err := ks.Active(ctx)
	require.NoError(t, err)
	require.False(t, bytes.Equal(priv, rec.PrivateKey))

	// otra caja no puede abrirla
	other, err := secretbox.New(bytes.Repeat([]byte{2}, 32))
	require.NoError(t, err)
	_, _, _, err = NewKeystore(st.Keys(), other).Active(ctx)
	require.Error(t, err)
}

func TestKeystore_NoActiveKey(t *testing.T) {
	ks := NewKeystore(memory.New().Keys(), nil)
	_, _, _, err := ks.Active(context.Background())
	require.ErrorIs(t, err, ErrNoActiveKey)

	iss := NewIssuer("x", ks)
	_, _, err = iss.Mint(context.Background(), MintRequest{Subject: "s", TenantID: "t"})
	require.ErrorIs(t, err, ErrNoActiveKey)
}

func TestKeystore_ConcurrentActive(t *testing.T) {
	iss, _ := newIssuer(t)
	var wg sync.WaitGroup
	kids := make([]string, 16)
	for i := range kids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			kid, _, _, err := iss.Keys.Active(context.Background())
			if err == nil {
				kids[i] = kid
			}
		}(i)
	}
	wg.Wait()
	for _, k := range kids {
		require.Equal(t, kids[0], k)
		require.NotEmpty(t, k)
	}
}

