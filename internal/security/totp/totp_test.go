package totp

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Vectores SHA1 del apéndice B de RFC 6238 (8 dígitos).
func TestCode_RFC6238Vectors(t *testing.T) {
	secret := []byte("12345678901234567890")
	vectors := []struct {
		unix int64
		want string
	}{
		{59, "94287082"},
		{1111111109, "07081804"},
		{1111111111, "14050471"},
		{1234567890, "89005924"},
		{2000000000, "69279037"},
		{20000000000, "65353130"},
	}
	for _, v := range vectors {
		got := Code(secret, Counter(time.Unix(v.unix, 0)), 8)
		if got != v.want {
			t.Fatalf("t=%d: got %s want %s", v.unix, got, v.want)
		}
	}
}

// Vectores de RFC 4226 apéndice D (6 dígitos).
func TestCode_RFC4226Vectors(t *testing.T) {
	secret := []byte("12345678901234567890")
	want := []string{"755224", "287082", "359152", "969429", "338314", "254676", "287922", "162583", "399871", "520489"}
	for c, w := range want {
		require.Equal(t, w, Code(secret, int64(c), 6))
	}
}

func TestVerify_WindowAndReplay(t *testing.T) {
	raw, enc, err := GenerateSecret()
	require.NoError(t, err)
	require.Len(t, raw, 20)

	dec, err := DecodeSecret(strings.ToLower(enc))
	require.NoError(t, err)
	require.Equal(t, raw, dec)

	now := time.Unix(1_700_000_000, 0)
	code := Generate(raw, now)

	ok, c := Verify(raw, code, now, 1, nil)
	require.True(t, ok)
	require.Equal(t, Counter(now), c)

	// el código anterior entra en la ventana de 1 paso
	prev := Generate(raw, now.Add(-Period*time.Second))
	ok, _ = Verify(raw, prev, now, 1, nil)
	require.True(t, ok)

	// fuera de ventana
	old := Generate(raw, now.Add(-3*Period*time.Second))
	ok, _ = Verify(raw, old, now, 1, nil)
	require.False(t, ok)

	// replay del mismo paso
	last := Counter(now)
	ok, _ = Verify(raw, code, now, 1, &last)
	require.False(t, ok)

	ok, _ = Verify(raw, "12345", now, 1, nil)
	require.False(t, ok)
}

func TestOTPAuthURL(t *testing.T) {
	u := OTPAuthURL("idcore", "john@acme.com", "ABC")
	require.True(t, strings.HasPrefix(u, "otpauth://totp/idcore:john@acme.com?"))
	require.Contains(t, u, "secret=ABC")
	require.Contains(t, u, "digits=6")
	require.Contains(t, u, "period=30")
}
