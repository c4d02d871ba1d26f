package identifier

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	def := uuid.NewString()
	tid := uuid.NewString()

	cases := []struct {
		name, raw, user, tenant string
	}{
		{"plain", "john", "john", def},
		{"trimmed", "  john  ", "john", def},
		{"empty", "   ", "", def},
		{"tenant realm", "john@" + tid, "john", tid},
		{"not a guid", "john@not-a-guid", "john@not-a-guid", def},
		{"leading at", "@" + tid, "@" + tid, def},
		{"email domain", "john@acme.com", "john@acme.com", def},
	}
	for _, c := range cases {
		u, tn := Resolve(c.raw, def)
		if u != c.user || tn != c.tenant {
			t.Fatalf("%s: Resolve(%q) = (%q,%q), want (%q,%q)", c.name, c.raw, u, tn, c.user, c.tenant)
		}
	}
}

func TestResolve_UppercaseGUIDIsCanonicalized(t *testing.T) {
	id := uuid.New()
	u, tn := Resolve("john@"+strings.ToUpper(id.String()), "")
	require.Equal(t, "john", u)
	require.Equal(t, id.String(), tn)
}

func TestResolveDN(t *testing.T) {
	def := uuid.NewString()
	tid := uuid.NewString()

	u, tn := ResolveDN("cn=john,ou="+tid+",dc=example,dc=com", def)
	require.Equal(t, "john", u)
	require.Equal(t, tid, tn)

	// cn gana sobre uid aunque venga después
	u, _ = ResolveDN("uid=jdoe,cn=john,dc=x", def)
	require.Equal(t, "john", u)

	u, tn = ResolveDN("UID=jdoe, OU=people, dc=x", def)
	require.Equal(t, "jdoe", u)
	require.Equal(t, def, tn)

	// primer ou válido
	u, tn = ResolveDN("cn=a,ou=sales,ou="+tid, def)
	require.Equal(t, "a", u)
	require.Equal(t, tid, tn)

	// sin cn/uid devuelve el DN entero
	u, tn = ResolveDN("  ou=people,dc=x  ", def)
	require.Equal(t, "ou=people,dc=x", u)
	require.Equal(t, def, tn)

	u, tn = ResolveDN("", def)
	require.Equal(t, "", u)
	require.Equal(t, def, tn)
}

func TestSplitRealm(t *testing.T) {
	u, r, ok := SplitRealm("john@acme.com")
	require.True(t, ok)
	require.Equal(t, "john", u)
	require.Equal(t, "acme.com", r)

	_, _, ok = SplitRealm("john@")
	require.False(t, ok)
	_, _, ok = SplitRealm("john")
	require.False(t, ok)
}
