package validation

import (
	"strings"
	"testing"
)

func TestValidScopeName_Valid(t *testing.T) {
	valids := []string{
		"a",
		"ab",
		"openid",
		"profile:read",
		"email:read:e2e123",
		"a_b-c.d:scope2",
		strings.Repeat("a", 63) + "b", // 64 chars
	}
	for _, v := range valids {
		if !ValidScopeName(v) {
			t.Fatalf("expected valid: %q", v)
		}
	}
}

func TestValidScopeName_Invalid(t *testing.T) {
	invalids := []string{
		"",
		":lead",
		"trail:",
		"bad space",
		"UPPER",
		"semicolon;hack",
		strings.Repeat("a", 65),
	}
	for _, v := range invalids {
		if ValidScopeName(v) {
			t.Fatalf("expected invalid: %q", v)
		}
	}
}

func TestNormalizeScope(t *testing.T) {
	got, ok := NormalizeScope("  openid profile openid  email ")
	if !ok || got != "openid profile email" {
		t.Fatalf("got %q ok=%v", got, ok)
	}
	if got, ok := NormalizeScope(""); !ok || got != "" {
		t.Fatalf("empty scope: %q ok=%v", got, ok)
	}
	if _, ok := NormalizeScope("openid BAD"); ok {
		t.Fatalf("expected invalid scope")
	}
	if _, ok := NormalizeScope(strings.Repeat("s ", MaxScopes+1)); ok {
		t.Fatalf("expected too many scopes")
	}
}
