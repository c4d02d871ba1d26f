package config

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "idcore.yaml")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.HTTP.Addr != ":8080" || c.Storage.Driver != "memory" || c.Cache.Kind != "memory" {
		t.Fatalf("defaults not applied: %+v", c)
	}
	if c.Tokens.AccessTTL != 15*time.Minute || c.Tokens.RefreshTTL != 720*time.Hour {
		t.Fatalf("token ttls: %v %v", c.Tokens.AccessTTL, c.Tokens.RefreshTTL)
	}
	if c.Issuer() != "http://localhost:8080" {
		t.Fatalf("issuer: %q", c.Issuer())
	}
}

func TestLoad_YAMLAndEnv(t *testing.T) {
	key := base64.StdEncoding.EncodeToString(make([]byte, 32))
	p := writeYAML(t, `
app:
  env: staging
http:
  addr: ":9000"
  issuer: "https://id.example.com/"
tokens:
  access_ttl: 5m
security:
  secretbox_key: "`+key+`"
  password_blacklist_path: words.txt
radius:
  enabled: true
  secret: abc
`)
	t.Setenv("IDCORE_HTTP_ADDR", ":9100")
	t.Setenv("IDCORE_RATE_LIMIT", "7")

	c, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.HTTP.Addr != ":9100" {
		t.Fatalf("env override lost: %q", c.HTTP.Addr)
	}
	if c.Rate.Limit != 7 {
		t.Fatalf("rate limit: %d", c.Rate.Limit)
	}
	if c.Tokens.AccessTTL != 5*time.Minute {
		t.Fatalf("access ttl: %v", c.Tokens.AccessTTL)
	}
	if c.Issuer() != "https://id.example.com" {
		t.Fatalf("issuer: %q", c.Issuer())
	}
	if !filepath.IsAbs(c.Security.PasswordBlacklistPath) || filepath.Base(c.Security.PasswordBlacklistPath) != "words.txt" {
		t.Fatalf("blacklist path: %q", c.Security.PasswordBlacklistPath)
	}
	k, err := c.SecretboxKey()
	if err != nil || len(k) != 32 {
		t.Fatalf("secretbox key: %v %d", err, len(k))
	}
}

func TestValidate_CollectsErrors(t *testing.T) {
	c := Default()
	c.Storage.Driver = "postgres"
	c.RADIUS.Enabled = true
	c.SystemTenant.ID = "nope"
	c.Security.SecretboxKey = base64.StdEncoding.EncodeToString([]byte("short"))

	err := c.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"storage.dsn", "radius.secret", "system_tenant.id", "32 bytes"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("missing %q in %v", want, err)
		}
	}
}

func TestValidate_ProdRequiresHTTPSIssuer(t *testing.T) {
	c := Default()
	c.App.Env = "prod"
	c.HTTP.Issuer = "http://id.example.com"
	c.Security.SecretboxKey = base64.StdEncoding.EncodeToString(make([]byte, 32))
	if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "https") {
		t.Fatalf("expected https error, got %v", err)
	}
}
