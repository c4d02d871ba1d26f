package http

import (
	"bytes"
	"context"
	"encoding/json"
	stdhttp "net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/idcore/internal/credential"
	"github.com/dropDatabas3/idcore/internal/http/handlers"
	"github.com/dropDatabas3/idcore/internal/jwt"
	"github.com/dropDatabas3/idcore/internal/mfa"
	"github.com/dropDatabas3/idcore/internal/oauth"
	"github.com/dropDatabas3/idcore/internal/rate"
	"github.com/dropDatabas3/idcore/internal/sectoken"
	"github.com/dropDatabas3/idcore/internal/security/password"
	"github.com/dropDatabas3/idcore/internal/security/secretbox"
	"github.com/dropDatabas3/idcore/internal/security/totp"
	"github.com/dropDatabas3/idcore/internal/store/memory"
	"github.com/dropDatabas3/idcore/internal/tenancy"
)

const (
	testIssuer = "https://id.acme.test"
	testPwd    = "Correct#Horse9"
)

type env struct {
	h   stdhttp.Handler
	tid string
}

func newEnv(t *testing.T, limit int) *env {
	t.Helper()
	return newEnvWithIssuer(t, limit, testIssuer)
}

// newEnvWithIssuer: issuerOverride vacío => discovery por origen del request.
func newEnvWithIssuer(t *testing.T, limit int, issuerOverride string) *env {
	t.Helper()
	ctx := context.Background()
	st := memory.New()
	box, err := secretbox.New(bytes.Repeat([]byte{9}, 32))
	require.NoError(t, err)

	tn, err := tenancy.NewService(st, nil, "").Onboard(ctx, "acme", "acme.com")
	require.NoError(t, err)

	engine := password.NewEngine(st, password.NewHasher(password.Params{Memory: 1024, Time: 1, Parallelism: 1, KeyLen: 32}))
	creds := credential.NewValidator(st, engine, credential.Options{})
	_, viol, err := creds.Register(ctx, credential.RegisterRequest{
		TenantID: tn.ID, Email: "ana@acme.com", Username: "ana", Password: testPwd, ConfirmPassword: testPwd,
	})
	require.NoError(t, err)
	require.Empty(t, viol)

	ks := jwt.NewKeystore(st.Keys(), box)
	require.NoError(t, ks.EnsureBootstrap(ctx))
	issuer := jwt.NewIssuer(testIssuer, ks)
	realms := tenancy.NewDomainResolver(st.Domains())
	engineMFA := mfa.NewEngine(st, box, mfa.Options{})
	svc := oauth.NewService(oauth.Deps{
		Credentials: creds,
		MFA:         engineMFA,
		Tokens:      sectoken.NewManager(st, box),
		Issuer:      issuer,
		Realms:      realms,
	})

	return &env{
		tid: tn.ID,
		h: NewRouter(RouterDeps{
			OAuth:     handlers.NewOAuthHandler(svc),
			WellKnown: handlers.NewWellKnownHandler(issuerOverride, issuer),
			Account:   handlers.NewAccountHandler(creds, realms, ""),
			MFA:       handlers.NewMFAHandler(engineMFA),
			Health:    handlers.NewHealthHandler(map[string]handlers.Pinger{"store": st}),
			Auth:      issuer,
			Rate:      RateConfig{Limiter: rate.NewMemoryPool("t:", limit, time.Minute), Limit: limit, Window: time.Minute},
		}),
	}
}

func (e *env) form(t *testing.T, path string, v url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(stdhttp.MethodPost, path, strings.NewReader(v.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	e.h.ServeHTTP(rec, req)
	return rec
}

func (e *env) json(t *testing.T, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(stdhttp.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	e.h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m), rec.Body.String())
	return m
}

func (e *env) login(t *testing.T) map[string]any {
	t.Helper()
	rec := e.form(t, "/oauth2/token", url.Values{
		"grant_type": {"password"}, "username": {"ana@acme.com"}, "password": {testPwd}, "scope": {"openid"},
	})
	require.Equal(t, stdhttp.StatusOK, rec.Code, rec.Body.String())
	return decode(t, rec)
}

func TestHealthzAndNotFound(t *testing.T) {
	e := newEnv(t, 100)

	rec := httptest.NewRecorder()
	e.h.ServeHTTP(rec, httptest.NewRequest(stdhttp.MethodGet, "/healthz", nil))
	require.Equal(t, stdhttp.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	require.Equal(t, "ok", decode(t, rec)["status"])

	rec = httptest.NewRecorder()
	e.h.ServeHTTP(rec, httptest.NewRequest(stdhttp.MethodGet, "/nope", nil))
	require.Equal(t, stdhttp.StatusNotFound, rec.Code)
	require.Equal(t, "NOT_FOUND", decode(t, rec)["code"])

	rec = httptest.NewRecorder()
	e.h.ServeHTTP(rec, httptest.NewRequest(stdhttp.MethodGet, "/oauth2/token", nil))
	require.Equal(t, stdhttp.StatusMethodNotAllowed, rec.Code)
}

func TestWellKnown(t *testing.T) {
	e := newEnv(t, 100)

	rec := httptest.NewRecorder()
	e.h.ServeHTTP(rec, httptest.NewRequest(stdhttp.MethodGet, "/.well-known/openid-configuration", nil))
	require.Equal(t, stdhttp.StatusOK, rec.Code)
	doc := decode(t, rec)
	require.Equal(t, testIssuer, doc["issuer"])
	require.Equal(t, testIssuer+"/.well-known/jwks.json", doc["jwks_uri"])

	rec = httptest.NewRecorder()
	e.h.ServeHTTP(rec, httptest.NewRequest(stdhttp.MethodGet, "/.well-known/jwks.json", nil))
	require.Equal(t, stdhttp.StatusOK, rec.Code)
	keys := decode(t, rec)["keys"].([]any)
	require.Len(t, keys, 1)
	require.Equal(t, "OKP", keys[0].(map[string]any)["kty"])
}

func TestWellKnown_IssuerFromRequestOrigin(t *testing.T) {
	e := newEnvWithIssuer(t, 100, "")

	discover := func(target string, hdr map[string]string) map[string]any {
		req := httptest.NewRequest(stdhttp.MethodGet, target, nil)
		for k, v := range hdr {
			req.Header.Set(k, v)
		}
		rec := httptest.NewRecorder()
		e.h.ServeHTTP(rec, req)
		require.Equal(t, stdhttp.StatusOK, rec.Code)
		return decode(t, rec)
	}

	doc := discover("https://other.example.org/.well-known/openid-configuration", nil)
	require.Equal(t, "https://other.example.org", doc["issuer"])
	require.Equal(t, "https://other.example.org/oauth2/token", doc["token_endpoint"])
	require.Equal(t, "https://other.example.org/oauth2/authorize", doc["authorization_endpoint"])
	require.Equal(t, "https://other.example.org/.well-known/jwks.json", doc["jwks_uri"])

	req := httptest.NewRequest(stdhttp.MethodGet, "/.well-known/openid-configuration", nil)
	req.Host = "localhost:8080"
	rec := httptest.NewRecorder()
	e.h.ServeHTTP(rec, req)
	require.Equal(t, "http://localhost:8080", decode(t, rec)["issuer"])

	doc = discover("/.well-known/openid-configuration", map[string]string{
		"X-Forwarded-Proto": "https",
		"X-Forwarded-Host":  "id.proxy.test, internal.lb",
	})
	require.Equal(t, "https://id.proxy.test", doc["issuer"])

	// con override configurado el Host no importa
	o := newEnvWithIssuer(t, 100, testIssuer+"/")
	req = httptest.NewRequest(stdhttp.MethodGet, "https://other.example.org/.well-known/openid-configuration", nil)
	rec = httptest.NewRecorder()
	o.h.ServeHTTP(rec, req)
	require.Equal(t, testIssuer, decode(t, rec)["issuer"])
}

func TestTokenEndpoint(t *testing.T) {
	e := newEnv(t, 100)

	rec := e.form(t, "/oauth2/token", url.Values{
		"grant_type": {"password"}, "username": {"ana@acme.com"}, "password": {testPwd},
	})
	require.Equal(t, stdhttp.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	body := decode(t, rec)
	require.Equal(t, "Bearer", body["token_type"])
	require.NotEmpty(t, body["access_token"])
	require.NotEmpty(t, body["refresh_token"])

	rec = e.form(t, "/oauth2/token", url.Values{
		"grant_type": {"password"}, "username": {"ana@acme.com"}, "password": {"wrong"},
	})
	require.Equal(t, stdhttp.StatusUnauthorized, rec.Code)
	require.Equal(t, "invalid_grant", decode(t, rec)["error"])

	rec = e.form(t, "/oauth2/token", url.Values{"grant_type": {"client_credentials"}})
	require.Equal(t, stdhttp.StatusBadRequest, rec.Code)
	require.Equal(t, "unsupported_grant_type", decode(t, rec)["error"])

	// refresh por el endpoint dedicado
	rt := body["refresh_token"].(string)
	rec = e.form(t, "/oauth2/refresh", url.Values{"grant_type": {"refresh_token"}, "refresh_token": {rt}})
	require.Equal(t, stdhttp.StatusOK, rec.Code, rec.Body.String())
	require.NotEmpty(t, decode(t, rec)["access_token"])
}

func TestRefreshEndpoint_GrantType(t *testing.T) {
	e := newEnv(t, 100)
	rt := e.login(t)["refresh_token"].(string)

	cases := []struct {
		name   string
		form   url.Values
		status int
		code   string
	}{
		{"missing", url.Values{"refresh_token": {rt}}, stdhttp.StatusBadRequest, "invalid_request"},
		{"password", url.Values{"grant_type": {"password"}, "refresh_token": {rt}}, stdhttp.StatusBadRequest, "unsupported_grant_type"},
		{"code", url.Values{"grant_type": {"authorization_code"}, "refresh_token": {rt}}, stdhttp.StatusBadRequest, "unsupported_grant_type"},
		{"ok", url.Values{"grant_type": {"refresh_token"}, "refresh_token": {rt}}, stdhttp.StatusOK, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := e.form(t, "/oauth2/refresh", tc.form)
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
			if tc.code != "" {
				require.Equal(t, tc.code, decode(t, rec)["error"])
			}
		})
	}
}

func TestIntrospectAndRevoke(t *testing.T) {
	e := newEnv(t, 100)
	tok := e.login(t)

	rec := e.form(t, "/oauth2/introspect", url.Values{"token": {tok["access_token"].(string)}})
	require.Equal(t, stdhttp.StatusOK, rec.Code)
	in := decode(t, rec)
	require.Equal(t, true, in["active"])
	require.Equal(t, e.tid, in["tenant_id"])

	rt := tok["refresh_token"].(string)
	rec = e.form(t, "/oauth2/revoke", url.Values{"token": {rt}, "token_type_hint": {"refresh_token"}})
	require.Equal(t, stdhttp.StatusOK, rec.Code)

	rec = e.form(t, "/oauth2/introspect", url.Values{"token": {rt}})
	require.Equal(t, stdhttp.StatusOK, rec.Code)
	require.Equal(t, map[string]any{"active": false}, decode(t, rec))

	rec = e.form(t, "/oauth2/introspect", url.Values{})
	require.Equal(t, stdhttp.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid_request", decode(t, rec)["error"])
}

func TestAuthorizeEndpoint(t *testing.T) {
	e := newEnv(t, 100)
	rec := e.form(t, "/oauth2/authorize", url.Values{
		"username": {"ana@acme.com"}, "password": {testPwd}, "client_id": {"web"},
		"redirect_uri": {"https://app.acme.com/cb"}, "state": {"xyz"},
	})
	require.Equal(t, stdhttp.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	code := body["code"].(string)
	require.NotEmpty(t, code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, code, loc.Query().Get("code"))
	require.Equal(t, "xyz", loc.Query().Get("state"))

	rec = e.form(t, "/oauth2/token", url.Values{
		"grant_type": {"authorization_code"}, "code": {code}, "client_id": {"web"},
		"redirect_uri": {"https://app.acme.com/cb"},
	})
	require.Equal(t, stdhttp.StatusOK, rec.Code, rec.Body.String())

	// un code se usa una sola vez
	rec = e.form(t, "/oauth2/token", url.Values{
		"grant_type": {"authorization_code"}, "code": {code}, "client_id": {"web"},
		"redirect_uri": {"https://app.acme.com/cb"},
	})
	require.Equal(t, "invalid_grant", decode(t, rec)["error"])
}

func TestRegisterAndChangePassword(t *testing.T) {
	e := newEnv(t, 100)

	rec := e.json(t, "/v1/auth/register", "", map[string]string{
		"email": "bob@acme.com", "password": testPwd, "confirm_password": testPwd,
	})
	require.Equal(t, stdhttp.StatusCreated, rec.Code, rec.Body.String())
	require.Equal(t, e.tid, decode(t, rec)["tenant_id"])

	rec = e.json(t, "/v1/auth/register", "", map[string]string{
		"email": "bob@acme.com", "password": testPwd, "confirm_password": testPwd,
	})
	require.Equal(t, stdhttp.StatusConflict, rec.Code)

	rec = e.json(t, "/v1/auth/register", "", map[string]string{
		"email": "carl@acme.com", "password": "abc", "confirm_password": "abd",
	})
	require.Equal(t, stdhttp.StatusBadRequest, rec.Code)
	body := decode(t, rec)
	require.Equal(t, "POLICY_VIOLATION", body["code"])
	require.NotEmpty(t, body["violations"])

	rec = e.json(t, "/v1/auth/register", "", map[string]string{
		"email": "dan@unknown.org", "password": testPwd, "confirm_password": testPwd,
	})
	require.Equal(t, stdhttp.StatusNotFound, rec.Code)

	// cambio de password con bearer
	at := e.login(t)["access_token"].(string)
	next := "Another#Horse10"
	rec = e.json(t, "/v1/auth/password", at, map[string]string{
		"current_password": "bad", "new_password": next, "confirm_password": next,
	})
	require.Equal(t, stdhttp.StatusUnauthorized, rec.Code)

	rec = e.json(t, "/v1/auth/password", at, map[string]string{
		"current_password": testPwd, "new_password": next, "confirm_password": next,
	})
	require.Equal(t, stdhttp.StatusNoContent, rec.Code, rec.Body.String())
}

func TestBearerRequired(t *testing.T) {
	e := newEnv(t, 100)

	rec := e.json(t, "/v1/mfa/totp/setup", "", map[string]string{})
	require.Equal(t, stdhttp.StatusUnauthorized, rec.Code)
	require.Equal(t, "TOKEN_MISSING", decode(t, rec)["code"])

	rec = e.json(t, "/v1/mfa/totp/setup", "not.a.jwt", map[string]string{})
	require.Equal(t, stdhttp.StatusUnauthorized, rec.Code)
	require.Equal(t, "TOKEN_INVALID", decode(t, rec)["code"])
	require.Contains(t, rec.Header().Get("WWW-Authenticate"), "invalid_token")
}

func TestMFAFlow(t *testing.T) {
	e := newEnv(t, 100)
	at := e.login(t)["access_token"].(string)

	rec := e.json(t, "/v1/mfa/backup-codes", at, map[string]string{})
	require.Equal(t, stdhttp.StatusConflict, rec.Code)

	rec = e.json(t, "/v1/mfa/totp/setup", at, map[string]string{})
	require.Equal(t, stdhttp.StatusOK, rec.Code, rec.Body.String())
	secret := decode(t, rec)["secret_base32"].(string)
	raw, err := totp.DecodeSecret(secret)
	require.NoError(t, err)

	rec = e.json(t, "/v1/mfa/totp/enable", at, map[string]string{"code": "000000x"})
	require.Equal(t, stdhttp.StatusBadRequest, rec.Code)

	rec = e.json(t, "/v1/mfa/totp/enable", at, map[string]string{
		"code": totp.Generate(raw, time.Now().Add(-totp.Period*time.Second)),
	})
	require.Equal(t, stdhttp.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, decode(t, rec)["backup_codes"], mfa.BackupCodeCount)

	// ahora el password grant pide segundo factor
	rec = e.form(t, "/oauth2/token", url.Values{
		"grant_type": {"password"}, "username": {"ana@acme.com"}, "password": {testPwd},
	})
	require.Equal(t, stdhttp.StatusOK, rec.Code)
	body := decode(t, rec)
	require.Equal(t, true, body["mfa_required"])
	require.NotEmpty(t, body["mfa_token"])
	require.Nil(t, body["access_token"])

	rec = e.form(t, "/oauth2/token", url.Values{
		"grant_type": {oauth.GrantMFA}, "mfa_token": {body["mfa_token"].(string)}, "otp": {totp.Generate(raw, time.Now())},
	})
	require.Equal(t, stdhttp.StatusOK, rec.Code, rec.Body.String())
	require.NotEmpty(t, decode(t, rec)["access_token"])

	rec = e.json(t, "/v1/mfa/disable", at, map[string]string{"code": "zzzzz-zzzzz"})
	require.Equal(t, stdhttp.StatusBadRequest, rec.Code)
}

func TestRateLimit(t *testing.T) {
	e := newEnv(t, 2)
	v := url.Values{"grant_type": {"password"}, "username": {"ana@acme.com"}, "password": {"wrong"}}

	require.Equal(t, stdhttp.StatusUnauthorized, e.form(t, "/oauth2/token", v).Code)
	require.Equal(t, stdhttp.StatusUnauthorized, e.form(t, "/oauth2/token", v).Code)
	rec := e.form(t, "/oauth2/token", v)
	require.Equal(t, stdhttp.StatusTooManyRequests, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Retry-After"))
	require.Equal(t, "RATE_LIMIT_EXCEEDED", decode(t, rec)["code"])

	// otro path, otro contador
	rec = e.form(t, "/oauth2/introspect", url.Values{"token": {"x"}})
	require.Equal(t, stdhttp.StatusOK, rec.Code)
}
