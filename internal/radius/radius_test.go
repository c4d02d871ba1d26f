package radius

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"layeh.com/radius"
	"layeh.com/radius/rfc2865"
	"layeh.com/radius/rfc2866"
	"layeh.com/radius/rfc2869"

	"github.com/dropDatabas3/idcore/internal/credential"
	"github.com/dropDatabas3/idcore/internal/security/password"
	"github.com/dropDatabas3/idcore/internal/store/memory"
	"github.com/dropDatabas3/idcore/internal/tenancy"
)

const pwd = "Correct#Horse9"

var secret = []byte("s3cr3t")

type countingValidator struct {
	inner Validator
	calls atomic.Int32
}

func (c *countingValidator) Login(ctx context.Context, tenantID, login, p string) (credential.Result, error) {
	c.calls.Add(1)
	return c.inner.Login(ctx, tenantID, login, p)
}

type captureWriter struct{ p *radius.Packet }

func (c *captureWriter) Write(p *radius.Packet) error {
	c.p = p
	return nil
}

type fixture struct {
	v      *countingValidator
	realms *tenancy.DomainResolver
	tid    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st := memory.New()
	tn, err := tenancy.NewService(st, nil, "").Onboard(ctx, "acme", "acme.com")
	require.NoError(t, err)

	engine := password.NewEngine(st, password.NewHasher(password.Params{Memory: 1024, Time: 1, Parallelism: 1, KeyLen: 32}))
	creds := credential.NewValidator(st, engine, credential.Options{})
	_, viol, err := creds.Register(ctx, credential.RegisterRequest{
		TenantID: tn.ID, Email: "ana@acme.com", Username: "ana", Password: pwd, ConfirmPassword: pwd,
	})
	require.NoError(t, err)
	require.Empty(t, viol)
	return &fixture{v: &countingValidator{inner: creds}, realms: tenancy.NewDomainResolver(st.Domains()), tid: tn.ID}
}

func (f *fixture) handler(opt Options) *Handler {
	return NewHandler(StaticFactory(f.v), f.realms, opt)
}

func accessRequest(t *testing.T, user, pass string) *radius.Request {
	t.Helper()
	p := radius.New(radius.CodeAccessRequest, secret)
	if user != "" {
		require.NoError(t, rfc2865.UserName_SetString(p, user))
	}
	if pass != "" {
		require.NoError(t, rfc2865.UserPassword_SetString(p, pass))
	}
	return &radius.Request{Packet: p, RemoteAddr: &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 4000}}
}

func serve(h *Handler, r *radius.Request) *radius.Packet {
	w := &captureWriter{}
	h.ServeRADIUS(w, r)
	return w.p
}

func TestAccess_BlankCredentialsSkipValidator(t *testing.T) {
	f := newFixture(t)
	h := f.handler(Options{})

	for _, c := range [][2]string{{"", pwd}, {"ana@acme.com", ""}, {"", ""}} {
		resp := serve(h, accessRequest(t, c[0], c[1]))
		require.Equal(t, radius.CodeAccessReject, resp.Code)
	}
	require.EqualValues(t, 0, f.v.calls.Load())
}

func TestAccess_AcceptByDomainRealm(t *testing.T) {
	f := newFixture(t)
	resp := serve(f.handler(Options{}), accessRequest(t, "ana@acme.com", pwd))

	require.Equal(t, radius.CodeAccessAccept, resp.Code)
	require.EqualValues(t, 8*3600, rfc2865.SessionTimeout_Get(resp))
	require.EqualValues(t, 600, rfc2869.AcctInterimInterval_Get(resp))
}

func TestAccess_AcceptByTenantRealm(t *testing.T) {
	f := newFixture(t)
	resp := serve(f.handler(Options{SessionTimeout: time.Hour, InterimInterval: -1}), accessRequest(t, "ana@"+f.tid, pwd))

	require.Equal(t, radius.CodeAccessAccept, resp.Code)
	require.EqualValues(t, 3600, rfc2865.SessionTimeout_Get(resp))
	_, err := rfc2869.AcctInterimInterval_Lookup(resp)
	require.ErrorIs(t, err, radius.ErrNoAttribute)
}

func TestAccess_DefaultTenant(t *testing.T) {
	f := newFixture(t)

	resp := serve(f.handler(Options{}), accessRequest(t, "ana", pwd))
	require.Equal(t, radius.CodeAccessReject, resp.Code)
	require.Equal(t, "authentication failed", rfc2865.ReplyMessage_GetString(resp))
	require.EqualValues(t, 0, f.v.calls.Load())

	resp = serve(f.handler(Options{DefaultTenant: f.tid}), accessRequest(t, "ana", pwd))
	require.Equal(t, radius.CodeAccessAccept, resp.Code)
}

func TestAccess_WrongPassword(t *testing.T) {
	f := newFixture(t)
	resp := serve(f.handler(Options{}), accessRequest(t, "ana@acme.com", "nope"))

	require.Equal(t, radius.CodeAccessReject, resp.Code)
	require.Equal(t, "authentication failed", rfc2865.ReplyMessage_GetString(resp))
	require.EqualValues(t, 1, f.v.calls.Load())
}

func TestAccounting(t *testing.T) {
	f := newFixture(t)
	h := f.handler(Options{})

	p := radius.New(radius.CodeAccountingRequest, secret)
	require.NoError(t, rfc2866.AcctStatusType_Set(p, rfc2866.AcctStatusType_Value_Start))
	resp := serve(h, &radius.Request{Packet: p})
	require.Equal(t, radius.CodeAccountingResponse, resp.Code)

	resp = serve(h, &radius.Request{Packet: radius.New(radius.CodeAccountingRequest, secret)})
	require.Equal(t, radius.CodeAccessReject, resp.Code)

	resp = serve(h, &radius.Request{Packet: radius.New(radius.CodeStatusServer, secret)})
	require.Equal(t, radius.CodeAccessReject, resp.Code)
	require.EqualValues(t, 0, f.v.calls.Load())
}

func TestAccess_Concurrent(t *testing.T) {
	f := newFixture(t)
	h := f.handler(Options{})

	var wg sync.WaitGroup
	var accepted atomic.Int32
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := radius.New(radius.CodeAccessRequest, secret)
			_ = rfc2865.UserName_SetString(p, "ana@acme.com")
			_ = rfc2865.UserPassword_SetString(p, pwd)
			w := &captureWriter{}
			h.ServeRADIUS(w, &radius.Request{Packet: p})
			if w.p != nil && w.p.Code == radius.CodeAccessAccept {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()
	require.EqualValues(t, 16, accepted.Load())
}

func TestServer_EndToEnd(t *testing.T) {
	f := newFixture(t)
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := NewServer(pc.LocalAddr().String(), secret, f.handler(Options{}))
	done := make(chan error, 1)
	go func() { done <- srv.Serve(pc) }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p := radius.New(radius.CodeAccessRequest, secret)
	require.NoError(t, rfc2865.UserName_SetString(p, "ana@acme.com"))
	require.NoError(t, rfc2865.UserPassword_SetString(p, pwd))
	resp, err := radius.Exchange(ctx, p, pc.LocalAddr().String())
	require.NoError(t, err)
	require.Equal(t, radius.CodeAccessAccept, resp.Code)

	bad := radius.New(radius.CodeAccessRequest, secret)
	require.NoError(t, rfc2865.UserName_SetString(bad, "ana@acme.com"))
	require.NoError(t, rfc2865.UserPassword_SetString(bad, "wrong"))
	resp, err = radius.Exchange(ctx, bad, pc.LocalAddr().String())
	require.NoError(t, err)
	require.Equal(t, radius.CodeAccessReject, resp.Code)
	require.Equal(t, "authentication failed", rfc2865.ReplyMessage_GetString(resp))

	require.NoError(t, srv.Shutdown(ctx))
	require.NoError(t, <-done)
}
