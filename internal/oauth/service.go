// Package oauth implementa los grants OAuth2 sobre credential, mfa, sectoken y jwt.
// Es independiente de HTTP: el transport solo mapea requests y errores.
package oauth

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/dropDatabas3/idcore/internal/credential"
	"github.com/dropDatabas3/idcore/internal/domain/repository"
	"github.com/dropDatabas3/idcore/internal/jwt"
	"github.com/dropDatabas3/idcore/internal/metrics"
	"github.com/dropDatabas3/idcore/internal/mfa"
	"github.com/dropDatabas3/idcore/internal/observability/logger"
	"github.com/dropDatabas3/idcore/internal/sectoken"
	"github.com/dropDatabas3/idcore/internal/tenancy"
	tokens "github.com/dropDatabas3/idcore/internal/security/token"
	"github.com/dropDatabas3/idcore/internal/validation"
)

const (
	GrantPassword          = "password"
	GrantAuthorizationCode = "authorization_code"
	GrantRefreshToken      = "refresh_token"
	GrantMFA               = "urn:idcore:mfa"

	TokenTypeBearer = "Bearer"

	HintAccessToken  = "access_token"
	HintRefreshToken = "refresh_token"
)

// TokenRequest reúne los parámetros de todos los grants; cada grant usa los suyos.
type TokenRequest struct {
	GrantType    string
	TenantID     string
	Username     string
	Password     string
	Scope        string
	ClientID     string
	Code         string
	RedirectURI  string
	CodeVerifier string
	MFAToken     string
	OTP          string
	BackupCode   string
	RefreshToken string
}

type TokenResponse struct {
	AccessToken  string `json:"access_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
	MFARequired  bool   `json:"mfa_required,omitempty"`
	MFAToken     string `json:"mfa_token,omitempty"`
}

type Deps struct {
	Credentials   *credential.Validator
	MFA           *mfa.Engine
	Tokens        *sectoken.Manager
	Issuer        *jwt.Issuer
	Realms        *tenancy.DomainResolver
	DefaultTenant string
	Now           func() time.Time
}

type Service struct {
	creds         *credential.Validator
	mfa           *mfa.Engine
	tokens        *sectoken.Manager
	issuer        *jwt.Issuer
	realms        *tenancy.DomainResolver
	defaultTenant string
	now           func() time.Time
}

func NewService(d Deps) *Service {
	s := &Service{
		creds:         d.Credentials,
		mfa:           d.MFA,
		tokens:        d.Tokens,
		issuer:        d.Issuer,
		realms:        d.Realms,
		defaultTenant: d.DefaultTenant,
		now:           d.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Token despacha por grant_type.
func (s *Service) Token(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	switch gt := strings.TrimSpace(req.GrantType); gt {
	case GrantPassword:
		return s.passwordGrant(ctx, req)
	case GrantAuthorizationCode:
		return s.codeGrant(ctx, req)
	case GrantMFA:
		return s.mfaGrant(ctx, req)
	case GrantRefreshToken:
		return s.Refresh(ctx, req.RefreshToken, req.Scope)
	case "":
		return nil, invalidRequest("falta grant_type")
	default:
		return nil, unsupportedGrant(gt)
	}
}

// login resuelve el tenant (explícito, realm o dominio) y valida.
func (s *Service) login(ctx context.Context, tenantID, username, pwd string) (*credential.Identity, error) {
	login := strings.TrimSpace(username)
	if tenantID = strings.TrimSpace(tenantID); tenantID == "" {
		login, tenantID = s.realms.ResolveLogin(ctx, username, s.defaultTenant)
	}
	res, err := s.creds.Login(ctx, tenantID, login, pwd)
	if err != nil {
		return nil, err
	}
	if !res.OK {
		metrics.RecordLogin("http", string(res.Reason))
		if res.Reason == credential.ReasonExpired {
			return nil, unauthorized("password expirado")
		}
		return nil, unauthorized("credenciales inválidas")
	}
	metrics.RecordLogin("http", "success")
	return res.Identity, nil
}

func (s *Service) passwordGrant(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		return nil, invalidRequest("username y password son obligatorios")
	}
	scope, ok := validation.NormalizeScope(req.Scope)
	if !ok {
		return nil, invalidScope()
	}
	id, err := s.login(ctx, req.TenantID, req.Username, req.Password)
	if err != nil {
		return nil, err
	}
	if id.MFAEnabled {
		return s.challenge(ctx, id, scope)
	}
	return s.issue(ctx, id, scope)
}

// challenge emite un MFA challenge en lugar de tokens.
func (s *Service) challenge(ctx context.Context, id *credential.Identity, scope string) (*TokenResponse, error) {
	iss, err := s.tokens.Issue(ctx, sectoken.IssueRequest{
		Kind: repository.TokenMFAChallenge, TenantID: id.TenantID, PrincipalID: id.ID, Scope: scope,
	})
	if err != nil {
		return nil, err
	}
	return &TokenResponse{
		MFARequired: true,
		MFAToken:    iss.Plaintext,
		ExpiresIn:   s.expiresIn(iss.ExpiresAt),
	}, nil
}

func (s *Service) codeGrant(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	code := strings.TrimSpace(req.Code)
	clientID := strings.TrimSpace(req.ClientID)
	redirect := strings.TrimSpace(req.RedirectURI)
	if code == "" || clientID == "" || redirect == "" {
		return nil, invalidRequest("faltan parámetros")
	}
	// el code se consume antes de validar: un intento fallido lo invalida igual
	c, err := s.tokens.LookupAndConsume(ctx, repository.TokenAuthorizationCode, code)
	if err != nil {
		if errors.Is(err, sectoken.ErrNotActive) {
			return nil, invalidGrant("authorization code inválido")
		}
		return nil, err
	}
	ac := c.Code
	if ac == nil || ac.ClientID != clientID || ac.RedirectURI != redirect {
		return nil, invalidGrant("client/redirect_uri no coinciden")
	}
	if ac.CodeChallenge != "" && !tokens.VerifyPKCE(strings.TrimSpace(req.CodeVerifier), ac.CodeChallenge, ac.CodeChallengeMethod) {
		return nil, invalidGrant("PKCE inválido")
	}
	id, err := s.identity(ctx, c.TenantID, c.PrincipalID)
	if err != nil {
		return nil, err
	}
	return s.issue(ctx, id, c.Scope)
}

func (s *Service) mfaGrant(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	mt := strings.TrimSpace(req.MFAToken)
	otp := strings.TrimSpace(req.OTP)
	backup := strings.TrimSpace(req.BackupCode)
	if mt == "" || (otp == "" && backup == "") {
		return nil, invalidRequest("se requiere mfa_token y otp o backup_code")
	}
	// no se consume hasta validar el segundo factor
	c, err := s.tokens.Lookup(ctx, repository.TokenMFAChallenge, mt)
	if err != nil {
		if errors.Is(err, sectoken.ErrNotActive) {
			return nil, unauthorized("mfa_token inválido o expirado")
		}
		return nil, err
	}
	var ok bool
	if otp != "" {
		ok, err = s.mfa.VerifyCode(ctx, c.TenantID, c.PrincipalID, otp)
	} else {
		ok, err = s.mfa.VerifyBackupCode(ctx, c.TenantID, c.PrincipalID, backup)
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		metrics.RecordLogin("http", "mfa_rejected")
		return nil, unauthorized("código MFA inválido")
	}
	if _, err := s.tokens.LookupAndConsume(ctx, repository.TokenMFAChallenge, mt); err != nil {
		if errors.Is(err, sectoken.ErrNotActive) {
			return nil, unauthorized("mfa_token inválido o expirado")
		}
		return nil, err
	}
	id, err := s.identity(ctx, c.TenantID, c.PrincipalID)
	if err != nil {
		return nil, err
	}
	return s.issue(ctx, id, c.Scope)
}

// identity recarga el principal (roles actuales, sigue activo).
func (s *Service) identity(ctx context.Context, tenantID, principalID string) (*credential.Identity, error) {
	id, err := s.creds.Lookup(ctx, tenantID, principalID)
	if err != nil {
		if repository.IsNotFound(err) || credential.IsRejection(err) {
			return nil, unauthorized("principal no disponible")
		}
		return nil, err
	}
	return id, nil
}

// issue emite access + refresh para una identidad ya autenticada.
func (s *Service) issue(ctx context.Context, id *credential.Identity, scope string) (*TokenResponse, error) {
	access, exp, err := s.mint(ctx, id, scope)
	if err != nil {
		return nil, err
	}
	rt, err := s.tokens.Issue(ctx, sectoken.IssueRequest{
		Kind: repository.TokenRefresh, TenantID: id.TenantID, PrincipalID: id.ID, Scope: scope,
	})
	if err != nil {
		return nil, err
	}
	logger.From(ctx).Info("tokens issued", logger.TenantID(id.TenantID), logger.PrincipalID(id.ID))
	return &TokenResponse{
		AccessToken:  access,
		TokenType:    TokenTypeBearer,
		ExpiresIn:    s.expiresIn(exp),
		RefreshToken: rt.Plaintext,
		Scope:        scope,
	}, nil
}

func (s *Service) mint(ctx context.Context, id *credential.Identity, scope string) (string, time.Time, error) {
	return s.issuer.Mint(ctx, jwt.MintRequest{
		Subject:  id.ID,
		TenantID: id.TenantID,
		Username: id.Username,
		Roles:    id.Roles,
		Scope:    scope,
	})
}

func (s *Service) expiresIn(exp time.Time) int64 {
	d := exp.Sub(s.now())
	if d < 0 {
		return 0
	}
	return int64(d.Round(time.Second) / time.Second)
}

// Refresh emite un access token nuevo. El refresh token no rota: sigue
// válido hasta expirar o ser revocado. scope solo puede reducir el original.
func (s *Service) Refresh(ctx context.Context, refreshToken, scope string) (*TokenResponse, error) {
	rt := strings.TrimSpace(refreshToken)
	if rt == "" {
		return nil, invalidRequest("falta refresh_token")
	}
	c, err := s.tokens.Lookup(ctx, repository.TokenRefresh, rt)
	if err != nil {
		if errors.Is(err, sectoken.ErrNotActive) {
			return nil, unauthorized("refresh token inválido, expirado o revocado")
		}
		return nil, err
	}
	granted := c.Scope
	if strings.TrimSpace(scope) != "" {
		req, ok := validation.NormalizeScope(scope)
		if !ok || !subset(req, c.Scope) {
			return nil, invalidScope()
		}
		granted = req
	}
	id, err := s.identity(ctx, c.TenantID, c.PrincipalID)
	if err != nil {
		return nil, err
	}
	access, exp, err := s.mint(ctx, id, granted)
	if err != nil {
		return nil, err
	}
	return &TokenResponse{
		AccessToken:  access,
		TokenType:    TokenTypeBearer,
		ExpiresIn:    s.expiresIn(exp),
		RefreshToken: rt,
		Scope:        granted,
	}, nil
}

func subset(req, granted string) bool {
	have := map[string]bool{}
	for _, g := range strings.Fields(granted) {
		have[g] = true
	}
	for _, r := range strings.Fields(req) {
		if !have[r] {
			return false
		}
	}
	return true
}

// AuthorizeRequest es el authorize "headless": el cliente manda las
// credenciales y recibe el code directamente.
type AuthorizeRequest struct {
	TenantID            string
	Username            string
	Password            string
	OTP                 string
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
}

type AuthorizeResponse struct {
	Code        string `json:"code"`
	State       string `json:"state,omitempty"`
	RedirectURI string `json:"redirect_uri"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Location arma el redirect con code y state.
func (r *AuthorizeResponse) Location() string {
	u, err := url.Parse(r.RedirectURI)
	if err != nil {
		return r.RedirectURI
	}
	q := u.Query()
	q.Set("code", r.Code)
	if r.State != "" {
		q.Set("state", r.State)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (s *Service) Authorize(ctx context.Context, req AuthorizeRequest) (*AuthorizeResponse, error) {
	clientID := strings.TrimSpace(req.ClientID)
	redirect := strings.TrimSpace(req.RedirectURI)
	if clientID == "" || redirect == "" {
		return nil, invalidRequest("client_id y redirect_uri son obligatorios")
	}
	if u, err := url.Parse(redirect); err != nil || !u.IsAbs() || u.Fragment != "" {
		return nil, invalidRequest("redirect_uri debe ser absoluta y sin fragmento")
	}
	method := strings.TrimSpace(req.CodeChallengeMethod)
	challenge := strings.TrimSpace(req.CodeChallenge)
	switch {
	case challenge == "" && method != "":
		return nil, invalidRequest("code_challenge_method sin code_challenge")
	case challenge != "" && method == "":
		method = "plain"
	case method != "" && method != "S256" && method != "plain":
		return nil, invalidRequest("code_challenge_method no soportado")
	}
	if method == "S256" && len(challenge) != 43 {
		return nil, invalidRequest("code_challenge S256 inválido")
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		return nil, invalidRequest("username y password son obligatorios")
	}
	scope, ok := validation.NormalizeScope(req.Scope)
	if !ok {
		return nil, invalidScope()
	}
	id, err := s.login(ctx, req.TenantID, req.Username, req.Password)
	if err != nil {
		return nil, err
	}
	if id.MFAEnabled {
		if strings.TrimSpace(req.OTP) == "" {
			return nil, &Error{Code: CodeMFARequired, Description: "se requiere otp", Status: 403}
		}
		ok, err := s.mfa.VerifyCode(ctx, id.TenantID, id.ID, req.OTP)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, unauthorized("código MFA inválido")
		}
	}
	iss, err := s.tokens.Issue(ctx, sectoken.IssueRequest{
		Kind:        repository.TokenAuthorizationCode,
		TenantID:    id.TenantID,
		PrincipalID: id.ID,
		Scope:       scope,
		Code: &repository.AuthCodeExtras{
			ClientID:            clientID,
			RedirectURI:         redirect,
			State:               req.State,
			CodeChallenge:       challenge,
			CodeChallengeMethod: method,
		},
	})
	if err != nil {
		return nil, err
	}
	return &AuthorizeResponse{
		Code:        iss.Plaintext,
		State:       req.State,
		RedirectURI: redirect,
		ExpiresIn:   s.expiresIn(iss.ExpiresAt),
	}, nil
}
