package oauth

import (
	"context"
	"errors"
	"strings"

	"github.com/dropDatabas3/idcore/internal/credential"
	"github.com/dropDatabas3/idcore/internal/domain/repository"
	"github.com/dropDatabas3/idcore/internal/sectoken"
)

// Introspection es la respuesta RFC 7662. Inactivo => solo {"active": false}.
type Introspection struct {
	Active    bool     `json:"active"`
	TokenType string   `json:"token_type,omitempty"`
	Sub       string   `json:"sub,omitempty"`
	Username  string   `json:"username,omitempty"`
	TenantID  string   `json:"tenant_id,omitempty"`
	Scope     string   `json:"scope,omitempty"`
	Roles     []string `json:"roles,omitempty"`
	Exp       int64    `json:"exp,omitempty"`
	Iat       int64    `json:"iat,omitempty"`
	Iss       string   `json:"iss,omitempty"`
}

var inactive = &Introspection{Active: false}

// Introspect prueba primero la forma sugerida por el hint y después la otra.
// Sin hint: access token, luego refresh token. Token vacío es error del cliente;
// cualquier otro caso devuelve active=false.
func (s *Service) Introspect(ctx context.Context, token, hint string) (*Introspection, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, invalidRequest("falta token")
	}
	order := []string{HintAccessToken, HintRefreshToken}
	if strings.TrimSpace(hint) == HintRefreshToken {
		order = []string{HintRefreshToken, HintAccessToken}
	}
	for _, kind := range order {
		var (
			out *Introspection
			err error
		)
		if kind == HintAccessToken {
			out = s.introspectAccess(ctx, token)
		} else {
			out, err = s.introspectRefresh(ctx, token)
			if err != nil {
				return nil, err
			}
		}
		if out != nil {
			return out, nil
		}
	}
	return inactive, nil
}

func (s *Service) introspectAccess(ctx context.Context, token string) *Introspection {
	// un refresh opaco no tiene forma de JWT
	if strings.Count(token, ".") != 2 {
		return nil
	}
	c, ok := s.issuer.Introspect(ctx, token)
	if !ok {
		return nil
	}
	out := &Introspection{
		Active:    true,
		TokenType: HintAccessToken,
		Sub:       c.Subject,
		Username:  c.Username,
		TenantID:  c.TenantID,
		Scope:     c.Scope,
		Roles:     c.Roles,
		Iss:       c.Issuer,
	}
	if c.ExpiresAt != nil {
		out.Exp = c.ExpiresAt.Unix()
	}
	if c.IssuedAt != nil {
		out.Iat = c.IssuedAt.Unix()
	}
	return out
}

func (s *Service) introspectRefresh(ctx context.Context, token string) (*Introspection, error) {
	c, err := s.tokens.Lookup(ctx, repository.TokenRefresh, token)
	if err != nil {
		if errors.Is(err, sectoken.ErrNotActive) {
			return nil, nil
		}
		return nil, err
	}
	// principal deshabilitado/borrado o tenant inactivo => inactivo
	id, err := s.creds.Lookup(ctx, c.TenantID, c.PrincipalID)
	if err != nil {
		if repository.IsNotFound(err) || credential.IsRejection(err) {
			return inactive, nil
		}
		return nil, err
	}
	return &Introspection{
		Active:    true,
		TokenType: HintRefreshToken,
		Sub:       c.PrincipalID,
		Username:  id.Username,
		TenantID:  c.TenantID,
		Scope:     c.Scope,
		Exp:       c.ExpiresAt.Unix(),
		Iat:       c.IssuedAt.Unix(),
	}, nil
}

// Revoke (RFC 7009): revoca refresh tokens. Los access tokens son JWT sin
// estado y expiran solos. Un token desconocido no es error.
func (s *Service) Revoke(ctx context.Context, token, hint string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return invalidRequest("falta token")
	}
	if strings.TrimSpace(hint) == HintAccessToken && strings.Count(token, ".") == 2 {
		return nil
	}
	_, err := s.tokens.Revoke(ctx, repository.TokenRefresh, token)
	return err
}

// Discovery es el documento de metadata. issuer es el override configurado o
// el origen del request.
func Discovery(issuer string) map[string]any {
	base := strings.TrimRight(issuer, "/")
	return map[string]any{
		"issuer":                                base,
		"authorization_endpoint":                base + "/oauth2/authorize",
		"token_endpoint":                        base + "/oauth2/token",
		"introspection_endpoint":                base + "/oauth2/introspect",
		"revocation_endpoint":                   base + "/oauth2/revoke",
		"jwks_uri":                              base + "/.well-known/jwks.json",
		"response_types_supported":              []string{"code"},
		"grant_types_supported":                 []string{GrantPassword, GrantAuthorizationCode, GrantRefreshToken, GrantMFA},
		"code_challenge_methods_supported":      []string{"S256", "plain"},
		"token_endpoint_auth_methods_supported": []string{"none"},
	}
}
