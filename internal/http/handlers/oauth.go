package handlers

import (
	"net/http"
	"strings"

	"github.com/dropDatabas3/idcore/internal/oauth"
	"github.com/dropDatabas3/idcore/internal/observability/logger"
)

const maxFormBody = 16 << 10

// OAuthHandler expone los endpoints /oauth2/*. Todos reciben
// application/x-www-form-urlencoded y responden errores RFC 6749.
type OAuthHandler struct {
	svc *oauth.Service
}

func NewOAuthHandler(svc *oauth.Service) *OAuthHandler {
	return &OAuthHandler{svc: svc}
}

// writeOAuthError: los oauth.Error salen tal cual; cualquier otro error es
// server_error y solo se loguea.
func writeOAuthError(w http.ResponseWriter, r *http.Request, err error) {
	if oe, ok := oauth.AsError(err); ok {
		if oe.Status == http.StatusUnauthorized {
			w.Header().Set("WWW-Authenticate", `Bearer error="`+oe.Code+`"`)
		}
		WriteJSON(w, oe.Status, oe)
		return
	}
	logger.From(r.Context()).Error("oauth endpoint failed", logger.Path(r.URL.Path), logger.Err(err))
	WriteJSON(w, http.StatusInternalServerError, &oauth.Error{Code: "server_error", Description: "error interno"})
}

func parseForm(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBody)
	if err := r.ParseForm(); err != nil {
		WriteJSON(w, http.StatusBadRequest, &oauth.Error{Code: oauth.CodeInvalidRequest, Description: "form inválido"})
		return false
	}
	return true
}

// clientID acepta client_id del form o el usuario de HTTP Basic.
func clientID(r *http.Request) string {
	if id := strings.TrimSpace(r.PostForm.Get("client_id")); id != "" {
		return id
	}
	if u, _, ok := r.BasicAuth(); ok {
		return strings.TrimSpace(u)
	}
	return ""
}

// Token maneja POST /oauth2/token. Un mfa_required sale con 200 y el
// mfa_token, no como error.
func (h *OAuthHandler) Token(w http.ResponseWriter, r *http.Request) {
	if !parseForm(w, r) {
		return
	}
	f := r.PostForm
	res, err := h.svc.Token(r.Context(), oauth.TokenRequest{
		GrantType:    strings.TrimSpace(f.Get("grant_type")),
		TenantID:     strings.TrimSpace(f.Get("tenant_id")),
		Username:     f.Get("username"),
		Password:     f.Get("password"),
		Scope:        f.Get("scope"),
		ClientID:     clientID(r),
		Code:         strings.TrimSpace(f.Get("code")),
		RedirectURI:  strings.TrimSpace(f.Get("redirect_uri")),
		CodeVerifier: strings.TrimSpace(f.Get("code_verifier")),
		MFAToken:     strings.TrimSpace(f.Get("mfa_token")),
		OTP:          strings.TrimSpace(f.Get("otp")),
		BackupCode:   strings.TrimSpace(f.Get("backup_code")),
		RefreshToken: strings.TrimSpace(f.Get("refresh_token")),
	})
	if err != nil {
		writeOAuthError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

// Refresh maneja POST /oauth2/refresh. Solo acepta grant_type=refresh_token.
func (h *OAuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if !parseForm(w, r) {
		return
	}
	switch gt := strings.TrimSpace(r.PostForm.Get("grant_type")); gt {
	case oauth.GrantRefreshToken:
	case "":
		WriteJSON(w, http.StatusBadRequest, &oauth.Error{Code: oauth.CodeInvalidRequest, Description: "falta grant_type"})
		return
	default:
		WriteJSON(w, http.StatusBadRequest, &oauth.Error{Code: oauth.CodeUnsupportedGrantType, Description: "grant_type debe ser refresh_token"})
		return
	}
	res, err := h.svc.Refresh(r.Context(), strings.TrimSpace(r.PostForm.Get("refresh_token")), r.PostForm.Get("scope"))
	if err != nil {
		writeOAuthError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

type authorizeResponse struct {
	*oauth.AuthorizeResponse
	RedirectTo string `json:"redirect_to"`
}

// Authorize maneja POST /oauth2/authorize (headless): el code vuelve en el
// body y en Location, el cliente decide si sigue el redirect.
func (h *OAuthHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	if !parseForm(w, r) {
		return
	}
	f := r.PostForm
	res, err := h.svc.Authorize(r.Context(), oauth.AuthorizeRequest{
		TenantID:            strings.TrimSpace(f.Get("tenant_id")),
		Username:            f.Get("username"),
		Password:            f.Get("password"),
		OTP:                 strings.TrimSpace(f.Get("otp")),
		ClientID:            clientID(r),
		RedirectURI:         strings.TrimSpace(f.Get("redirect_uri")),
		Scope:               f.Get("scope"),
		State:               f.Get("state"),
		CodeChallenge:       strings.TrimSpace(f.Get("code_challenge")),
		CodeChallengeMethod: strings.TrimSpace(f.Get("code_challenge_method")),
	})
	if err != nil {
		writeOAuthError(w, r, err)
		return
	}
	loc := res.Location()
	w.Header().Set("Location", loc)
	WriteJSON(w, http.StatusOK, authorizeResponse{AuthorizeResponse: res, RedirectTo: loc})
}

// Introspect maneja POST /oauth2/introspect (RFC 7662).
func (h *OAuthHandler) Introspect(w http.ResponseWriter, r *http.Request) {
	if !parseForm(w, r) {
		return
	}
	res, err := h.svc.Introspect(r.Context(), r.PostForm.Get("token"), r.PostForm.Get("token_type_hint"))
	if err != nil {
		writeOAuthError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

// Revoke maneja POST /oauth2/revoke (RFC 7009): 200 aunque el token no exista.
func (h *OAuthHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	if !parseForm(w, r) {
		return
	}
	if err := h.svc.Revoke(r.Context(), r.PostForm.Get("token"), r.PostForm.Get("token_type_hint")); err != nil {
		writeOAuthError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
