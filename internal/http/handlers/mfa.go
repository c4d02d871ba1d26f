package handlers

import (
	stderrors "errors"
	"net/http"
	"strings"

	"github.com/dropDatabas3/idcore/internal/domain/repository"
	"github.com/dropDatabas3/idcore/internal/http/errors"
	mw "github.com/dropDatabas3/idcore/internal/http/middlewares"
	"github.com/dropDatabas3/idcore/internal/mfa"
	"github.com/dropDatabas3/idcore/internal/observability/logger"
)

// MFAHandler expone el enrolamiento TOTP del principal autenticado.
type MFAHandler struct {
	engine *mfa.Engine
}

func NewMFAHandler(e *mfa.Engine) *MFAHandler { return &MFAHandler{engine: e} }

type setupResponse struct {
	Secret     string `json:"secret_base32"`
	OTPAuthURL string `json:"otpauth_url"`
}

type codeRequest struct {
	Code string `json:"code"`
}

type backupCodesResponse struct {
	Enabled     bool     `json:"enabled,omitempty"`
	BackupCodes []string `json:"backup_codes"`
}

func (h *MFAHandler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case stderrors.Is(err, mfa.ErrAlreadyEnabled):
		errors.WriteError(w, errors.ErrMFAAlreadyEnabled)
	case stderrors.Is(err, mfa.ErrNotEnabled):
		errors.WriteError(w, errors.ErrMFANotEnabled)
	case repository.IsNotFound(err):
		errors.WriteError(w, errors.ErrUnauthorized)
	default:
		logger.From(r.Context()).Error("mfa operation failed", logger.Op(op), logger.Err(err))
		errors.WriteError(w, errors.ErrInternalServerError.WithCause(err))
	}
}

func readCode(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req codeRequest
	if !readJSON(w, r, &req) {
		return "", false
	}
	code := strings.TrimSpace(req.Code)
	if code == "" {
		errors.WriteError(w, errors.ErrMissingFields.WithDetail("code es obligatorio"))
		return "", false
	}
	return code, true
}

// Setup maneja POST /v1/mfa/totp/setup
func (h *MFAHandler) Setup(w http.ResponseWriter, r *http.Request) {
	cl := mw.GetClaims(r.Context())
	if cl == nil {
		errors.WriteError(w, errors.ErrUnauthorized)
		return
	}
	s, err := h.engine.GenerateSetup(r.Context(), cl.TenantID, cl.Subject)
	if err != nil {
		h.fail(w, r, "mfa.setup", err)
		return
	}
	WriteJSON(w, http.StatusOK, setupResponse{Secret: s.Secret, OTPAuthURL: s.OTPAuthURL})
}

// Enable maneja POST /v1/mfa/totp/enable. Al activar devuelve el primer set
// de backup codes, es la única vez que se ven en claro.
func (h *MFAHandler) Enable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cl := mw.GetClaims(ctx)
	if cl == nil {
		errors.WriteError(w, errors.ErrUnauthorized)
		return
	}
	code, ok := readCode(w, r)
	if !ok {
		return
	}
	enabled, err := h.engine.VerifyAndEnable(ctx, cl.TenantID, cl.Subject, code)
	if err != nil {
		h.fail(w, r, "mfa.enable", err)
		return
	}
	if !enabled {
		errors.WriteError(w, errors.ErrInvalidMFACode)
		return
	}
	codes, err := h.engine.GenerateBackupCodes(ctx, cl.TenantID, cl.Subject)
	if err != nil {
		h.fail(w, r, "mfa.backup_codes", err)
		return
	}
	WriteJSON(w, http.StatusOK, backupCodesResponse{Enabled: true, BackupCodes: codes})
}

// BackupCodes maneja POST /v1/mfa/backup-codes: regenera e invalida los anteriores.
func (h *MFAHandler) BackupCodes(w http.ResponseWriter, r *http.Request) {
	cl := mw.GetClaims(r.Context())
	if cl == nil {
		errors.WriteError(w, errors.ErrUnauthorized)
		return
	}
	codes, err := h.engine.GenerateBackupCodes(r.Context(), cl.TenantID, cl.Subject)
	if err != nil {
		h.fail(w, r, "mfa.backup_codes", err)
		return
	}
	WriteJSON(w, http.StatusOK, backupCodesResponse{BackupCodes: codes})
}

// Disable maneja POST /v1/mfa/disable. Con MFA activo exige un TOTP o un
// backup code válido; sin MFA activo es idempotente.
func (h *MFAHandler) Disable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cl := mw.GetClaims(ctx)
	if cl == nil {
		errors.WriteError(w, errors.ErrUnauthorized)
		return
	}
	state, err := h.engine.State(ctx, cl.TenantID, cl.Subject)
	if err != nil {
		h.fail(w, r, "mfa.disable", err)
		return
	}
	if state == mfa.StateEnabled {
		code, ok := readCode(w, r)
		if !ok {
			return
		}
		valid, err := h.engine.VerifyCode(ctx, cl.TenantID, cl.Subject, code)
		if err == nil && !valid {
			valid, err = h.engine.VerifyBackupCode(ctx, cl.TenantID, cl.Subject, code)
		}
		if err != nil {
			h.fail(w, r, "mfa.disable", err)
			return
		}
		if !valid {
			errors.WriteError(w, errors.ErrInvalidMFACode)
			return
		}
	}
	if err := h.engine.Disable(ctx, cl.TenantID, cl.Subject); err != nil {
		h.fail(w, r, "mfa.disable", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
