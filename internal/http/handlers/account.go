package handlers

import (
	"context"
	stderrors "errors"
	"net/http"
	"strings"

	"github.com/dropDatabas3/idcore/internal/credential"
	"github.com/dropDatabas3/idcore/internal/http/errors"
	mw "github.com/dropDatabas3/idcore/internal/http/middlewares"
	"github.com/dropDatabas3/idcore/internal/observability/logger"
	"github.com/dropDatabas3/idcore/internal/security/password"
)

// TenantResolver resuelve el tenant a partir del dominio del email.
type TenantResolver interface {
	ResolveTenant(ctx context.Context, email string) (string, bool)
}

type AccountHandler struct {
	creds         *credential.Validator
	realms        TenantResolver
	defaultTenant string
}

func NewAccountHandler(creds *credential.Validator, realms TenantResolver, defaultTenant string) *AccountHandler {
	return &AccountHandler{creds: creds, realms: realms, defaultTenant: defaultTenant}
}

type registerRequest struct {
	TenantID        string `json:"tenant_id"`
	Email           string `json:"email"`
	Username        string `json:"username"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

type identityResponse struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

type violationsResponse struct {
	Code       string              `json:"code"`
	Message    string              `json:"message"`
	Violations password.Violations `json:"violations"`
	RequestID  string              `json:"request_id,omitempty"`
}

func writeViolations(w http.ResponseWriter, v password.Violations) {
	WriteJSON(w, errors.ErrPolicyViolation.HTTPStatus, violationsResponse{
		Code:       errors.ErrPolicyViolation.Code,
		Message:    errors.ErrPolicyViolation.Message,
		Violations: v,
		RequestID:  w.Header().Get("X-Request-ID"),
	})
}

func (h *AccountHandler) tenantFor(ctx context.Context, explicit, email string) string {
	if t := strings.TrimSpace(explicit); t != "" {
		return t
	}
	if h.realms != nil {
		if t, ok := h.realms.ResolveTenant(ctx, email); ok {
			return t
		}
	}
	return h.defaultTenant
}

// Register maneja POST /v1/auth/register
func (h *AccountHandler) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req registerRequest
	if !readJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		errors.WriteError(w, errors.ErrMissingFields.WithDetail("email y password son obligatorios"))
		return
	}
	tenantID := h.tenantFor(ctx, req.TenantID, req.Email)
	if tenantID == "" {
		errors.WriteError(w, errors.ErrTenantNotFound)
		return
	}

	id, viol, err := h.creds.Register(ctx, credential.RegisterRequest{
		TenantID:        tenantID,
		Email:           req.Email,
		Username:        req.Username,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
	})
	switch {
	case err == nil && len(viol) > 0:
		writeViolations(w, viol)
	case stderrors.Is(err, credential.ErrDuplicate):
		errors.WriteError(w, errors.ErrConflict.WithDetail("email o username ya registrado"))
	case stderrors.Is(err, credential.ErrTenantUnavailable):
		errors.WriteError(w, errors.ErrTenantNotFound)
	case err != nil:
		logger.From(ctx).Error("register failed", logger.TenantID(tenantID), logger.Err(err))
		errors.WriteError(w, errors.ErrInternalServerError.WithCause(err))
	default:
		WriteJSON(w, http.StatusCreated, identityResponse{
			ID: id.ID, TenantID: id.TenantID, Username: id.Username, Email: id.Email,
		})
	}
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
	ConfirmPassword string `json:"confirm_password"`
}

// ChangePassword maneja POST /v1/auth/password (requiere bearer).
func (h *AccountHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cl := mw.GetClaims(ctx)
	if cl == nil {
		errors.WriteError(w, errors.ErrUnauthorized)
		return
	}
	var req changePasswordRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.CurrentPassword == "" {
		errors.WriteError(w, errors.ErrMissingFields.WithDetail("current_password es obligatorio"))
		return
	}

	viol, err := h.creds.ChangePassword(ctx, cl.TenantID, cl.Subject, req.CurrentPassword, req.NewPassword, req.ConfirmPassword)
	switch {
	case err == nil && len(viol) > 0:
		writeViolations(w, viol)
	case credential.IsRejection(err):
		errors.WriteError(w, errors.ErrInvalidCredentials)
	case err != nil:
		logger.From(ctx).Error("change password failed", logger.Err(err))
		errors.WriteError(w, errors.ErrInternalServerError.WithCause(err))
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}
