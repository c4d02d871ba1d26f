package credential

import (
	"context"
	"errors"
	"strings"

	"github.com/dropDatabas3/idcore/internal/domain/repository"
	"github.com/dropDatabas3/idcore/internal/events"
	"github.com/dropDatabas3/idcore/internal/observability/logger"
	"github.com/dropDatabas3/idcore/internal/security/password"
)

const CodeInvalidEmail = "invalid_email"

type RegisterRequest struct {
	TenantID        string
	Email           string
	Username        string // vacío => se usa el email
	Password        string
	ConfirmPassword string
}

// Register crea el principal. Las violaciones de política se devuelven todas
// juntas como valor; ErrDuplicate si el email o username ya existen en el tenant.
func (v *Validator) Register(ctx context.Context, req RegisterRequest) (*Identity, password.Violations, error) {
	email := strings.TrimSpace(req.Email)
	username := strings.TrimSpace(req.Username)
	if username == "" {
		username = email
	}

	var viol password.Violations
	if at := strings.IndexByte(email, '@'); at <= 0 || at == len(email)-1 || strings.ContainsAny(email, " \t") {
		viol = append(viol, password.Violation{Code: CodeInvalidEmail, Message: "a valid email is required"})
	}
	if req.Password != req.ConfirmPassword {
		viol = append(viol, password.Violation{Code: password.CodeMismatch, Message: "passwords do not match"})
	}
	viol = append(viol, v.policy.Validate(ctx, req.TenantID, req.Password)...)
	if len(viol) > 0 {
		return nil, viol, nil
	}

	ok, err := v.tenantActive(ctx, req.TenantID)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, ErrTenantUnavailable
	}

	// pre-check orientativo; el unique del store es el que manda
	if _, err := v.store.Principals().GetByEmail(ctx, req.TenantID, email); err == nil {
		return nil, nil, ErrDuplicate
	} else if !repository.IsNotFound(err) {
		return nil, nil, err
	}

	hash, err := v.policy.Hasher().Hash(req.Password)
	if err != nil {
		return nil, nil, err
	}
	p := &repository.Principal{
		TenantID:     req.TenantID,
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Active:       true,
	}
	err = v.store.WithTx(ctx, func(tx repository.Store) error {
		if err := tx.Principals().Create(ctx, p); err != nil {
			return err
		}
		return v.policy.Tx(tx).Record(ctx, p.TenantID, p.ID, hash)
	})
	if err != nil {
		if repository.IsConflict(err) {
			return nil, nil, ErrDuplicate
		}
		return nil, nil, err
	}

	logger.From(ctx).Info("principal registered", logger.TenantID(p.TenantID), logger.PrincipalID(p.ID))
	v.pub.Publish(ctx, events.New(events.UserCreated, p.TenantID, p.ID, map[string]any{"username": p.Username}))
	return identityOf(p, nil), nil, nil
}

// ChangePassword verifica el password actual, valida el nuevo (complejidad e
// historial), guarda el hash viejo en el historial antes de aplicar el nuevo y
// revoca los refresh tokens del principal.
func (v *Validator) ChangePassword(ctx context.Context, tenantID, principalID, current, next, confirm string) (password.Violations, error) {
	p, err := v.store.Principals().GetByID(ctx, tenantID, principalID)
	if err != nil {
		return nil, err
	}
	if !p.Active {
		return nil, ErrInvalidCredentials
	}
	if !v.policy.Hasher().Verify(current, p.PasswordHash) {
		if _, err := v.store.Principals().RegisterFailure(ctx, tenantID, p.ID, v.max, v.lock, v.now()); err != nil {
			return nil, err
		}
		return nil, ErrInvalidCredentials
	}

	var viol password.Violations
	if next != confirm {
		viol = append(viol, password.Violation{Code: password.CodeMismatch, Message: "passwords do not match"})
	}
	viol = append(viol, v.policy.Validate(ctx, tenantID, next)...)
	if next != "" {
		reused, err := v.policy.IsReused(ctx, tenantID, p.ID, next)
		if err != nil {
			return nil, err
		}
		if reused {
			viol = append(viol, password.Violation{Code: password.CodeReused, Message: "password was used recently"})
		}
	}
	if len(viol) > 0 {
		return viol, nil
	}

	hash, err := v.policy.Hasher().Hash(next)
	if err != nil {
		return nil, err
	}
	now := v.now().UTC()
	var revoked int
	err = v.store.WithTx(ctx, func(tx repository.Store) error {
		pe := v.policy.Tx(tx)
		rows, err := tx.History().List(ctx, tenantID, p.ID)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			// principal sin historial: el hash viejo entra primero
			if err := tx.History().Add(ctx, &repository.PasswordHistoryEntry{
				PrincipalID: p.ID, TenantID: tenantID, Hash: p.PasswordHash, SetAt: p.CreatedAt,
			}); err != nil {
				return err
			}
		}
		if err := pe.Record(ctx, tenantID, p.ID, hash); err != nil {
			return err
		}
		if err := tx.Principals().UpdatePassword(ctx, tenantID, p.ID, hash); err != nil {
			return err
		}
		if err := tx.Principals().ResetFailures(ctx, tenantID, p.ID); err != nil {
			return err
		}
		revoked, err = tx.Tokens().RevokeByPrincipal(ctx, tenantID, p.ID, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	logger.From(ctx).Info("password changed",
		logger.TenantID(tenantID), logger.PrincipalID(p.ID), logger.Count(revoked))
	v.pub.Publish(ctx, events.New(events.UserModified, tenantID, p.ID, map[string]any{"change": "password"}))
	return nil, nil
}

// Unlock limpia el contador de fallos y el bloqueo (acción de administrador).
func (v *Validator) Unlock(ctx context.Context, tenantID, principalID string) error {
	if err := v.store.Principals().ResetFailures(ctx, tenantID, principalID); err != nil {
		return err
	}
	v.pub.Publish(ctx, events.New(events.UserModified, tenantID, principalID, map[string]any{"change": "unlock"}))
	return nil
}

// Disable desactiva el principal y revoca sus refresh tokens.
func (v *Validator) Disable(ctx context.Context, tenantID, principalID string) error {
	err := v.store.WithTx(ctx, func(tx repository.Store) error {
		if err := tx.Principals().SetActive(ctx, tenantID, principalID, false); err != nil {
			return err
		}
		_, err := tx.Tokens().RevokeByPrincipal(ctx, tenantID, principalID, v.now().UTC())
		return err
	})
	if err != nil {
		return err
	}
	v.pub.Publish(ctx, events.New(events.UserDisabled, tenantID, principalID, nil))
	return nil
}

func (v *Validator) Delete(ctx context.Context, tenantID, principalID string) error {
	if err := v.store.Principals().Delete(ctx, tenantID, principalID); err != nil {
		return err
	}
	v.pub.Publish(ctx, events.New(events.UserDeleted, tenantID, principalID, nil))
	return nil
}

// IsRejection reporta si err es un rechazo de negocio (no de infraestructura).
func IsRejection(err error) bool {
	return errors.Is(err, ErrInvalidCredentials) || errors.Is(err, ErrDuplicate) ||
		errors.Is(err, ErrTenantUnavailable) || repository.IsNotFound(err)
}
