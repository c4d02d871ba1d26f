// Package mfa implementa el segundo factor: TOTP (RFC 6238) y códigos de respaldo.
//
// Estados del principal:
//
//	Unenrolled --GenerateSetup--> SetupPending --VerifyAndEnable--> Enabled --Disable--> Unenrolled
//
// GenerateSetup en SetupPending regenera el secreto (el anterior queda inválido).
package mfa

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dropDatabas3/idcore/internal/domain/repository"
	"github.com/dropDatabas3/idcore/internal/events"
	"github.com/dropDatabas3/idcore/internal/observability/logger"
	"github.com/dropDatabas3/idcore/internal/security/secretbox"
	tokens "github.com/dropDatabas3/idcore/internal/security/token"
	"github.com/dropDatabas3/idcore/internal/security/totp"
)

const (
	BackupCodeCount   = 10
	backupCodeLen     = 10
	backupAlphabet    = "abcdefghjkmnpqrstuvwxyz23456789"
	DefaultWindow     = 1
	DefaultIssuerName = "idcore"
)

var (
	ErrNotEnabled     = errors.New("mfa: not enabled")
	ErrAlreadyEnabled = errors.New("mfa: already enabled")
)

type State string

const (
	StateUnenrolled   State = "unenrolled"
	StateSetupPending State = "setup_pending"
	StateEnabled      State = "enabled"
)

func stateOf(p *repository.Principal) State {
	switch {
	case p.MFAEnabled:
		return StateEnabled
	case p.TOTPSecret != nil:
		return StateSetupPending
	}
	return StateUnenrolled
}

// Setup es lo que se muestra una sola vez al usuario para enrolar su app.
type Setup struct {
	Secret     string `json:"secret"`
	OTPAuthURL string `json:"otpauth_url"`
}

type Options struct {
	Issuer    string
	Window    int
	Publisher events.Publisher
	Now       func() time.Time
}

type Engine struct {
	store  repository.Store
	box    *secretbox.Box
	issuer string
	window int
	pub    events.Publisher
	now    func() time.Time
}

// NewEngine: los secretos TOTP se guardan cifrados con box.
func NewEngine(store repository.Store, box *secretbox.Box, opt Options) *Engine {
	e := &Engine{store: store, box: box, issuer: opt.Issuer, window: opt.Window, pub: opt.Publisher, now: opt.Now}
	if e.issuer == "" {
		e.issuer = DefaultIssuerName
	}
	if e.window <= 0 {
		e.window = DefaultWindow
	}
	if e.pub == nil {
		e.pub = events.Nop{}
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

func (e *Engine) State(ctx context.Context, tenantID, principalID string) (State, error) {
	p, err := e.store.Principals().GetByID(ctx, tenantID, principalID)
	if err != nil {
		return "", err
	}
	return stateOf(p), nil
}

// GenerateSetup crea (o regenera) el secreto pendiente. ErrNotFound si el
// principal no existe. Con MFA ya activo no regenera: devuelve
// ErrAlreadyEnabled y el secreto vigente sigue valiendo; para re-enrolar hay
// que pasar antes por Disable.
func (e *Engine) GenerateSetup(ctx context.Context, tenantID, principalID string) (*Setup, error) {
	p, err := e.store.Principals().GetByID(ctx, tenantID, principalID)
	if err != nil {
		return nil, err
	}
	if p.MFAEnabled {
		return nil, ErrAlreadyEnabled
	}
	_, b32, err := totp.GenerateSecret()
	if err != nil {
		return nil, err
	}
	sealed, err := e.box.Encrypt(b32)
	if err != nil {
		return nil, fmt.Errorf("mfa: encrypt secret: %w", err)
	}
	if err := e.store.Principals().SetTOTP(ctx, tenantID, principalID, &sealed, false); err != nil {
		return nil, err
	}
	account := p.Email
	if account == "" {
		account = p.Username
	}
	return &Setup{Secret: b32, OTPAuthURL: totp.OTPAuthURL(e.issuer, account, b32)}, nil
}

func (e *Engine) secret(p *repository.Principal) ([]byte, error) {
	if p.TOTPSecret == nil {
		return nil, errors.New("mfa: no secret")
	}
	b32, err := e.box.Decrypt(*p.TOTPSecret)
	if err != nil {
		return nil, err
	}
	return totp.DecodeSecret(b32)
}

// VerifyAndEnable confirma el setup pendiente. Un código inválido deja el
// estado en SetupPending y devuelve false.
func (e *Engine) VerifyAndEnable(ctx context.Context, tenantID, principalID, code string) (bool, error) {
	p, err := e.store.Principals().GetByID(ctx, tenantID, principalID)
	if err != nil {
		if repository.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	if stateOf(p) != StateSetupPending {
		return false, nil
	}
	raw, err := e.secret(p)
	if err != nil {
		logger.From(ctx).Warn("mfa pending secret unreadable", logger.PrincipalID(p.ID), logger.Err(err))
		return false, nil
	}
	ok, counter := totp.Verify(raw, code, e.now(), e.window, nil)
	if !ok {
		return false, nil
	}
	err = e.store.WithTx(ctx, func(tx repository.Store) error {
		if err := tx.Principals().SetTOTP(ctx, tenantID, principalID, p.TOTPSecret, true); err != nil {
			return err
		}
		_, err := tx.Principals().AdvanceTOTPCounter(ctx, tenantID, principalID, counter)
		return err
	})
	if err != nil {
		return false, err
	}
	logger.From(ctx).Info("mfa enabled", logger.TenantID(tenantID), logger.PrincipalID(principalID))
	e.pub.Publish(ctx, events.New(events.UserModified, tenantID, principalID, map[string]any{"change": "mfa_enabled"}))
	return true, nil
}

// VerifyCode valida un TOTP de un principal con MFA activo. Cada paso de 30s
// se acepta una sola vez aunque lleguen requests concurrentes.
func (e *Engine) VerifyCode(ctx context.Context, tenantID, principalID, code string) (bool, error) {
	p, err := e.enabled(ctx, tenantID, principalID)
	if err != nil || p == nil {
		return false, err
	}
	raw, err := e.secret(p)
	if err != nil {
		logger.From(ctx).Warn("mfa secret unreadable", logger.PrincipalID(p.ID), logger.Err(err))
		return false, nil
	}
	ok, counter := totp.Verify(raw, code, e.now(), e.window, p.TOTPLastCounter)
	if !ok {
		return false, nil
	}
	return e.store.Principals().AdvanceTOTPCounter(ctx, tenantID, principalID, counter)
}

// enabled devuelve nil sin error si el principal no existe o no tiene MFA activo.
func (e *Engine) enabled(ctx context.Context, tenantID, principalID string) (*repository.Principal, error) {
	p, err := e.store.Principals().GetByID(ctx, tenantID, principalID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if !p.MFAEnabled {
		return nil, nil
	}
	return p, nil
}

// GenerateBackupCodes invalida el set anterior y devuelve BackupCodeCount
// códigos nuevos en claro (solo se guardan hasheados).
func (e *Engine) GenerateBackupCodes(ctx context.Context, tenantID, principalID string) ([]string, error) {
	p, err := e.store.Principals().GetByID(ctx, tenantID, principalID)
	if err != nil {
		return nil, err
	}
	if !p.MFAEnabled {
		return nil, ErrNotEnabled
	}
	codes := make([]string, BackupCodeCount)
	hashes := make([]string, BackupCodeCount)
	for i := range codes {
		c, err := newBackupCode()
		if err != nil {
			return nil, err
		}
		codes[i] = c
		hashes[i] = tokens.SHA256Base64URL(normalizeBackupCode(c))
	}
	// borrar el set viejo e insertar el nuevo es todo o nada
	err = e.store.WithTx(ctx, func(tx repository.Store) error {
		return tx.MFA().ReplaceBackupCodes(ctx, tenantID, principalID, hashes, e.now().UTC())
	})
	if err != nil {
		return nil, err
	}
	return codes, nil
}

// VerifyBackupCode consume un código de respaldo. Cada código sirve una vez.
func (e *Engine) VerifyBackupCode(ctx context.Context, tenantID, principalID, code string) (bool, error) {
	p, err := e.enabled(ctx, tenantID, principalID)
	if err != nil || p == nil {
		return false, err
	}
	n := normalizeBackupCode(code)
	if len(n) != backupCodeLen {
		return false, nil
	}
	ok, err := e.store.MFA().ConsumeBackupCode(ctx, tenantID, principalID, tokens.SHA256Base64URL(n), e.now().UTC())
	if err != nil {
		return false, err
	}
	if ok {
		logger.From(ctx).Info("mfa backup code used", logger.TenantID(tenantID), logger.PrincipalID(principalID))
	}
	return ok, nil
}

func (e *Engine) RemainingBackupCodes(ctx context.Context, tenantID, principalID string) (int, error) {
	return e.store.MFA().CountUnusedBackupCodes(ctx, tenantID, principalID)
}

// Disable borra secreto, flag y códigos, y revoca los refresh tokens. Idempotente.
func (e *Engine) Disable(ctx context.Context, tenantID, principalID string) error {
	var was State
	err := e.store.WithTx(ctx, func(tx repository.Store) error {
		p, err := tx.Principals().GetByID(ctx, tenantID, principalID)
		if err != nil {
			return err
		}
		was = stateOf(p)
		if was == StateUnenrolled {
			return nil
		}
		if err := tx.Principals().SetTOTP(ctx, tenantID, principalID, nil, false); err != nil {
			return err
		}
		if err := tx.MFA().DeleteBackupCodes(ctx, tenantID, principalID); err != nil {
			return err
		}
		_, err = tx.Tokens().RevokeByPrincipal(ctx, tenantID, principalID, e.now().UTC())
		return err
	})
	if err != nil {
		return err
	}
	if was == StateEnabled {
		logger.From(ctx).Info("mfa disabled", logger.TenantID(tenantID), logger.PrincipalID(principalID))
		e.pub.Publish(ctx, events.New(events.UserModified, tenantID, principalID, map[string]any{"change": "mfa_disabled"}))
	}
	return nil
}

func newBackupCode() (string, error) {
	buf := make([]byte, backupCodeLen)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, 0, backupCodeLen+1)
	for i, b := range buf {
		if i == backupCodeLen/2 {
			out = append(out, '-')
		}
		// 256 % 31 != 0: el sesgo es despreciable para códigos de un solo uso
		out = append(out, backupAlphabet[int(b)%len(backupAlphabet)])
	}
	return string(out), nil
}

func normalizeBackupCode(c string) string {
	return strings.ToLower(strings.NewReplacer("-", "", " ", "").Replace(strings.TrimSpace(c)))
}
