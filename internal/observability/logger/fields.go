package logger

import (
	"time"

	"go.uber.org/zap"
)

// ---- transporte ----

func RequestID(v string) zap.Field { return zap.String("request_id", v) }

// Protocol: http | radius | ldap | cli.
func Protocol(v string) zap.Field { return zap.String("protocol", v) }

func RemoteAddr(v string) zap.Field { return zap.String("remote_addr", v) }

func Method(v string) zap.Field { return zap.String("method", v) }

func Path(v string) zap.Field { return zap.String("path", v) }

func Status(v int) zap.Field { return zap.Int("status", v) }

func Duration(v time.Duration) zap.Field { return zap.Duration("duration", v) }

// PacketCode registra el código RADIUS (Access-Request, Accounting-Request...).
func PacketCode(v string) zap.Field { return zap.String("packet_code", v) }

// ---- negocio ----

func TenantID(v string) zap.Field { return zap.String("tenant_id", v) }

func PrincipalID(v string) zap.Field { return zap.String("principal_id", v) }

// Username se loguea tal cual lo envió el cliente (ya sin realm).
func Username(v string) zap.Field { return zap.String("username", v) }

// Realm es el sufijo @realm de un identificador compuesto.
func Realm(v string) zap.Field { return zap.String("realm", v) }

func ClientID(v string) zap.Field { return zap.String("client_id", v) }

// TokenKind: authorization_code | refresh_token | mfa_challenge | access_token.
func TokenKind(v string) zap.Field { return zap.String("token_kind", v) }

// Reason es el motivo (no sensible) de un rechazo.
func Reason(v string) zap.Field { return zap.String("reason", v) }

func Event(v string) zap.Field { return zap.String("event", v) }

// ---- sistema ----

func Component(v string) zap.Field { return zap.String("component", v) }

func Op(v string) zap.Field { return zap.String("op", v) }

func Err(err error) zap.Field { return zap.Error(err) }

func Count(v int) zap.Field { return zap.Int("count", v) }

func Any(key string, v any) zap.Field { return zap.Any(key, v) }

func String(key, v string) zap.Field { return zap.String(key, v) }

func Bool(key string, v bool) zap.Field { return zap.Bool(key, v) }
