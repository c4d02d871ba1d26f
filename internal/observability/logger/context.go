package logger

import (
	"context"

	"go.uber.org/zap"
)

type ctxKey struct{}

// ToContext inyecta un logger en el contexto.
func ToContext(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// From extrae el logger del contexto. Sin logger en el contexto retorna el singleton,
// así que se puede llamar desde cualquier capa.
func From(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return L()
	}
	if l, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	return L()
}

// Scoped arma el logger de un request entrante y lo deja en el contexto.
func Scoped(ctx context.Context, protocol, requestID, remote string) (context.Context, *zap.Logger) {
	l := L().With(Protocol(protocol), RequestID(requestID), RemoteAddr(remote))
	return ToContext(ctx, l), l
}
