// Package logger expone un logger Zap singleton con scoping por contexto.
//
// Cada protocolo (HTTP, RADIUS, LDAP) inyecta un logger "scoped" en el
// contexto del request con request_id, protocol y remote_addr. Services y
// repos lo recuperan con From(ctx) sin conocer el transporte.
//
// Inicialización (una vez en cmd/idcore):
//
//	logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.Log.Level})
//	defer logger.Sync()
//
// En services:
//
//	log := logger.From(ctx).With(logger.Op("credential.login"))
//	log.Info("login ok", logger.TenantID(t), logger.PrincipalID(id))
//
// Nunca loguear passwords, tokens en claro ni secretos TOTP.
package logger
