// Package repository define las entidades de dominio y los contratos de
// persistencia del core de identidad.
//
// Las implementaciones viven en internal/store/memory (tests, dev) e
// internal/store/pg (PostgreSQL).
//
//	┌────────────────────────────────────────────┐
//	│ credential / mfa / sectoken / tenancy / ... │
//	└────────────────────────────────────────────┘
//	                     │
//	                     ▼
//	┌────────────────────────────────────────────┐
//	│    domain/repository (Store + interfaces)   │
//	└────────────────────────────────────────────┘
//	           │                       │
//	           ▼                       ▼
//	   store/memory             store/pg (pgx)
//
// Convenciones:
//   - Context siempre es el primer parámetro.
//   - Toda fila de un tenant se consulta con su TenantID explícito; una query
//     de T1 nunca devuelve filas de T2 aunque coincidan nombres.
//   - Duplicados devuelven ErrConflict (el unique constraint del store manda,
//     los pre-checks de la aplicación son orientativos).
//   - Ausencia devuelve ErrNotFound.
package repository
