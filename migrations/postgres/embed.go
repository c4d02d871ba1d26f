// Package migrations embeds SQL migration files.
package migrations

import "embed"

// FS contiene las migraciones del esquema core, aplicadas en orden lexicográfico.
//
//go:embed core/*.sql
var FS embed.FS

// Dir is the directory within FS where migrations live.
const Dir = "core"
