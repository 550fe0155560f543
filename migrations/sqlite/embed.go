// Package sqlite embebe las migraciones SQL de SQLite.
package sqlite

import "embed"

// FS contiene las migraciones.
//
//go:embed *.sql
var FS embed.FS

// Dir es el directorio dentro de FS donde viven las migraciones.
const Dir = "."
