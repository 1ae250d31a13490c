package migrations

import "embed"

// FS contains embedded SQLite migrations for funding storage.
//
//go:embed *.sql
var FS embed.FS
