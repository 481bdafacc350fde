// Package migrations embeds the forward-only goose SQL migrations applied to the SQLite database at startup.
package migrations

import "embed"

// FS holds the embedded migration files, consumed by goose.SetBaseFS in internal/store.
//
//go:embed *.sql
var FS embed.FS
