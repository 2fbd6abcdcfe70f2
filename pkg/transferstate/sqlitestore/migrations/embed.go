package migrations

import "embed"

// FS holds the transfer state schema migrations.
//
//go:embed *.sql
var FS embed.FS
