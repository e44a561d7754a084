package migrations

import "embed"

// MigrationsFS holds the archive schema migrations compiled into the binary.
//
//go:embed *.sql
var MigrationsFS embed.FS
