package migrations

import "embed"

// FS holds the SQL migration files applied by goose at startup.
//
//go:embed *.sql
var FS embed.FS
