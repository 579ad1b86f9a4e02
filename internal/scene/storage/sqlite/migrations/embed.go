// Package migrations embeds the SQL schema files for the governance store.
package migrations

import "embed"

// FS holds every .sql migration in this directory.
//
//go:embed *.sql
var FS embed.FS
