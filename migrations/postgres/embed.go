// Package migrations embeds SQL migration files.
package migrations

import "embed"

// FS contiene las migraciones del adapter postgres, aplicadas en orden léxico.
//
//go:embed *.sql
var FS embed.FS
