// Package migrations embeds the goose SQL migrations for the auth
// database schema, grounded on the table/column shapes in
// original_source/src/database/DB/LoginDatabase.h ported to PostgreSQL.
package migrations

import "embed"

// FS holds the embedded *.sql migration files, handed to goose.SetBaseFS
// by internal/logindb.
//
//go:embed *.sql
var FS embed.FS
