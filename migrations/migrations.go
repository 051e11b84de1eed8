// Package migrations contains the SQL migrations for the permitdesk
// database.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
