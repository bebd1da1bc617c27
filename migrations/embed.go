// Package migrations embeds the SQL schema files so the migrate
// binary can run them without access to the source tree.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
