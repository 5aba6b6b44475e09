// Package migrations embeds the SQL schema files.
package migrations

import "embed"

//go:embed *.up.sql
var FS embed.FS
