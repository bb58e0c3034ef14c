// Package migrations embeds the SQL migration files applied when the
// direct-connection audit sink is configured. Embedding keeps the files
// available regardless of working directory.
package migrations

import "embed"

// FS is the embedded migrations filesystem, holding all .sql files in
// this directory.
//
//go:embed *.sql
var FS embed.FS
