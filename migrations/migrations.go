// Package migrations embeds the SQL schema so binaries can apply it without
// shipping the directory alongside them.
package migrations

import "embed"

// FS holds every *.up.sql and *.down.sql pair in this directory.
//
//go:embed *.sql
var FS embed.FS
