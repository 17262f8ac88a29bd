// Package migrations embeds the SQL schema for the receiver state cache and
// state history so the binary can migrate its database without files on disk.
package migrations

import "embed"

// FS holds every *.sql file in this directory at the root of the filesystem.
//
//go:embed *.sql
var FS embed.FS
