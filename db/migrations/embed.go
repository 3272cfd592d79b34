// Package dbmigrations exposes embedded SQL migrations for agent binaries.
package dbmigrations

import "embed"

// Files contains the embedded SQL migrations bundled into agent binaries.
//
//go:embed *.sql
var Files embed.FS
