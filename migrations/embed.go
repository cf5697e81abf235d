// Package migrations carries the portal's schema migrations, embedded so a
// deployed binary needs no migration files on disk.
package migrations

import "embed"

//go:embed *.sql
var Files embed.FS
