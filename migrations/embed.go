// Package migrations carries the engine store schema. The SQL files are
// embedded so a deployed binary can migrate its store without shipping the
// directory alongside it.
package migrations

import "embed"

//go:embed *.sql
var Files embed.FS
