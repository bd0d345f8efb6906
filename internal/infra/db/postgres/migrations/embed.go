// Package migrations holds the goose schema migrations for the reconciler.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
