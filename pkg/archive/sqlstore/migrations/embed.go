// Package migrations holds the postgres schema for archive entries.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
