// Package migrations embeds the SQL migrations so the binaries can apply
// them without a migrations directory next to the executable.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
