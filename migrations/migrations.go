// Package migrations embeds the SQL migration files so the binary can run
// them at startup without a migrations directory on disk.
package migrations

import "embed"

//go:embed postgres/*.sql
var FS embed.FS
