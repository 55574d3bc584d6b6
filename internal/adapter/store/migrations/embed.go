// Package migrations embeds the SQL schema of the relational stores.
package migrations

import "embed"

// SQLite holds the SQLite migrations.
//
//go:embed sqlite/*.sql
var SQLite embed.FS

// Postgres holds the Postgres migrations.
//
//go:embed postgres/*.sql
var Postgres embed.FS
