// Package db embeds the schema migrations for every supported dialect.
package db

import "embed"

//go:embed sqlite/*.sql postgres/*.sql
var Migrations embed.FS
