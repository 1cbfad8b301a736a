// Package db holds the schema migrations for the postgres queue backend.
package db

import "embed"

// Migrations contains the golang-migrate files under migrations/.
//
//go:embed migrations/*.sql
var Migrations embed.FS
