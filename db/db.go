// Package db embeds the SQL migrations so binaries can migrate without a
// checkout of the repository.
package db

import "embed"

// Migrations holds the goose migration files under migrations/.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsRoot is the directory inside Migrations that holds the files.
const MigrationsRoot = "migrations"
