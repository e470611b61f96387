// Package assets embeds the SQL migrations of the model tables, one directory
// per engine.
package assets

import (
	"embed"
	"io/fs"
	"path"
)

//go:embed migrations/*
var migrations embed.FS

// Migrations returns the migration files of engine ("sqlite", "postgres" or
// "mysql").
func Migrations(engine string) (fs.FS, error) {
	return fs.Sub(migrations, path.Join("migrations", engine))
}
