// Package appfs embeds the files the binaries need at runtime: SQL migrations, email templates
// and the default catalog seed.
package appfs

import "embed"

const (
	MigrationsDir     = "migrations"
	EmailTemplatesDir = "templates/email"
	DefaultSeedFile   = "seeds/modules.yaml"
)

//go:embed migrations/*.sql templates/email/* seeds/*.yaml
var FS embed.FS
