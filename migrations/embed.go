// Package migrations embeds the bridge's SQL migration files into the binary.
//
// Importing this package for side effects registers the files with the
// database package, so Migrate works without the SQL on disk.
package migrations

import (
	"embed"

	"github.com/nerrad567/gray-logic-nad/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
