package writer

import (
	"embed"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/pkg/errors"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrate runs every pending migration under migrations/ against dbURI.
// Migrations are embedded into the binary via go:embed rather than read
// off disk, so the daemon carries its own schema.
func Migrate(dbURI string) error {
	sourceDriver, err := iofs.New(mustSubFS(migrationFiles, "migrations"), ".")
	if err != nil {
		return errors.Wrap(err, "loading embedded migrations")
	}

	m, err := migrate.NewWithSourceInstance("iofs", sourceDriver, dbURI)
	if err != nil {
		return errors.Wrap(err, "constructing migrator")
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return errors.Wrap(err, "running migrations")
	}
	return nil
}

func mustSubFS(f embed.FS, dir string) fs.FS {
	sub, err := fs.Sub(f, dir)
	if err != nil {
		panic(err)
	}
	return sub
}
