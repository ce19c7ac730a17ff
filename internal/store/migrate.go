package store

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/matheus3301/nearby/internal/store/migrations"
)

// MigrateResult reports the cache schema before and after Migrate.
type MigrateResult struct {
	From     uint
	Version  uint
	Changed  bool
	Repaired bool
}

// Migrate brings the local cache schema up to date. Every up script is
// idempotent, so a migration left dirty by a crash is forced back one step
// and applied again instead of wedging the account.
func (db *DB) Migrate() (*MigrateResult, error) {
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("open cache schema: %w", err)
	}
	driver, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	if err != nil {
		return nil, fmt.Errorf("cache schema driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return nil, fmt.Errorf("cache schema: %w", err)
	}

	result := &MigrateResult{}
	from, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
	case err != nil:
		return nil, fmt.Errorf("read cache schema version: %w", err)
	case dirty:
		prev := -1
		if p, err := source.Prev(from); err == nil {
			prev = int(p)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("repair cache schema %d: %w", from, err)
		}
		if err := m.Force(prev); err != nil {
			return nil, fmt.Errorf("repair cache schema %d: %w", from, err)
		}
		result.Repaired = true
		from = uint(max(prev, 0))
	}
	result.From = from

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return nil, fmt.Errorf("upgrade cache schema from %d: %w", from, err)
	}
	result.Version, _, _ = m.Version()
	result.Changed = result.Version != from || result.Repaired
	return result, nil
}
