package store

import (
	"fmt"

	"github.com/rs/zerolog/log"
)

// The reserved versions table maps DAO name to last-migrated schema version.
// At most one row per DAO exists at any time, enforced by delete-then-insert
// on update rather than a uniqueness constraint.
const versionsSchema = `CREATE TABLE IF NOT EXISTS versions (dao VARCHAR(255), version INTEGER)`

// registry is the in-memory mirror of the persisted versions table. It is
// loaded once at startup and updated only after a migration transaction has
// committed, never speculatively.
type registry struct {
	versions map[string]int
}

func newRegistry() *registry {
	return &registry{versions: make(map[string]int)}
}

// loadAll creates the versions table if absent and (re)loads the full mapping
// from the given connection. Calling it twice simply reloads.
func (r *registry) loadAll(c *Conn) error {
	if _, err := c.Exec(versionsSchema); err != nil {
		return fmt.Errorf("failed to create versions table: %w", err)
	}

	rows, err := c.Query("SELECT dao, version FROM versions")
	if err != nil {
		return fmt.Errorf("failed to load versions table: %w", err)
	}
	defer rows.Close()

	loaded := make(map[string]int)
	for rows.Next() {
		var name string
		var version int
		if err := rows.Scan(&name, &version); err != nil {
			return fmt.Errorf("failed to scan version row: %w", err)
		}
		loaded[name] = version
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read versions table: %w", err)
	}

	r.versions = loaded
	log.Debug().Int("daos", len(loaded)).Msg("Loaded schema version registry")
	return nil
}

// versionOf returns the recorded version for a DAO name. 0 means the table
// for that DAO has not been created yet.
func (r *registry) versionOf(name string) int {
	return r.versions[name]
}

// commit replaces the stored version for name on the caller's connection.
// The statements join the caller's open transaction and are never committed
// independently; the in-memory mirror is updated separately via store once
// that transaction lands.
func (r *registry) commit(name string, version int, c *Conn) error {
	if _, err := c.Exec("DELETE FROM versions WHERE dao = ?", name); err != nil {
		return fmt.Errorf("failed to clear version for %s: %w", name, err)
	}
	if _, err := c.Exec("INSERT INTO versions (dao, version) VALUES (?, ?)", name, version); err != nil {
		return fmt.Errorf("failed to record version for %s: %w", name, err)
	}
	return nil
}

// store updates the in-memory mirror after a successful commit.
func (r *registry) store(name string, version int) {
	r.versions[name] = version
}

// snapshot returns a copy of the mapping for inspection surfaces.
func (r *registry) snapshot() map[string]int {
	out := make(map[string]int, len(r.versions))
	for name, version := range r.versions {
		out[name] = version
	}
	return out
}
