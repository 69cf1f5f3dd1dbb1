package store

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

// migrate brings a DAO's tables from the persisted version to its declared
// code version as a single transaction on one borrowed connection. Either
// the data upgrade and the version bump both land, or neither does. A
// fromVersion of 0 means no table exists yet and the DAO performs full
// creation.
func (m *Manager) migrate(dao DAO, name string, from, to int) error {
	c, err := m.pool.acquire()
	if err != nil {
		return err
	}
	defer m.pool.release(c)

	if err := c.Begin(); err != nil {
		return fmt.Errorf("migration of %s: %w: %w", name, ErrMigration, err)
	}

	log.Info().Str("dao", name).Int("from", from).Int("to", to).Msg("Migrating schema")

	err = dao.UpgradeFrom(from, c)
	if err == nil {
		err = m.registry.commit(name, to, c)
	}
	if err != nil {
		// The original migration error takes precedence; a rollback failure
		// is joined onto it rather than masking it.
		if rbErr := c.Rollback(); rbErr != nil {
			log.Error().Err(rbErr).Str("dao", name).Msg("Failed to roll back migration")
			err = errors.Join(err, rbErr)
		}
		return fmt.Errorf("migration of %s from %d to %d: %w: %w", name, from, to, ErrMigration, err)
	}

	if err := c.Commit(); err != nil {
		return fmt.Errorf("migration of %s from %d to %d: %w: %w", name, from, to, ErrMigration, err)
	}

	m.registry.store(name, to)
	log.Info().Str("dao", name).Int("version", to).Msg("Migration committed")
	return nil
}
