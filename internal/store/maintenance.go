package store

import "fmt"

// Optimize refreshes the engine's query planner statistics.
func (m *Manager) Optimize() error {
	c, err := m.pool.acquire()
	if err != nil {
		return err
	}
	defer m.pool.release(c)

	if _, err := c.Exec("PRAGMA optimize"); err != nil {
		return fmt.Errorf("failed to optimize store: %w", err)
	}
	return nil
}

// Vacuum rebuilds the store file to reclaim unused space.
func (m *Manager) Vacuum() error {
	c, err := m.pool.acquire()
	if err != nil {
		return err
	}
	defer m.pool.release(c)

	if _, err := c.Exec("VACUUM"); err != nil {
		return fmt.Errorf("failed to vacuum store: %w", err)
	}
	return nil
}

// Checkpoint flushes the write-ahead log into the main store file.
func (m *Manager) Checkpoint() error {
	c, err := m.pool.acquire()
	if err != nil {
		return err
	}
	defer m.pool.release(c)

	if _, err := c.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("failed to checkpoint store: %w", err)
	}
	return nil
}
