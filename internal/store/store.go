// Package store manages access to an embedded SQLite store on behalf of a
// set of per-entity data-access objects (DAOs). It owns a pool of pinned
// connections, lazily constructs and caches one DAO instance per type, and
// brings each DAO's backing tables up to the version the running code
// expects before any caller touches them. Holders of cached entity data
// learn about table changes through invalidation listeners.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// StoreFile is the fixed filename for the store inside the data directory.
const StoreFile = "entstore.db"

// DAO is the contract a data-access collaborator implements. The core never
// inspects a DAO beyond this interface; table schemas and queries belong to
// the DAO itself.
type DAO interface {
	// Version is the schema version the DAO's code expects. Non-negative and
	// immutable for the life of the process.
	Version() int

	// UpgradeFrom brings the DAO's tables from the given version to Version
	// using the supplied connection. A from of 0 means no table exists yet
	// and the DAO performs full creation. The statements join the manager's
	// migration transaction; the DAO must not commit or roll back itself.
	UpgradeFrom(from int, c *Conn) error

	// Bind hands the DAO a back-reference to the manager so it can borrow
	// connections with Connect/Disconnect after resolution.
	Bind(m *Manager)
}

// Descriptor identifies a DAO type: a stable name (the identity the versions
// table is keyed by) and a factory producing a fresh instance. Supplying a
// factory keeps the core free of runtime type introspection.
type Descriptor struct {
	Name string
	New  func() (DAO, error)
}

// Manager is the single entrypoint for store access. It is an explicit
// registry object: two managers share no state unless pointed at the same
// files.
//
// Get and Compatible must be called from one coordinating goroutine: DAO
// resolution is not designed for concurrent callers. Connect and Disconnect
// are safe for concurrent use, so DAOs may perform I/O off that goroutine,
// and invalidation subscribe/notify is serialized internally.
type Manager struct {
	db        *sql.DB
	path      string
	pool      *pool
	registry  *registry
	listeners *broadcaster
	daos      map[string]DAO
}

// Open creates a manager over a file-backed store inside dataDir. The store
// file is created on first use. Call Startup before resolving DAOs.
func Open(dataDir string) (*Manager, error) {
	path, err := filepath.Abs(filepath.Join(dataDir, StoreFile))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve store path: %w: %w", ErrConnection, err)
	}

	// WAL for concurrent readers, busy_timeout so writers queue instead of
	// failing. The pragmas ride on the DSN so every pinned connection gets
	// them.
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w: %w", ErrConnection, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach store: %w: %w", ErrConnection, err)
	}

	log.Debug().Str("path", path).Msg("Store opened")

	return &Manager{
		db:        db,
		path:      path,
		pool:      newPool(db),
		registry:  newRegistry(),
		listeners: newBroadcaster(),
		daos:      make(map[string]DAO),
	}, nil
}

// Path returns the absolute path of the store file.
func (m *Manager) Path() string {
	return m.path
}

// Startup creates the versions table if absent and loads the schema version
// registry. It borrows the first connection, warming the pool as a side
// effect. Safe to call again; it simply reloads.
func (m *Manager) Startup() error {
	c, err := m.pool.acquire()
	if err != nil {
		return err
	}
	defer m.pool.release(c)

	return m.registry.loadAll(c)
}

// Get resolves a DAO by descriptor. Tables are created or upgraded on first
// access; subsequent calls return the cached instance with no I/O. Resolving
// a DAO whose persisted schema is newer than its code fails with
// ErrVersionConflict.
func (m *Manager) Get(d Descriptor) (DAO, error) {
	if dao, ok := m.daos[d.Name]; ok {
		return dao, nil
	}

	dao, err := d.New()
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate %s: %w: %w", d.Name, ErrInstantiation, err)
	}
	if dao == nil {
		return nil, fmt.Errorf("failed to instantiate %s: %w: factory returned nil", d.Name, ErrInstantiation)
	}

	codeVer := dao.Version()
	dbVer := m.registry.versionOf(d.Name)

	if dbVer > codeVer {
		return nil, fmt.Errorf("%s: code declares version %d but store has %d: %w", d.Name, codeVer, dbVer, ErrVersionConflict)
	}
	if codeVer > dbVer {
		if err := m.migrate(dao, d.Name, dbVer, codeVer); err != nil {
			return nil, err
		}
	}

	dao.Bind(m)
	m.daos[d.Name] = dao
	return dao, nil
}

// Compatible reports whether a DAO can be used with the store, without
// propagating the failure. Useful as a startup probe on the
// highest-versioned DAO before committing to a full boot.
func (m *Manager) Compatible(d Descriptor) bool {
	if _, err := m.Get(d); err != nil {
		log.Debug().Err(err).Str("dao", d.Name).Msg("Compatibility probe failed")
		return false
	}
	return true
}

// Resolved returns the names of all DAOs resolved so far.
func (m *Manager) Resolved() []string {
	names := make([]string, 0, len(m.daos))
	for name := range m.daos {
		names = append(names, name)
	}
	return names
}

// Versions returns a copy of the schema version registry.
func (m *Manager) Versions() map[string]int {
	return m.registry.snapshot()
}

// Connect borrows a pooled connection. DAOs call this for their own unit of
// work and must hand the connection back with Disconnect, not close it.
func (m *Manager) Connect() (*Conn, error) {
	return m.pool.acquire()
}

// Disconnect returns a borrowed connection to the pool.
func (m *Manager) Disconnect(c *Conn) {
	m.pool.release(c)
}

// Shutdown checkpoints the store on a dedicated connection, closes every
// pooled connection and releases the engine handle. Individual failures are
// reported but do not stop the remaining steps.
func (m *Manager) Shutdown() error {
	var errs []error

	c, err := m.pool.acquire()
	if err != nil {
		log.Error().Err(err).Msg("Failed to open shutdown connection")
		errs = append(errs, err)
	} else {
		if _, err := c.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			log.Error().Err(err).Msg("Failed to checkpoint store during shutdown")
			errs = append(errs, err)
		}
		if err := c.close(); err != nil {
			errs = append(errs, err)
		}
	}

	errs = append(errs, m.pool.drain()...)

	if err := m.db.Close(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrShutdown, errors.Join(errs...))
	}
	log.Debug().Str("path", m.path).Msg("Store shut down")
	return nil
}
