package store

import "errors"

// Sentinel errors for the manager's failure modes. Callers match them with
// errors.Is; every error returned by this package wraps exactly one of these.
var (
	// ErrConnection means the storage engine could not supply a connection.
	// Fatal to the requesting operation, not to the process.
	ErrConnection = errors.New("connection unavailable")

	// ErrInstantiation means a DAO factory failed to produce an instance.
	ErrInstantiation = errors.New("dao instantiation failed")

	// ErrVersionConflict means the persisted schema version is newer than the
	// code's declared version. The affected DAO must not be used.
	ErrVersionConflict = errors.New("database version conflict")

	// ErrMigration means an upgrade transaction could not complete. The
	// transaction was rolled back and the persisted version is unchanged.
	ErrMigration = errors.New("migration failed")

	// ErrShutdown collects failures encountered while shutting the store down.
	// Shutdown continues best-effort past individual failures.
	ErrShutdown = errors.New("shutdown incomplete")
)
