package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Conn is a single pinned connection to the storage engine. A Conn is owned
// exclusively by whoever currently holds it: either the pool (idle) or one
// borrower. It starts in auto-commit mode; Begin switches it to
// manual-transaction mode until Commit or Rollback.
type Conn struct {
	raw *sql.Conn
	tx  *sql.Tx // non-nil while in manual-transaction mode

	// broken is set when the engine fails to finalize a transaction; the
	// pool discards such connections instead of reusing them.
	broken bool
}

// Exec runs a statement on the connection. While a transaction is open the
// statement joins it; otherwise it auto-commits.
func (c *Conn) Exec(query string, args ...any) (sql.Result, error) {
	if c.tx != nil {
		return c.tx.ExecContext(context.Background(), query, args...)
	}
	return c.raw.ExecContext(context.Background(), query, args...)
}

// Query runs a query on the connection.
func (c *Conn) Query(query string, args ...any) (*sql.Rows, error) {
	if c.tx != nil {
		return c.tx.QueryContext(context.Background(), query, args...)
	}
	return c.raw.QueryContext(context.Background(), query, args...)
}

// QueryRow runs a single-row query on the connection.
func (c *Conn) QueryRow(query string, args ...any) *sql.Row {
	if c.tx != nil {
		return c.tx.QueryRowContext(context.Background(), query, args...)
	}
	return c.raw.QueryRowContext(context.Background(), query, args...)
}

// Begin switches the connection to manual-transaction mode.
func (c *Conn) Begin() error {
	if c.tx != nil {
		return fmt.Errorf("transaction already open")
	}
	tx, err := c.raw.BeginTx(context.Background(), nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	c.tx = tx
	return nil
}

// Commit finalizes the open transaction and returns the connection to
// auto-commit mode.
func (c *Conn) Commit() error {
	if c.tx == nil {
		return fmt.Errorf("no open transaction")
	}
	err := c.tx.Commit()
	c.tx = nil
	if err != nil {
		c.broken = true
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Rollback discards the open transaction and returns the connection to
// auto-commit mode.
func (c *Conn) Rollback() error {
	if c.tx == nil {
		return fmt.Errorf("no open transaction")
	}
	err := c.tx.Rollback()
	c.tx = nil
	if err != nil {
		c.broken = true
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
	return nil
}

// InTransaction reports whether the connection is in manual-transaction mode.
func (c *Conn) InTransaction() bool {
	return c.tx != nil
}

// close releases the underlying engine connection. Only the pool calls this;
// borrowers return connections with Manager.Disconnect.
func (c *Conn) close() error {
	if c.tx != nil {
		// Closing with an open transaction rolls it back engine-side.
		_ = c.tx.Rollback()
		c.tx = nil
	}
	return c.raw.Close()
}
