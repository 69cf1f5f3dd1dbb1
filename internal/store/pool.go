package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// pool manages the idle connection set. Pooling exists purely to amortize
// connection setup cost; the pool imposes no transaction semantics of its own
// beyond defensive cleanup on release. It is safe for concurrent use: a
// connection is either idle in the pool or checked out to exactly one
// borrower, never both.
type pool struct {
	db *sql.DB // engine handle; hands out pinned connections

	mu   sync.Mutex
	idle []*Conn
}

func newPool(db *sql.DB) *pool {
	return &pool{db: db}
}

// acquire returns an idle connection, or pins a fresh one from the engine
// when the pool is empty.
func (p *pool) acquire() (*Conn, error) {
	p.mu.Lock()
	if n := len(p.idle); n > 0 {
		c := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()

	raw, err := p.db.Conn(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to open connection: %w: %w", ErrConnection, err)
	}
	return &Conn{raw: raw}, nil
}

// release returns a connection to the idle set. A connection handed back in
// manual-transaction mode is a borrower bug: the leftover transaction is
// rolled back and the connection reset before reuse. A connection the engine
// reports broken is discarded instead of poisoning the pool; discard failures
// are logged and swallowed since the connection is being abandoned anyway.
func (p *pool) release(c *Conn) {
	if c == nil {
		return
	}

	if c.InTransaction() {
		log.Warn().Msg("Connection released with an open transaction; rolling back")
		if err := c.Rollback(); err != nil {
			log.Warn().Err(err).Msg("Rollback failed on release")
		}
	}

	// A connection whose transaction the engine failed to finalize is beyond
	// repair; abandon it rather than poisoning the pool.
	if c.broken {
		log.Warn().Msg("Discarding broken connection")
		if cerr := c.close(); cerr != nil {
			log.Debug().Err(cerr).Msg("Failed to close discarded connection")
		}
		return
	}

	p.mu.Lock()
	p.idle = append(p.idle, c)
	p.mu.Unlock()
}

// drain closes every idle connection, continuing past individual failures.
// Used during shutdown.
func (p *pool) drain() []error {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	var errs []error
	for _, c := range idle {
		if err := c.close(); err != nil {
			log.Error().Err(err).Msg("Failed to close pooled connection")
			errs = append(errs, err)
		}
	}
	return errs
}

// idleCount reports how many connections are idle in the pool.
func (p *pool) idleCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}
